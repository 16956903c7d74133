package core

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"dmcast/internal/broadcast"
	"dmcast/internal/dmlog"
	"dmcast/internal/roster"
	"dmcast/internal/storage"
	kit "dmcast/internal/transport"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeAdapter struct {
	mu      sync.Mutex
	posts   []string
	direct  map[int64][]string
	failDM  map[int64]bool
	isAdmin bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{direct: map[int64][]string{}, failDM: map[int64]bool{}}
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                     { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.posts = append(a.posts, text)
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) SendDirect(_ context.Context, userID int64, text string) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failDM[userID] {
		return kit.MessageRef{}, context.DeadlineExceeded
	}
	a.direct[userID] = append(a.direct[userID], text)
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) HasAdministrator(context.Context, int64, int64) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isAdmin, nil
}

func (a *fakeAdapter) postsSnapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.posts...)
}

func (a *fakeAdapter) directCount(userID int64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.direct[userID])
}

// waitForPost polls until a post containing want shows up.
func (a *fakeAdapter) waitForPost(t *testing.T, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range a.postsSnapshot() {
			if strings.Contains(p, want) {
				return p
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no post containing %q; posts: %v", want, a.postsSnapshot())
	return ""
}

type testEnv struct {
	ad      *fakeAdapter
	cmdm    *CommandManager
	updates chan kit.Update
}

func newTestEnv(t *testing.T, owners []int64) *testEnv {
	t.Helper()
	log := newDiscardLogger()
	ad := newFakeAdapter()
	store := storage.NewMemory()
	rst := roster.New(store, log)
	dml := dmlog.New(store, log)
	bcast := broadcast.New(broadcast.Config{
		Enabled:      true,
		MessageDelay: time.Millisecond,
		Cooldown:     time.Millisecond,
		BatchLimit:   1000,
		QueueSize:    4,
	}, ad, dml, store, log)
	if err := bcast.Start(context.Background()); err != nil {
		t.Fatalf("broadcast start: %v", err)
	}

	serv := &Services{Broadcast: bcast, Roster: rst, DMLog: dml}
	cmdm := NewCommandManager(log, ad, rst, serv, owners)
	cmdm.SetRegistry(commandSet())

	updates := make(chan kit.Update, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cmdm.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = bcast.Stop(stopCtx)
	})
	return &testEnv{ad: ad, cmdm: cmdm, updates: updates}
}

func (e *testEnv) send(text string, fromID int64) {
	e.updates <- kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID:  -100,
			FromID:  fromID,
			Text:    text,
			IsGroup: true,
		},
	}
}

func (e *testEnv) join(userID int64, username, name string) {
	e.updates <- kit.Update{
		Kind: kit.UpdateMemberJoin,
		Member: &kit.MemberEvent{
			ChatID: -100,
			User:   kit.User{ID: userID, Username: username, Name: name},
		},
	}
}

func TestPingIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.send("/PING@SomeBot", 1)
	env.ad.waitForPost(t, "pong")
}

func TestUnknownCommandStaysQuiet(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.send("/frobnicate", 1)
	env.send("/ping", 1) // sentinel: processed after the unknown command
	env.ad.waitForPost(t, "pong")

	if posts := env.ad.postsSnapshot(); len(posts) != 1 {
		t.Fatalf("got %d posts, want only the pong: %v", len(posts), posts)
	}
}

func TestAdminCommandRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil) // no owners, adapter says not admin
	env.send("/sendmessage big announcement", 5)
	env.ad.waitForPost(t, "You do not have permission to use this command.")

	time.Sleep(20 * time.Millisecond)
	if n := env.ad.directCount(5); n != 0 {
		t.Fatalf("rejected command still delivered %d messages", n)
	}
}

func TestOwnerBypassesAdminLookup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{7})
	env.send("/sendmessage", 7)
	env.ad.waitForPost(t, "Please provide a message to send.")
}

func TestChatAdminAllowed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.ad.mu.Lock()
	env.ad.isAdmin = true
	env.ad.mu.Unlock()
	env.send("/sendmessage", 5)
	env.ad.waitForPost(t, "Please provide a message to send.")
}

func TestSendMessageToUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{7})
	env.join(1, "alice", "Alice")
	env.send("/sendmessagetouser @alice hello  there", 7)
	env.ad.waitForPost(t, "Message sent to @alice.")
	if n := env.ad.directCount(1); n != 1 {
		t.Fatalf("user got %d messages, want 1", n)
	}
}

func TestSendMessageToUserMissingArgs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{7})
	env.send("/sendmessagetouser", 7)
	env.ad.waitForPost(t, "Please mention a user or provide a user ID.")

	env.send("/sendmessagetouser @alice", 7)
	env.ad.waitForPost(t, "Please provide a message to send.")
}

func TestSendMessageToUserDeliveryFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{7})
	env.join(1, "alice", "Alice")
	env.ad.mu.Lock()
	env.ad.failDM[1] = true
	env.ad.mu.Unlock()

	env.send("/sendmessagetouser @alice hi", 7)
	env.ad.waitForPost(t, "Failed to send message to @alice.")
}

func TestSendMessageBroadcasts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{7})
	env.join(1, "alice", "Alice")
	env.join(2, "bob", "Bob")
	env.send("/sendmessage meeting at noon", 7)
	env.ad.waitForPost(t, "Sending message to 2 members.")
	env.ad.waitForPost(t, "Message sent to all members")

	for _, id := range []int64{1, 2} {
		if n := env.ad.directCount(id); n != 1 {
			t.Fatalf("user %d got %d messages, want 1", id, n)
		}
	}
}

func TestSendMessageRequiresGroup(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, []int64{7})
	env.updates <- kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID:  7,
			FromID:  7,
			Text:    "/sendmessage hi",
			IsGroup: false,
		},
	}
	env.ad.waitForPost(t, "This command only works in a group chat.")
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.send("/help", 1)
	text := env.ad.waitForPost(t, "Available commands:")
	for _, want := range []string{"/ping", "/sendmessage", "/sendmessagetouser", "/sendmessagetoall"} {
		if !strings.Contains(text, want) {
			t.Errorf("help output missing %s:\n%s", want, text)
		}
	}
}
