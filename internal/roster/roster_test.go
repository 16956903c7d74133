package roster

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"dmcast/internal/storage"
	kit "dmcast/internal/transport"
)

func newTestService() *Service {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(storage.NewMemory(), log)
}

func groupMessage(chatID, fromID int64, username, name string) kit.Update {
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ChatID:       chatID,
			FromID:       fromID,
			FromUsername: username,
			FromName:     name,
			Text:         "anything",
			IsGroup:      true,
		},
	}
}

func TestObserveAccumulatesMembers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestService()

	s.Observe(ctx, groupMessage(-100, 1, "alice", "Alice"))
	s.Observe(ctx, kit.Update{
		Kind: kit.UpdateMemberJoin,
		Member: &kit.MemberEvent{
			ChatID: -100,
			User:   kit.User{ID: 2, Username: "bob", Name: "Bob"},
		},
	})
	// repeat message must not duplicate
	s.Observe(ctx, groupMessage(-100, 1, "alice", "Alice"))

	members, err := s.Members(ctx, -100)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("got %d members, want 2", len(members))
	}
	if members[0].ID != 1 || members[1].ID != 2 {
		t.Fatalf("unexpected order: %+v", members)
	}
}

func TestObserveIgnoresPrivateMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestService()

	up := groupMessage(55, 55, "carol", "Carol")
	up.Message.IsGroup = false
	s.Observe(ctx, up)

	members, err := s.Members(ctx, 55)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Fatalf("private message added %d members, want 0", len(members))
	}
}

func TestObserveLeaveRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestService()

	s.Observe(ctx, groupMessage(-100, 1, "alice", "Alice"))
	s.Observe(ctx, kit.Update{
		Kind:   kit.UpdateMemberLeave,
		Member: &kit.MemberEvent{ChatID: -100, User: kit.User{ID: 1}},
	})

	members, err := s.Members(ctx, -100)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Fatalf("got %d members after leave, want 0", len(members))
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestService()
	s.Observe(ctx, groupMessage(-100, 1, "alice", "Alice"))

	u, ok, err := s.Resolve(ctx, -100, "@alice")
	if err != nil || !ok {
		t.Fatalf("Resolve(@alice) = %v ok=%v", err, ok)
	}
	if u.ID != 1 {
		t.Fatalf("resolved id = %d, want 1", u.ID)
	}

	u, ok, err = s.Resolve(ctx, -100, "1")
	if err != nil || !ok || u.Username != "alice" {
		t.Fatalf("Resolve(1) = %+v ok=%v err=%v", u, ok, err)
	}

	// raw numeric ids stay addressable even off the roster
	u, ok, err = s.Resolve(ctx, -100, "42")
	if err != nil || !ok || u.ID != 42 {
		t.Fatalf("Resolve(42) = %+v ok=%v err=%v", u, ok, err)
	}

	if _, ok, _ := s.Resolve(ctx, -100, "@nobody"); ok {
		t.Fatal("Resolve(@nobody) should not match")
	}
	if _, ok, _ := s.Resolve(ctx, -100, "not-a-ref"); ok {
		t.Fatal("Resolve(not-a-ref) should not match")
	}
}
