package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeHistory struct {
	mu     sync.Mutex
	msgs   map[int64][]string
	lookup map[int64]error // forced RecentDirectMessages failures
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{msgs: map[int64][]string{}, lookup: map[int64]error{}}
}

func (h *fakeHistory) RecentDirectMessages(_ context.Context, userID int64, limit int) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.lookup[userID]; err != nil {
		return nil, err
	}
	out := h.msgs[userID]
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]string(nil), out...), nil
}

func (h *fakeHistory) RecordDelivery(_ context.Context, userID int64, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// newest first, same as the delivery log
	h.msgs[userID] = append([]string{content}, h.msgs[userID]...)
}

func TestGuardExactMatch(t *testing.T) {
	t.Parallel()
	h := newFakeHistory()
	h.RecordDelivery(context.Background(), 1, "meeting at noon")
	g := guard{history: h}
	r := Recipient{ID: 1, Tag: "@a"}

	cases := []struct {
		content string
		want    bool
	}{
		{"meeting at noon", true},
		{"meeting at noon ", false}, // trailing space is a different message
		{"Meeting at noon", false},  // case sensitive
		{"something else", false},
	}
	for _, tc := range cases {
		got, err := g.alreadyNotified(context.Background(), r, tc.content)
		if err != nil {
			t.Fatalf("alreadyNotified(%q): %v", tc.content, err)
		}
		if got != tc.want {
			t.Errorf("alreadyNotified(%q) = %v, want %v", tc.content, got, tc.want)
		}
	}
}

func TestGuardOnlyScansWindow(t *testing.T) {
	t.Parallel()
	h := newFakeHistory()
	// push the oldest message past the window
	h.RecordDelivery(context.Background(), 1, "old news")
	for i := 0; i < historyWindow; i++ {
		h.RecordDelivery(context.Background(), 1, "filler")
	}
	g := guard{history: h}

	got, err := g.alreadyNotified(context.Background(), Recipient{ID: 1, Tag: "@a"}, "old news")
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("message outside the window should not count as a duplicate")
	}
}

func TestGuardLookupError(t *testing.T) {
	t.Parallel()
	h := newFakeHistory()
	boom := errors.New("db locked")
	h.lookup[9] = boom
	g := guard{history: h}

	_, err := g.alreadyNotified(context.Background(), Recipient{ID: 9, Tag: "@b"}, "x")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}
