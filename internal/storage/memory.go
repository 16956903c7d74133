package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// memoryStore is a map-backed Store. It exists for tests and for running
// without a database file; it loses everything on restart.
type memoryStore struct {
	mu      sync.Mutex
	members map[int64]map[int64]Member // chatID -> userID -> member
	dm      map[int64][]DirectRecord   // userID -> records, oldest first
	audit   []AuditEntry
}

func NewMemory() Store {
	return &memoryStore{
		members: map[int64]map[int64]Member{},
		dm:      map[int64][]DirectRecord{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) UpsertMember(_ context.Context, m Member) error {
	if m.SeenAt.IsZero() {
		m.SeenAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.members[m.ChatID]
	if chat == nil {
		chat = map[int64]Member{}
		s.members[m.ChatID] = chat
	}
	chat[m.UserID] = m
	return nil
}

func (s *memoryStore) RemoveMember(_ context.Context, chatID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat := s.members[chatID]; chat != nil {
		delete(chat, userID)
	}
	return nil
}

func (s *memoryStore) ListMembers(_ context.Context, chatID int64) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat := s.members[chatID]
	out := make([]Member, 0, len(chat))
	for _, m := range chat {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memoryStore) FindMemberByUsername(_ context.Context, chatID int64, username string) (Member, bool, error) {
	username = strings.TrimPrefix(username, "@")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[chatID] {
		if strings.EqualFold(m.Username, username) {
			return m, true, nil
		}
	}
	return Member{}, false, nil
}

func (s *memoryStore) AppendDirect(_ context.Context, rec DirectRecord) error {
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dm[rec.UserID] = append(s.dm[rec.UserID], rec)
	return nil
}

func (s *memoryStore) RecentDirect(_ context.Context, userID int64, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.dm[userID]
	out := make([]string, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i].Content)
	}
	return out, nil
}

func (s *memoryStore) TrimDirect(_ context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, recs := range s.dm {
		if len(recs) > keep {
			s.dm[id] = append([]DirectRecord(nil), recs[len(recs)-keep:]...)
		}
	}
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}
