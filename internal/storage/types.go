package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Member is one roster row: a user observed in a guild chat.
type Member struct {
	ChatID   int64
	UserID   int64
	Username string
	Name     string
	IsBot    bool
	SeenAt   time.Time
}

// DirectRecord is one direct message the bot delivered to a user.
// It backs the duplicate-check history window.
type DirectRecord struct {
	UserID  int64
	Content string
	SentAt  time.Time
}

// AuditEntry records one finished broadcast job.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	ChatID  int64
	Mode    string
	Total   int
	Sent    int
	Skipped int
	Failed  int
	TookMS  int64
}

// Store is the persistence API used by the roster, the DM delivery log
// and broadcast auditing.
type Store interface {
	UpsertMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, chatID, userID int64) error
	ListMembers(ctx context.Context, chatID int64) ([]Member, error)
	FindMemberByUsername(ctx context.Context, chatID int64, username string) (Member, bool, error)

	AppendDirect(ctx context.Context, rec DirectRecord) error
	// RecentDirect returns up to limit most recent delivered contents for
	// the user, newest first.
	RecentDirect(ctx context.Context, userID int64, limit int) ([]string, error)
	// TrimDirect drops all but the newest keep records per user.
	TrimDirect(ctx context.Context, keep int) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}
