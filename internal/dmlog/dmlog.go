// Package dmlog keeps the record of direct messages the bot has delivered.
//
// The platform API offers no way to read back a private conversation, so
// the duplicate-check window is served from this log instead: every
// successful direct send is appended here, and lookups return the most
// recent contents for a recipient.
package dmlog

import (
	"context"
	"log/slog"

	"dmcast/internal/storage"
)

type Service struct {
	store storage.Store
	log   *slog.Logger
}

func New(store storage.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// RecordDelivery appends one delivered message. A failed append is logged
// but not surfaced: losing one history row only risks a duplicate send
// later, which the system tolerates by contract.
func (s *Service) RecordDelivery(ctx context.Context, userID int64, content string) {
	if err := s.store.AppendDirect(ctx, storage.DirectRecord{UserID: userID, Content: content}); err != nil {
		s.log.Warn("dm log append failed", slog.Int64("user_id", userID), slog.Any("err", err))
	}
}

// RecentDirectMessages returns up to limit most recent delivered contents
// for the user, newest first.
func (s *Service) RecentDirectMessages(ctx context.Context, userID int64, limit int) ([]string, error) {
	return s.store.RecentDirect(ctx, userID, limit)
}
