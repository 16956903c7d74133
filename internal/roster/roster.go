// Package roster maintains the guild member roster.
//
// The Bot API cannot enumerate group members, so the roster is accumulated
// from observed updates: every message author and every join event upserts
// a row, leave events remove one. Broadcasts read the roster as it stands
// when the job starts.
package roster

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"dmcast/internal/storage"
	kit "dmcast/internal/transport"
)

type Service struct {
	store storage.Store
	log   *slog.Logger
}

func New(store storage.Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Observe feeds one transport update into the roster. Errors are logged,
// never propagated: a missed roster write must not break dispatch.
func (s *Service) Observe(ctx context.Context, up kit.Update) {
	if s.store == nil {
		return
	}
	switch up.Kind {
	case kit.UpdateMessage:
		m := up.Message
		if m == nil || !m.IsGroup || m.FromID == 0 {
			return
		}
		err := s.store.UpsertMember(ctx, storage.Member{
			ChatID:   m.ChatID,
			UserID:   m.FromID,
			Username: m.FromUsername,
			Name:     m.FromName,
			IsBot:    m.FromIsBot,
			SeenAt:   time.Now(),
		})
		if err != nil {
			s.log.Warn("roster upsert failed", slog.Int64("chat_id", m.ChatID), slog.Int64("user_id", m.FromID), slog.Any("err", err))
		}
	case kit.UpdateMemberJoin:
		ev := up.Member
		if ev == nil {
			return
		}
		err := s.store.UpsertMember(ctx, storage.Member{
			ChatID:   ev.ChatID,
			UserID:   ev.User.ID,
			Username: ev.User.Username,
			Name:     ev.User.Name,
			IsBot:    ev.User.IsBot,
			SeenAt:   time.Now(),
		})
		if err != nil {
			s.log.Warn("roster join failed", slog.Int64("chat_id", ev.ChatID), slog.Int64("user_id", ev.User.ID), slog.Any("err", err))
		} else {
			s.log.Debug("member joined", slog.Int64("chat_id", ev.ChatID), slog.String("user", ev.User.Tag()))
		}
	case kit.UpdateMemberLeave:
		ev := up.Member
		if ev == nil {
			return
		}
		if err := s.store.RemoveMember(ctx, ev.ChatID, ev.User.ID); err != nil {
			s.log.Warn("roster remove failed", slog.Int64("chat_id", ev.ChatID), slog.Int64("user_id", ev.User.ID), slog.Any("err", err))
		} else {
			s.log.Debug("member left", slog.Int64("chat_id", ev.ChatID), slog.String("user", ev.User.Tag()))
		}
	}
}

// Members returns the roster for a chat in stable (user id) order.
func (s *Service) Members(ctx context.Context, chatID int64) ([]kit.User, error) {
	rows, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := make([]kit.User, 0, len(rows))
	for _, m := range rows {
		out = append(out, kit.User{ID: m.UserID, Username: m.Username, Name: m.Name, IsBot: m.IsBot})
	}
	return out, nil
}

// Resolve turns a user reference ("@name" or a numeric id) into a roster
// member of the given chat.
func (s *Service) Resolve(ctx context.Context, chatID int64, ref string) (kit.User, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return kit.User{}, false, nil
	}
	if strings.HasPrefix(ref, "@") {
		m, ok, err := s.store.FindMemberByUsername(ctx, chatID, ref)
		if err != nil || !ok {
			return kit.User{}, false, err
		}
		return kit.User{ID: m.UserID, Username: m.Username, Name: m.Name, IsBot: m.IsBot}, true, nil
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return kit.User{}, false, nil
	}
	rows, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return kit.User{}, false, err
	}
	for _, m := range rows {
		if m.UserID == id {
			return kit.User{ID: m.UserID, Username: m.Username, Name: m.Name, IsBot: m.IsBot}, true, nil
		}
	}
	// Not on the roster yet; still addressable by raw id.
	return kit.User{ID: id}, true, nil
}
