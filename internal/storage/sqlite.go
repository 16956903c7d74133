package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "dmcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./dmcast.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertMember(ctx context.Context, m Member) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if m.SeenAt.IsZero() {
		m.SeenAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(chat_id, user_id, username, name, is_bot, seen_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET
		   username=excluded.username, name=excluded.name,
		   is_bot=excluded.is_bot, seen_at=excluded.seen_at`,
		m.ChatID, m.UserID, nullStr(m.Username), nullStr(m.Name), boolInt(m.IsBot),
		m.SeenAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RemoveMember(ctx context.Context, chatID, userID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM members WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	return err
}

func (s *sqliteStore) ListMembers(ctx context.Context, chatID int64) ([]Member, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, username, name, is_bot, seen_at
		 FROM members WHERE chat_id = ? ORDER BY user_id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) FindMemberByUsername(ctx context.Context, chatID int64, username string) (Member, bool, error) {
	if s == nil || s.db == nil {
		return Member{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, user_id, username, name, is_bot, seen_at
		 FROM members WHERE chat_id = ? AND username = ? COLLATE NOCASE`,
		chatID, strings.TrimPrefix(username, "@"))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, err
	}
	return m, true, nil
}

type rowScanner interface {
	Scan(dst ...any) error
}

func scanMember(r rowScanner) (Member, error) {
	var (
		m        Member
		username sql.NullString
		name     sql.NullString
		isBot    int
		seenAt   string
	)
	if err := r.Scan(&m.ChatID, &m.UserID, &username, &name, &isBot, &seenAt); err != nil {
		return Member{}, err
	}
	m.Username = username.String
	m.Name = name.String
	m.IsBot = isBot != 0
	if t, err := time.Parse(time.RFC3339Nano, seenAt); err == nil {
		m.SeenAt = t
	}
	return m, nil
}

func (s *sqliteStore) AppendDirect(ctx context.Context, rec DirectRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dm_log(user_id, content, sent_at) VALUES(?,?,?)`,
		rec.UserID, rec.Content, rec.SentAt.Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) RecentDirect(ctx context.Context, userID int64, limit int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM dm_log WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) TrimDirect(ctx context.Context, keep int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dm_log WHERE id NOT IN (
		   SELECT id FROM dm_log AS d2
		   WHERE d2.user_id = dm_log.user_id
		   ORDER BY d2.id DESC LIMIT ?
		 )`, keep)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, chat_id, mode, total, sent, skipped, failed, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, e.ChatID, e.Mode,
		e.Total, e.Sent, e.Skipped, e.Failed, e.TookMS,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
