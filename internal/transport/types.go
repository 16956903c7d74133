package transport

import (
	"context"
	"strconv"
)

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateMemberJoin  UpdateKind = "member_join"
	UpdateMemberLeave UpdateKind = "member_leave"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Member  *MemberEvent
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	FromIsBot    bool
	Text         string
	IsGroup      bool
}

// MemberEvent is emitted when a user joins or leaves a chat the bot is in.
type MemberEvent struct {
	ChatID int64
	User   User
}

// User identifies a chat member.
type User struct {
	ID       int64
	Username string
	Name     string
	IsBot    bool
}

// Tag is a short human-readable handle for logs and replies.
func (u User) Tag() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if u.Name != "" {
		return u.Name
	}
	return "id:" + strconv.FormatInt(u.ID, 10)
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Adapter abstracts the chat platform.
//
// SendDirect fails when the recipient disallows private messages from the
// bot (or has never opened one); the error is surfaced to the caller and
// never retried here.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDirect(ctx context.Context, userID int64, text string) (MessageRef, error)

	// HasAdministrator reports whether userID holds an administrator-equivalent
	// role in chatID.
	HasAdministrator(ctx context.Context, chatID, userID int64) (bool, error)
}
