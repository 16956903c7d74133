package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"dmcast/internal/broadcast"
)

func (a *App) registerCommands() {
	a.cmdm.SetRegistry(commandSet())
}

func commandSet() []Command {
	return []Command{
		{
			Name:        "ping",
			Description: "liveness check",
			Usage:       "/ping",
			Access:      AccessEveryone,
			Handle:      handlePing,
		},
		{
			Name:        "hello",
			Description: "say hello",
			Usage:       "/hello",
			Access:      AccessEveryone,
			Handle:      handleHello,
		},
		{
			Name:        "sendmessage",
			Aliases:     []string{"sm"},
			Description: "send a message to every member once",
			Usage:       "/sendmessage <text>",
			Access:      AccessAdminOnly,
			Handle:      handleSendMessage,
		},
		{
			Name:        "sendmessagetouser",
			Aliases:     []string{"smu"},
			Description: "send a direct message to one member",
			Usage:       "/sendmessagetouser <@user|id> <text>",
			Access:      AccessAdminOnly,
			Handle:      handleSendMessageToUser,
		},
		{
			Name:        "sendmessagetoall",
			Aliases:     []string{"sma"},
			Description: "send a message to every member, skipping those who already have it",
			Usage:       "/sendmessagetoall <text>",
			Access:      AccessAdminOnly,
			Handle:      handleSendMessageToAll,
		},
		{
			Name:        "broadcaststatus",
			Aliases:     []string{"bs"},
			Description: "show recent broadcast jobs",
			Usage:       "/broadcaststatus",
			Access:      AccessAdminOnly,
			Handle:      handleBroadcastStatus,
		},
	}
}

func handlePing(ctx context.Context, req *Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, "pong", nil)
	return err
}

func handleHello(ctx context.Context, req *Request) error {
	name := ""
	if req.Update.Message != nil {
		name = strings.TrimSpace(req.Update.Message.FromName)
	}
	text := "Hello!"
	if name != "" {
		text = fmt.Sprintf("Hello, %s!", name)
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func handleSendMessage(ctx context.Context, req *Request) error {
	return startBroadcast(ctx, req, broadcast.ModeSingle)
}

func handleSendMessageToAll(ctx context.Context, req *Request) error {
	return startBroadcast(ctx, req, broadcast.ModeExhaustive)
}

func startBroadcast(ctx context.Context, req *Request, mode broadcast.Mode) error {
	if req.ArgText == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Please provide a message to send.", nil)
		return err
	}
	if req.Update.Message == nil || !req.Update.Message.IsGroup {
		_, err := req.Adapter.SendText(ctx, req.Chat, "This command only works in a group chat.", nil)
		return err
	}

	members, err := req.Services.Roster.Members(ctx, req.Chat.ChatID)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not load the member list, try again later.", nil)
		return err
	}
	recipients := make([]broadcast.Recipient, 0, len(members))
	for _, u := range members {
		recipients = append(recipients, broadcast.Recipient{ID: u.ID, Tag: u.Tag(), Bot: u.IsBot})
	}

	id, err := req.Services.Broadcast.NewJob(mode, req.Chat, req.FromID, req.ArgText, recipients)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, broadcastErrText(err), nil)
		if errors.Is(err, broadcast.ErrQueueFull) || errors.Is(err, broadcast.ErrDisabled) {
			return nil
		}
		return err
	}
	req.Logger.Info("broadcast requested", slog.String("job", id), slog.String("mode", string(mode)))

	// exhaustive jobs announce their own estimate from the worker
	if mode == broadcast.ModeSingle {
		st, _ := req.Services.Broadcast.Status(id)
		_, _ = req.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("Sending message to %d members.", st.Total), nil)
	}
	return nil
}

func broadcastErrText(err error) string {
	switch {
	case errors.Is(err, broadcast.ErrDisabled):
		return "Broadcasts are disabled."
	case errors.Is(err, broadcast.ErrQueueFull):
		return "Too many broadcasts queued, try again later."
	case errors.Is(err, broadcast.ErrEmptyText):
		return "Please provide a message to send."
	default:
		return "Could not start the broadcast, try again later."
	}
}

func handleSendMessageToUser(ctx context.Context, req *Request) error {
	ref, text := splitFirstArg(req.ArgText)
	if ref == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Please mention a user or provide a user ID.", nil)
		return err
	}
	if text == "" {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Please provide a message to send.", nil)
		return err
	}

	u, ok, err := req.Services.Roster.Resolve(ctx, req.Chat.ChatID, ref)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Could not look up that user, try again later.", nil)
		return err
	}
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Could not find that user.", nil)
		return err
	}

	if _, err := req.Adapter.SendDirect(ctx, u.ID, text); err != nil {
		req.Logger.Warn("could not send message", slog.String("user", u.Tag()), slog.Any("err", err))
		_, _ = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Failed to send message to %s.", u.Tag()), nil)
		return nil
	}
	req.Services.DMLog.RecordDelivery(ctx, u.ID, text)
	req.Logger.Info("message sent", slog.String("user", u.Tag()))
	_, err = req.Adapter.SendText(ctx, req.Chat, fmt.Sprintf("Message sent to %s.", u.Tag()), nil)
	return err
}

func handleBroadcastStatus(ctx context.Context, req *Request) error {
	jobs := req.Services.Broadcast.Jobs()
	if len(jobs) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "No broadcast jobs.", nil)
		return err
	}
	const show = 5
	var b strings.Builder
	b.WriteString("Recent broadcast jobs:\n")
	for i, st := range jobs {
		if i >= show {
			break
		}
		state := "queued"
		switch {
		case st.Running:
			state = "running"
		case !st.DoneAt.IsZero():
			state = "done"
		}
		fmt.Fprintf(&b, "%s [%s] %s: %d/%d sent, %d skipped, %d failed\n",
			st.ID, st.Mode, state, st.Sent, st.Total, st.Skipped, st.Failed)
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, strings.TrimRight(b.String(), "\n"), nil)
	return err
}
