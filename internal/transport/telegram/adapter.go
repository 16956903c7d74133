// Package telegram implements the transport adapter on the Bot API via
// telebot long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "dmcast/internal/transport"
	"dmcast/pkg/logx"
)

// textLimit is the Bot API per-message text cap; longer texts are split.
const textLimit = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	out       chan<- kit.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was
	// slower than the poll loop; flushed to the log periodically.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				ThreadID:     m.ThreadID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				FromName:     displayName(m.Sender),
				FromIsBot:    m.Sender.IsBot,
				Text:         m.Text,
				IsGroup:      isGroupChat(m.Chat),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		joined := m.UsersJoined
		if len(joined) == 0 && m.UserJoined != nil {
			joined = []tele.User{*m.UserJoined}
		}
		for i := range joined {
			u := &joined[i]
			a.emit(kit.Update{
				Kind: kit.UpdateMemberJoin,
				Member: &kit.MemberEvent{
					ChatID: m.Chat.ID,
					User:   toUser(u),
				},
			})
		}
		return nil
	})

	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.UserLeft == nil {
			return nil
		}
		a.emit(kit.Update{
			Kind: kit.UpdateMemberLeave,
			Member: &kit.MemberEvent{
				ChatID: m.Chat.ID,
				User:   toUser(m.UserLeft),
			},
		})
		return nil
	})

	go func() {
		defer a.runWG.Done()
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) emit(up kit.Update) {
	select {
	case a.out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if the long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		rem := time.Until(dl)
		if rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	var ref kit.MessageRef
	for _, chunk := range splitText(text) {
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return kit.MessageRef{}, err
		}
		ref = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	}
	return ref, nil
}

func (a *Adapter) SendDirect(ctx context.Context, userID int64, text string) (kit.MessageRef, error) {
	var ref kit.MessageRef
	for _, chunk := range splitText(text) {
		msg, err := a.bot.Send(&tele.User{ID: userID}, chunk, nil)
		if err != nil {
			return kit.MessageRef{}, err
		}
		ref = kit.MessageRef{ChatID: userID, MessageID: msg.ID}
	}
	return ref, nil
}

func (a *Adapter) HasAdministrator(ctx context.Context, chatID, userID int64) (bool, error) {
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	switch member.Role {
	case tele.Creator, tele.Administrator:
		return true, nil
	}
	return false, nil
}

func isGroupChat(c *tele.Chat) bool {
	return c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup
}

func toUser(u *tele.User) kit.User {
	return kit.User{
		ID:       u.ID,
		Username: u.Username,
		Name:     displayName(u),
		IsBot:    u.IsBot,
	}
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName)
	if u.LastName != "" {
		name = strings.TrimSpace(name + " " + u.LastName)
	}
	return name
}

// splitText breaks text into Bot API sized chunks, preferring newline
// boundaries.
func splitText(text string) []string {
	if len(text) <= textLimit {
		return []string{text}
	}
	var out []string
	for len(text) > textLimit {
		cut := strings.LastIndexByte(text[:textLimit], '\n')
		if cut <= 0 {
			cut = textLimit
		}
		out = append(out, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
