package core

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"dmcast/internal/broadcast"
	"dmcast/internal/dmlog"
	"dmcast/internal/roster"
	kit "dmcast/internal/transport"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessAdminOnly requires the sender to be a chat administrator or
	// a configured owner.
	AccessAdminOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// ArgText is everything after the command word, outer whitespace
	// trimmed, internal whitespace preserved.
	ArgText string
	ReqID   string

	Adapter  kit.Adapter
	Logger   *slog.Logger
	Services *Services
}

type Services struct {
	Broadcast *broadcast.Service
	Roster    *roster.Service
	DMLog     *dmlog.Service
}

type CommandManager struct {
	mu   sync.RWMutex
	cmds map[string]*Command // lowercase name and aliases -> command

	owners []int64

	log     *slog.Logger
	adapter kit.Adapter
	roster  *roster.Service
	serv    *Services

	jobs chan func()
}

func NewCommandManager(log *slog.Logger, adapter kit.Adapter, rst *roster.Service, serv *Services, owners []int64) *CommandManager {
	// copy to avoid callers mutating the slice after construction
	ownCopy := append([]int64(nil), owners...)
	return &CommandManager{
		cmds:    map[string]*Command{},
		log:     log,
		adapter: adapter,
		roster:  rst,
		serv:    serv,
		owners:  ownCopy,
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessAdminOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	ownCopy := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = ownCopy
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	// always inject help
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(), &kit.SendOptions{DisablePreview: true})
			return err
		},
	})

	reg := map[string]*Command{}
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c // copy
		reg[name] = &cc
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			reg[a] = &cc
		}
	}

	m.mu.Lock()
	m.cmds = reg
	m.mu.Unlock()
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	// bounded worker pool so a slow handler cannot starve the loop
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	if m.log != nil {
		m.log.Info("command dispatcher started", slog.Int("workers", workers), slog.Int("job_queue_cap", cap(m.jobs)))
	}

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() {
		closeOnce.Do(func() {
			close(m.jobs)
		})
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil && m.log != nil {
					m.log.Error("panic in command worker", slog.Int("worker", idx), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job == nil {
						continue
					}
					job()
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		if m.log != nil {
			m.log.Info("command dispatcher stopped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				if m.log != nil {
					m.log.Info("command dispatcher stopped (updates channel closed)")
				}
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	// every update feeds the roster before any routing
	if m.roster != nil {
		m.roster.Observe(root, up)
	}
	if up.Kind != kit.UpdateMessage {
		return
	}
	m.routeMessage(root, up)
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	word, argText := splitCommand(msg.Text)
	if word == "" {
		return
	}

	m.mu.RLock()
	cmd, ok := m.cmds[word]
	m.mu.RUnlock()
	if !ok {
		// group chats carry other bots' commands, stay quiet
		return
	}

	m.enqueueCommand(root, up, *cmd, argText)
}

func (m *CommandManager) enqueueCommand(root context.Context, up kit.Update, cmd Command, argText string) {
	msg := up.Message

	rid := newReqID()
	reqLog := m.log.With(
		slog.String("rid", rid),
		slog.Int64("chat_id", msg.ChatID),
		slog.Int("thread_id", msg.ThreadID),
		slog.Int64("from_id", msg.FromID),
		slog.String("cmd", cmd.Name),
	)

	req := &Request{
		Update:   up,
		Chat:     kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:   msg.FromID,
		Command:  cmd.Name,
		ArgText:  argText,
		ReqID:    rid,
		Adapter:  m.adapter,
		Logger:   reqLog,
		Services: m.serv,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if cmd.Access == AccessAdminOnly {
		final = m.requireAdmin(final)
	}

	select {
	case m.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = m.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

// requireAdmin runs inside the worker pool: the administrator lookup is
// a network call and must not block the dispatch loop.
func (m *CommandManager) requireAdmin(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if isOwner(req.FromID, m.ownersSnapshot()) {
			return next(ctx, req)
		}
		admin, err := m.adapter.HasAdministrator(ctx, req.Chat.ChatID, req.FromID)
		if err != nil {
			req.Logger.Warn("administrator lookup failed", slog.Any("err", err))
		}
		if !admin {
			_, _ = req.Adapter.SendText(ctx, req.Chat, "You do not have permission to use this command.", nil)
			return nil
		}
		return next(ctx, req)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
