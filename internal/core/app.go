package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"dmcast/internal/broadcast"
	"dmcast/internal/config"
	"dmcast/internal/dmlog"
	"dmcast/internal/janitor"
	"dmcast/internal/roster"
	"dmcast/internal/runtime/supervisor"
	"dmcast/internal/storage"
	kit "dmcast/internal/transport"
	"dmcast/internal/transport/telegram"
	"dmcast/pkg/logx"
)

type StopReason string

const (
	StopReasonSignal StopReason = "signal"
	StopReasonFatal  StopReason = "fatal"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  *slog.Logger
	logs *logx.Service

	adapter kit.Adapter
	store   storage.Store

	roster *roster.Service
	dmlog  *dmlog.Service
	bcast  *broadcast.Service
	jan    *janitor.Service

	cmdm *CommandManager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logs, _ := logx.New(logxConfig(cfg.Logging), ad)
	applyChatLogTarget(logs, cfg)
	log := logs.Slog().With(slog.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	rosterSvc := roster.New(store, logs.Slog().With(slog.String("comp", "roster")))
	dmlogSvc := dmlog.New(store, logs.Slog().With(slog.String("comp", "dmlog")))

	bcastCfg, err := broadcastConfig(cfg)
	if err != nil {
		return nil, err
	}
	bcast := broadcast.New(bcastCfg, ad, dmlogSvc, store,
		logs.Slog().With(slog.String("comp", "broadcast")))

	jan := janitor.New(janitor.Config{
		Enabled:     cfg.Janitor.Enabled,
		Spec:        cfg.Janitor.Spec,
		HistoryKeep: cfg.Janitor.HistoryKeep,
	}, store, bcast, logs.Slog().With(slog.String("comp", "janitor")))

	serv := &Services{
		Broadcast: bcast,
		Roster:    rosterSvc,
		DMLog:     dmlogSvc,
	}
	cmdm := NewCommandManager(logs.Slog().With(slog.String("comp", "commands")),
		ad, rosterSvc, serv, cfg.Telegram.OwnerUserIDs)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		adapter: ad,
		store:   store,
		roster:  rosterSvc,
		dmlog:   dmlogSvc,
		bcast:   bcast,
		jan:     jan,
		cmdm:    cmdm,
		updates: make(chan kit.Update, 256),
	}
	a.registerCommands()
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.logs.Logger().With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
			return err
		}
		if _, err := broadcastConfig(cfg); err != nil {
			return err
		}
		if cfg.Broadcast.BatchLimit < 0 {
			return fmt.Errorf("broadcast.batch_limit must be >= 0")
		}
		if cfg.Janitor.HistoryKeep < 0 {
			return fmt.Errorf("janitor.history_keep must be >= 0")
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.bcast.Enabled() {
		if err := a.bcast.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.jan.Enabled() {
		if err := a.jan.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logxConfig(cfg.Logging))
	applyChatLogTarget(a.logs, cfg)

	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)

	bcastCfg, err := broadcastConfig(cfg)
	if err != nil {
		// validator rejects these before commit; keep the old pacing
		a.log.Warn("invalid broadcast config on reload", slog.Any("err", err))
	} else {
		prevEnabled := a.bcast.Enabled()
		a.bcast.Apply(bcastCfg)
		if prevEnabled && !bcastCfg.Enabled {
			a.log.Info("broadcasts disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			_ = a.bcast.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && bcastCfg.Enabled {
			a.log.Info("broadcasts enabled via config")
			_ = a.bcast.Start(ctx)
		}
	}

	prevJan := a.jan.Enabled()
	a.jan.Apply(janitor.Config{
		Enabled:     cfg.Janitor.Enabled,
		Spec:        cfg.Janitor.Spec,
		HistoryKeep: cfg.Janitor.HistoryKeep,
	})
	if prevJan && !cfg.Janitor.Enabled {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_ = a.jan.Stop(stopCtx)
		cancel()
	} else if !prevJan && cfg.Janitor.Enabled {
		if err := a.jan.Start(ctx); err != nil {
			a.log.Warn("janitor start failed", slog.Any("err", err))
		}
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", slog.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound every shutdown step so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", slog.String("name", name), slog.String("err", err.Error()))
		}
	}

	step("janitor", 2*time.Second, a.jan.Stop)
	step("broadcast", 3*time.Second, a.bcast.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    c.Chat.Enabled,
			ThreadID:   c.Chat.ThreadID,
			MinLevel:   c.Chat.MinLevel,
			RatePerSec: c.Chat.RatePerSec,
		},
	}
}

func applyChatLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		logs.SetChatTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetChatTarget(chatID, cfg.Logging.Chat.ThreadID)
	}
}

func broadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	delay, err := config.ParseDurationOrDefault("broadcast.message_delay", cfg.Broadcast.MessageDelay, broadcast.DefaultMessageDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	cooldown, err := config.ParseDurationOrDefault("broadcast.cooldown", cfg.Broadcast.Cooldown, broadcast.DefaultCooldown)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Enabled:      cfg.Broadcast.Enabled,
		MessageDelay: delay,
		Cooldown:     cooldown,
		BatchLimit:   cfg.Broadcast.BatchLimit,
		QueueSize:    cfg.Broadcast.QueueSize,
	}, nil
}
