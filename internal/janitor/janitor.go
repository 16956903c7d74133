// Package janitor runs periodic maintenance: trimming the direct message
// log to the duplicate-check window and pruning retained job statuses.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dmcast/internal/storage"
)

const (
	DefaultSpec        = "@hourly"
	DefaultHistoryKeep = 100
)

type Config struct {
	Enabled     bool
	Spec        string // cron spec or descriptor
	HistoryKeep int    // per-user dm_log rows to retain
}

func (c Config) withDefaults() Config {
	if c.Spec == "" {
		c.Spec = DefaultSpec
	}
	if c.HistoryKeep <= 0 {
		c.HistoryKeep = DefaultHistoryKeep
	}
	return c
}

// Pruner is implemented by the broadcast service.
type Pruner interface {
	PruneStatus(now time.Time) int
}

type Service struct {
	mu sync.Mutex

	log    *slog.Logger
	cfg    Config
	store  storage.Store
	pruner Pruner

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store storage.Store, pruner Pruner, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		store:  store,
		pruner: pruner,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the schedule. A changed spec restarts cron.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg.Spec != s.cfg.Spec
	s.cfg = cfg
	if s.c != nil && changed {
		s.stopLocked()
		s.startLocked()
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	c := cron.New(cron.WithParser(s.parser))
	spec := s.cfg.Spec
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("janitor started", slog.String("spec", spec))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) sweep() {
	s.mu.Lock()
	keep := s.cfg.HistoryKeep
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.store.TrimDirect(ctx, keep); err != nil {
		s.log.Warn("dm log trim failed", slog.Any("err", err))
	}
	removed := 0
	if s.pruner != nil {
		removed = s.pruner.PruneStatus(time.Now())
	}
	s.log.Debug("janitor sweep done", slog.Int("keep", keep), slog.Int("statuses_pruned", removed))
}
