package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"dmcast/internal/storage"
	kit "dmcast/internal/transport"
)

var (
	ErrDisabled  = errors.New("broadcast: disabled")
	ErrNotLoaded = errors.New("broadcast: not started")
	ErrQueueFull = errors.New("broadcast: queue full")
	ErrEmptyText = errors.New("broadcast: empty message")
)

var jobSeq atomic.Uint64

func nextJobID() string {
	n := jobSeq.Add(1)
	return strconv.FormatInt(time.Now().Unix(), 36) + "-" + strconv.FormatUint(n, 36)
}

func New(cfg Config, adapter kit.Adapter, history History, store storage.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		adapter: adapter,
		history: history,
		store:   store,
		log:     log,
		status:  make(map[string]*JobStatus),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates pacing knobs for jobs started after the call. Jobs
// already running keep the configuration they were dequeued with.
// Queue size changes take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	qs := s.cfg.QueueSize
	s.cfg = cfg
	s.cfg.QueueSize = qs
	if s.queue == nil {
		s.cfg.QueueSize = cfg.QueueSize
	}
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return nil
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.workerWG.Add(1)
	go s.worker()
	s.log.Info("broadcast worker started",
		slog.Duration("message_delay", s.cfg.MessageDelay),
		slog.Duration("cooldown", s.cfg.Cooldown),
		slog.Int("batch_limit", s.cfg.BatchLimit))
	return nil
}

// Stop cancels the running job, drains nothing, and waits for the worker
// to exit or ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	s.runCancel()
	done := make(chan struct{})
	s.stopDone = done
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	s.queue = nil
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewJob enqueues a broadcast and returns its id. The call never blocks:
// a saturated queue is reported as ErrQueueFull so the invoking command
// can answer immediately.
func (s *Service) NewJob(mode Mode, origin kit.ChatTarget, actorID int64, text string, recipients []Recipient) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}
	s.mu.Lock()
	q := s.queue
	enabled := s.cfg.Enabled
	s.mu.Unlock()
	if !enabled {
		return "", ErrDisabled
	}
	if q == nil {
		return "", ErrNotLoaded
	}

	j := job{
		id:         nextJobID(),
		mode:       mode,
		origin:     origin,
		actorID:    actorID,
		text:       text,
		recipients: recipients,
	}
	total := 0
	for _, r := range recipients {
		if !r.Bot {
			total++
		}
	}
	st := &JobStatus{
		ID:        j.id,
		Mode:      mode,
		Total:     total,
		CreatedAt: time.Now(),
	}

	select {
	case q <- j:
	default:
		return "", ErrQueueFull
	}
	s.statusMu.Lock()
	s.status[j.id] = st
	s.statusMu.Unlock()
	s.log.Info("broadcast job queued",
		slog.String("job", j.id),
		slog.String("mode", string(mode)),
		slog.Int("recipients", total),
		slog.Int64("actor", actorID))
	return j.id, nil
}

// Estimate projects how long a run over n recipients takes under the
// current pacing configuration.
func (s *Service) Estimate(n int) time.Duration {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return estimate(cfg, n)
}

func (s *Service) Status(id string) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Jobs returns a snapshot of all retained job statuses, newest first.
func (s *Service) Jobs() []JobStatus {
	s.statusMu.RLock()
	out := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	s.statusMu.RUnlock()
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
