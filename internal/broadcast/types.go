package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"dmcast/internal/storage"
	kit "dmcast/internal/transport"
)

// Mode selects the delivery policy for a job.
type Mode string

const (
	// ModeSingle walks the recipient list once, no duplicate checking.
	ModeSingle Mode = "single"
	// ModeExhaustive repeats passes until every non-bot recipient has
	// been covered, skipping recipients who already have the message.
	ModeExhaustive Mode = "exhaustive"
)

// Recipient is one deliverable guild member.
type Recipient struct {
	ID  int64
	Tag string // display handle for logs
	Bot bool   // bots are never contacted
}

type OutcomeKind int

const (
	OutcomeSent OutcomeKind = iota
	OutcomeSkippedDuplicate
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSent:
		return "sent"
	case OutcomeSkippedDuplicate:
		return "skipped_duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of processing one recipient. It replaces
// fire-and-forget sends with a value the engine observes synchronously.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

func Sent() Outcome             { return Outcome{Kind: OutcomeSent} }
func SkippedDuplicate() Outcome { return Outcome{Kind: OutcomeSkippedDuplicate} }
func Failed(err error) Outcome  { return Outcome{Kind: OutcomeFailed, Err: err} }

const (
	DefaultMessageDelay = 2 * time.Second
	DefaultCooldown     = time.Hour
	// DefaultBatchLimit is 75% of the platform's nominal 100-message window.
	DefaultBatchLimit = 75

	defaultQueueSize = 16
)

type Config struct {
	Enabled      bool
	MessageDelay time.Duration
	Cooldown     time.Duration
	BatchLimit   int
	QueueSize    int
}

func (c Config) withDefaults() Config {
	if c.MessageDelay <= 0 {
		c.MessageDelay = DefaultMessageDelay
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	return c
}

// History is the duplicate-check window plus the write side that keeps it
// current. Implemented by dmlog.
type History interface {
	RecentDirectMessages(ctx context.Context, userID int64, limit int) ([]string, error)
	RecordDelivery(ctx context.Context, userID int64, content string)
}

// JobStatus is a point-in-time view of one job.
type JobStatus struct {
	ID      string
	Mode    Mode
	Total   int // non-bot recipients
	Sent    int
	Skipped int
	Failed  int
	Passes  int

	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

type job struct {
	id         string
	mode       Mode
	origin     kit.ChatTarget
	actorID    int64
	text       string
	recipients []Recipient
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	adapter kit.Adapter
	history History
	store   storage.Store
	log     *slog.Logger

	queue  chan job
	stopCh chan struct{}
	// stopDone is non-nil while a Stop() is in progress; it is closed
	// when the worker fully exits.
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	statusMu sync.RWMutex
	status   map[string]*JobStatus
}
