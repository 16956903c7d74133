package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// pacer enforces the delivery rhythm: a fixed delay after every attempted
// send, plus a long cooldown whenever a batch of attempts saturates.
//
// It cannot fail on its own; the only error out of AwaitSlot is context
// cancellation. It has no knowledge of delivery success: callers invoke
// AwaitSlot once per attempt regardless of the outcome.
type pacer struct {
	limiter    *rate.Limiter
	cooldown   time.Duration
	batchLimit int
	batch      int
	log        *slog.Logger
}

func newPacer(cfg Config, log *slog.Logger) *pacer {
	lim := rate.NewLimiter(rate.Every(cfg.MessageDelay), 1)
	// Drain the initial token so the first AwaitSlot waits a full delay:
	// the rhythm is "pause after every send", not "space sends apart".
	lim.Allow()
	return &pacer{
		limiter:    lim,
		cooldown:   cfg.Cooldown,
		batchLimit: cfg.BatchLimit,
		log:        log,
	}
}

// AwaitSlot suspends the job after a delivery attempt. The batch counter
// stays in [0, batchLimit); it resets to zero the moment it reaches the
// limit, before the cooldown wait begins.
func (p *pacer) AwaitSlot(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	p.batch++
	if p.batch >= p.batchLimit {
		p.batch = 0
		p.log.Info("batch limit reached; cooling down", slog.Duration("cooldown", p.cooldown))
		if err := sleepCtx(ctx, p.cooldown); err != nil {
			return err
		}
	}
	return nil
}

func (p *pacer) batchCount() int { return p.batch }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// estimate projects the duration of a full run over n recipients:
// one cooldown between consecutive batches plus the per-message delays.
func estimate(cfg Config, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	batches := (n + cfg.BatchLimit - 1) / cfg.BatchLimit
	return time.Duration(batches-1)*cfg.Cooldown + time.Duration(n)*cfg.MessageDelay
}

// formatETA renders a duration as "1h 3m 20s".
func formatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
