package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dmcast/internal/storage"
)

func (s *Service) worker() {
	defer s.workerWG.Done()
	for {
		s.mu.Lock()
		q := s.queue
		ctx := s.runCtx
		stop := s.stopCh
		s.mu.Unlock()
		if q == nil {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case j := <-q:
			s.execJob(ctx, j)
		}
	}
}

func (s *Service) execJob(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	log := s.log.With(slog.String("job", j.id), slog.String("mode", string(j.mode)))
	p := newPacer(cfg, log)
	g := guard{history: s.history}
	rp := reporter{log: log}

	s.setRunning(j.id, true)
	defer s.setRunning(j.id, false)

	if j.mode == ModeExhaustive {
		eta := estimate(cfg, s.jobTotal(j.id))
		text := fmt.Sprintf("Sending messages to all members. Estimated time: %s.", formatETA(eta))
		if _, err := s.adapter.SendText(ctx, j.origin, text, nil); err != nil {
			log.Warn("could not post estimate", slog.Any("err", err))
		}
	}

	var err error
	switch j.mode {
	case ModeExhaustive:
		err = s.runExhaustive(ctx, j, p, g, rp)
	default:
		err = s.runSingle(ctx, j, p, g, rp)
	}
	if err != nil {
		log.Warn("broadcast job interrupted", slog.Any("err", err))
		s.finish(ctx, j, rp, false)
		return
	}
	s.finish(ctx, j, rp, true)
}

// runSingle walks the recipient list once. No duplicate checking; every
// non-bot recipient gets a delivery attempt, and every attempt consumes
// a pacer slot whether it succeeded or not.
func (s *Service) runSingle(ctx context.Context, j job, p *pacer, g guard, rp reporter) error {
	s.bumpPass(j.id)
	for _, r := range j.recipients {
		if r.Bot {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		o := s.deliver(ctx, j, r)
		rp.record(j.id, r, o)
		s.mark(j.id, o)
		if err := p.AwaitSlot(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runExhaustive repeats passes over the recipient list until every
// non-bot recipient has been covered. A recipient is covered once it is
// sent to, skipped as a duplicate, or has had a failed delivery attempt.
// Duplicate skips and history lookup failures consume no pacer slot.
func (s *Service) runExhaustive(ctx context.Context, j job, p *pacer, g guard, rp reporter) error {
	want := 0
	for _, r := range j.recipients {
		if !r.Bot {
			want++
		}
	}
	processed := make(map[int64]struct{}, want)
	for len(processed) < want {
		s.bumpPass(j.id)
		before := len(processed)
		for _, r := range j.recipients {
			if r.Bot {
				continue
			}
			if _, done := processed[r.ID]; done {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			dup, err := g.alreadyNotified(ctx, r, j.text)
			if err != nil {
				o := Failed(err)
				rp.record(j.id, r, o)
				s.mark(j.id, o)
				processed[r.ID] = struct{}{}
				continue
			}
			if dup {
				o := SkippedDuplicate()
				rp.record(j.id, r, o)
				s.mark(j.id, o)
				processed[r.ID] = struct{}{}
				continue
			}
			o := s.deliver(ctx, j, r)
			rp.record(j.id, r, o)
			s.mark(j.id, o)
			processed[r.ID] = struct{}{}
			if err := p.AwaitSlot(ctx); err != nil {
				return err
			}
		}
		if len(processed) == before {
			// Nothing advanced this pass; the remainder is unreachable.
			break
		}
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, j job, r Recipient) Outcome {
	if _, err := s.adapter.SendDirect(ctx, r.ID, j.text); err != nil {
		return Failed(err)
	}
	s.history.RecordDelivery(ctx, r.ID, j.text)
	return Sent()
}

func (s *Service) finish(ctx context.Context, j job, rp reporter, completed bool) {
	st := s.markDone(j.id)

	if completed {
		if _, err := s.adapter.SendText(ctx, j.origin, rp.summarize(st), nil); err != nil {
			s.log.Warn("could not post summary", slog.String("job", j.id), slog.Any("err", err))
		}
	}

	if s.store != nil {
		e := storage.AuditEntry{
			At:      st.DoneAt,
			ActorID: j.actorID,
			ChatID:  j.origin.ChatID,
			Mode:    string(j.mode),
			Total:   st.Total,
			Sent:    st.Sent,
			Skipped: st.Skipped,
			Failed:  st.Failed,
			TookMS:  st.DoneAt.Sub(st.StartedAt).Milliseconds(),
		}
		if err := s.store.AppendAudit(ctx, e); err != nil {
			s.log.Warn("could not write audit row", slog.String("job", j.id), slog.Any("err", err))
		}
	}

	lvl := slog.LevelInfo
	if st.Failed > 0 {
		lvl = slog.LevelWarn
	}
	s.log.Log(context.Background(), lvl, "broadcast job finished",
		slog.String("job", j.id),
		slog.Int("sent", st.Sent),
		slog.Int("skipped", st.Skipped),
		slog.Int("failed", st.Failed),
		slog.Int("passes", st.Passes),
		slog.Duration("took", st.DoneAt.Sub(st.StartedAt)))
}

func (s *Service) setRunning(id string, running bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[id]
	if !ok {
		return
	}
	st.Running = running
	if running && st.StartedAt.IsZero() {
		st.StartedAt = time.Now()
	}
}

func (s *Service) mark(id string, o Outcome) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[id]
	if !ok {
		return
	}
	switch o.Kind {
	case OutcomeSent:
		st.Sent++
	case OutcomeSkippedDuplicate:
		st.Skipped++
	case OutcomeFailed:
		st.Failed++
	}
}

func (s *Service) bumpPass(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st, ok := s.status[id]; ok {
		st.Passes++
	}
}

func (s *Service) jobTotal(id string) int {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if st, ok := s.status[id]; ok {
		return st.Total
	}
	return 0
}

func (s *Service) markDone(id string) JobStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st, ok := s.status[id]
	if !ok {
		return JobStatus{ID: id}
	}
	st.DoneAt = time.Now()
	st.Running = false
	if st.StartedAt.IsZero() {
		st.StartedAt = st.DoneAt
	}
	return *st
}
