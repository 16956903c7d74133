package broadcast

import (
	"fmt"
	"log/slog"
)

// reporter records per-recipient outcomes and produces the completion
// summary. Recording never fails and never aborts the job.
type reporter struct {
	log *slog.Logger
}

func (rp reporter) record(jobID string, r Recipient, o Outcome) {
	fields := []any{
		slog.String("job", jobID),
		slog.String("user", r.Tag),
		slog.String("outcome", o.Kind.String()),
	}
	switch o.Kind {
	case OutcomeSent:
		rp.log.Info("message sent", fields...)
	case OutcomeSkippedDuplicate:
		rp.log.Info("recipient already has the message", fields...)
	case OutcomeFailed:
		rp.log.Warn("could not send message", append(fields, slog.Any("err", o.Err))...)
	}
}

// summarize produces the one-line completion message posted back to the
// invoking channel. Delivery is best effort, so failures show up as a
// count rather than changing the headline.
func (rp reporter) summarize(st JobStatus) string {
	took := st.DoneAt.Sub(st.StartedAt)
	return fmt.Sprintf("Message sent to all members (%d sent, %d skipped, %d failed, took %s).",
		st.Sent, st.Skipped, st.Failed, formatETA(took))
}
