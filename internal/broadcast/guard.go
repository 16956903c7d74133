package broadcast

import (
	"context"
	"fmt"
)

// historyWindow bounds the duplicate check to the most recent direct
// messages. The check is advisory: identical content older than the
// window is not detected, and a resend in that case is acceptable.
const historyWindow = 100

type guard struct {
	history History
}

// alreadyNotified reports whether content was already delivered to the
// recipient within the history window. Matching is exact: case sensitive
// and whitespace sensitive.
func (g guard) alreadyNotified(ctx context.Context, r Recipient, content string) (bool, error) {
	msgs, err := g.history.RecentDirectMessages(ctx, r.ID, historyWindow)
	if err != nil {
		return false, fmt.Errorf("history lookup for %s: %w", r.Tag, err)
	}
	for _, m := range msgs {
		if m == content {
			return true, nil
		}
	}
	return false, nil
}
