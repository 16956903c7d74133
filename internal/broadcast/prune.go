package broadcast

import "time"

const (
	statusMax = 200
	statusTTL = 24 * time.Hour
)

// PruneStatus drops finished job statuses older than the retention TTL
// and caps the table size. It returns the number of entries removed.
// Running and queued jobs are never pruned.
func (s *Service) PruneStatus(now time.Time) int {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	removed := 0
	for id, st := range s.status {
		if st.Running || st.DoneAt.IsZero() {
			continue
		}
		if now.Sub(st.DoneAt) > statusTTL {
			delete(s.status, id)
			removed++
		}
	}
	for len(s.status) > statusMax {
		oldestID := ""
		var oldest time.Time
		for id, st := range s.status {
			if st.Running || st.DoneAt.IsZero() {
				continue
			}
			if oldestID == "" || st.DoneAt.Before(oldest) {
				oldestID = id
				oldest = st.DoneAt
			}
		}
		if oldestID == "" {
			break
		}
		delete(s.status, oldestID)
		removed++
	}
	return removed
}
