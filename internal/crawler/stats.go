package crawler

import "sync/atomic"

// Stats counts what happened during a walk.
type Stats struct {
	Visited  atomic.Int64
	Skipped  atomic.Int64
	Rejected atomic.Int64
	Accepted atomic.Int64
	Errors   atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Visited  int64 `json:"visited"`
	Skipped  int64 `json:"skipped"`
	Rejected int64 `json:"rejected"`
	Accepted int64 `json:"accepted"`
	Errors   int64 `json:"errors"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Visited:  s.Visited.Load(),
		Skipped:  s.Skipped.Load(),
		Rejected: s.Rejected.Load(),
		Accepted: s.Accepted.Load(),
		Errors:   s.Errors.Load(),
	}
}
