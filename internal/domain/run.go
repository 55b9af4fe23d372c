package domain

import (
	"fmt"
	"slices"
	"time"
)

// RunStatus is the lifecycle state of a crawl run.
//
//	not_started ──► running ──► succeeded
//	                   │
//	                   └──────► failed
//
// succeeded and failed are terminal.
type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
)

// DryRunID is the run id used when a run writes nothing.
const DryRunID = "test-run"

var validRunTransitions = map[RunStatus][]RunStatus{
	RunNotStarted: {RunRunning},
	RunRunning:    {RunSucceeded, RunFailed},
}

// IsTransitionAllowed reports whether a run may move from → to.
func IsTransitionAllowed(from, to RunStatus) bool {
	return slices.Contains(validRunTransitions[from], to)
}

// RunRecord is one crawl attempt of a target. Records are append-only.
type RunRecord struct {
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	HeartbeatAt    *time.Time `json:"heartbeat_at,omitempty"`
	Error          *string    `json:"error"`
	ID             string     `json:"id"`
	ScraperID      string     `json:"scraper_id"`
	CandidateCount int        `json:"candidate_count"`
	NewEventCount  int        `json:"new_event_count"`
}

// Status derives the lifecycle state from the sealed fields.
func (r *RunRecord) Status() RunStatus {
	switch {
	case r.StartTime.IsZero():
		return RunNotStarted
	case r.EndTime == nil:
		return RunRunning
	case r.Error != nil:
		return RunFailed
	default:
		return RunSucceeded
	}
}

// Seal closes a running record. The end time is clamped so it never
// precedes the start time.
func (r *RunRecord) Seal(now time.Time, runErr error) error {
	to := RunSucceeded
	if runErr != nil {
		to = RunFailed
	}
	if from := r.Status(); !IsTransitionAllowed(from, to) {
		return fmt.Errorf("run %s: cannot move from %s to %s", r.ID, from, to)
	}

	end := now
	if end.Before(r.StartTime) {
		end = r.StartTime
	}
	r.EndTime = &end
	if runErr != nil {
		msg := runErr.Error()
		r.Error = &msg
	}
	return nil
}

// RunContext carries the identity of one run through every component call.
type RunContext struct {
	StartedAt time.Time
	Since     *time.Time
	Metadata  ScraperMetadata
	RunID     string
	Online    bool
}

// ScraperID returns the id of the target being crawled.
func (rc *RunContext) ScraperID() string {
	return rc.Metadata.ID
}
