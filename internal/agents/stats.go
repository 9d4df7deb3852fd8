// Package agents holds the shared bookkeeping the four autonomous agents
// (scaling, optimization, healing, prediction) each carry: total,
// successful and failed decisions, last activity, error count and last
// error. These count agent *decisions*, not scheduler job executions; a
// cycle that runs cleanly but decides nothing only touches last
// activity.
package agents

import (
	"sync"
	"time"
)

// Stats is one agent's running decision/error tally.
type Stats struct {
	TotalDecisions      int64
	SuccessfulDecisions int64
	FailedDecisions     int64
	LastActivity        time.Time
	ErrorCount          int64
	LastError           string
}

// StatsTracker guards a Stats block for concurrent update from a cron job
// goroutine and concurrent read from a status/introspection call.
type StatsTracker struct {
	mu    sync.Mutex
	stats Stats
}

// RecordDecision tallies one decision outcome, timestamped now.
func (t *StatsTracker) RecordDecision(now time.Time, successful bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.TotalDecisions++
	if successful {
		t.stats.SuccessfulDecisions++
	} else {
		t.stats.FailedDecisions++
	}
	t.stats.LastActivity = now
}

// RecordError tallies a cycle-level error (distinct from a failed decision:
// an error means the cycle itself could not complete).
func (t *StatsTracker) RecordError(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.ErrorCount++
	t.stats.LastError = err.Error()
	t.stats.LastActivity = now
}

// Touch records cycle activity with no decision or error to report.
func (t *StatsTracker) Touch(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.LastActivity = now
}

// Snapshot returns a copy of the current stats.
func (t *StatsTracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
