package engine

import (
	"sync"

	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/gateway"
	"github.com/zjrosen/parley/internal/log"
)

// DefaultFailureWarnThreshold is the number of consecutive status fetch
// failures after which a non-fatal warning surfaces on the snapshot.
const DefaultFailureWarnThreshold = 3

// ApplyResult describes the outcome of merging a status candidate.
type ApplyResult struct {
	// Changed is true when a field that drives downstream recomputation
	// actually differed: status, progress, session counts, error rate,
	// or the number of known session ids. Duplicate notifications
	// produce Changed=false and suppress redundant refetches.
	Changed bool

	// Transitioned is true when the run status itself changed.
	Transitioned bool
	From, To     experiment.RunStatus

	// JustCompleted marks the specific running -> completed transition,
	// which schedules a delayed cache-busting session refresh.
	JustCompleted bool

	// NewRun is true when the candidate carried a different run id and
	// the tracker adopted a fresh run, resetting session membership.
	NewRun bool
}

// RunTracker holds the authoritative local belief about one experiment
// run's lifecycle. It is the single writer of that state; readers get
// clones. A failed status fetch leaves the state untouched - unknown
// this cycle, not "run disappeared".
type RunTracker struct {
	mu    sync.Mutex
	clock Clock

	current *experiment.Run

	consecutiveFailures int
	warnThreshold       int
}

// NewRunTracker creates a tracker with no current run.
func NewRunTracker(clock Clock, warnThreshold int) *RunTracker {
	if warnThreshold <= 0 {
		warnThreshold = DefaultFailureWarnThreshold
	}
	return &RunTracker{clock: clock, warnThreshold: warnThreshold}
}

// Current returns a clone of the current run, or nil before the first
// status has been adopted.
func (t *RunTracker) Current() *experiment.Run {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Clone()
}

// Reset drops all run state, e.g. when the user selects a different
// experiment.
func (t *RunTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
	t.consecutiveFailures = 0
}

// AddSessions unions newly observed session ids into the run's
// membership set. Returns true if the set grew. A no-op before the
// first status or once the run is terminal.
func (t *RunTracker) AddSessions(ids ...string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || t.current.Status.IsTerminal() {
		return false
	}
	before := len(t.current.SessionIDs)
	t.current.SessionIDs = experiment.UnionSessionIDs(t.current.SessionIDs, ids)
	return len(t.current.SessionIDs) > before
}

// ApplyStatus merges a raw status snapshot from a push event or a poll
// into the current state. Merge rules, in order:
//
//  1. No current state: adopt the candidate verbatim, normalizing wire
//     timestamps and defaulting a missing startedAt to now.
//  2. Session ids are preserved when the candidate's list is empty -
//     known sessions never regress to zero.
//  3. Changed is reported only when a recompute-driving field differs.
//  4. The running -> completed transition is flagged so the caller can
//     schedule the delayed forced refresh.
func (t *RunTracker) ApplyStatus(candidate *gateway.StatusSnapshot) ApplyResult {
	if candidate == nil {
		return ApplyResult{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures = 0

	next := runFromSnapshot(candidate, t.clock)

	// Rule 1: first observation.
	if t.current == nil {
		t.current = next
		return ApplyResult{
			Changed:      true,
			Transitioned: true,
			To:           next.Status,
			NewRun:       true,
		}
	}

	// A different run id for the same experiment means a new run was
	// started; adopt fresh state, dropping the old run's sessions.
	if next.ID != "" && t.current.ID != "" && next.ID != t.current.ID {
		from := t.current.Status
		t.current = next
		return ApplyResult{
			Changed:      true,
			Transitioned: true,
			From:         from,
			To:           next.Status,
			NewRun:       true,
		}
	}

	// Terminal runs are immutable.
	if t.current.Status.IsTerminal() {
		return ApplyResult{}
	}

	prev := t.current
	merged := prev.Clone()

	// Status only moves along valid transitions; a stale out-of-order
	// candidate (e.g. pending after running) keeps the current status.
	if next.Status != prev.Status && prev.Status.CanTransitionTo(next.Status) {
		merged.Status = next.Status
	}

	if next.StartedAt != nil {
		merged.StartedAt = next.StartedAt
	}
	if next.PausedAt != nil {
		merged.PausedAt = next.PausedAt
	}
	if next.ResumedAt != nil {
		merged.ResumedAt = next.ResumedAt
	}
	if next.CompletedAt != nil {
		merged.CompletedAt = next.CompletedAt
	}

	merged.TotalSessions = next.TotalSessions
	merged.CompletedSessions = next.CompletedSessions
	merged.FailedSessions = next.FailedSessions
	merged.ActiveSessions = next.ActiveSessions
	merged.ErrorRate = next.ErrorRate
	merged.Progress = next.Progress

	// The wire error list is cumulative; adopt it when present and keep
	// the previous list when a partial response omits it.
	if len(next.Errors) > 0 {
		merged.Errors = next.Errors
	}

	// Rule 2: never regress known sessions.
	if len(candidate.SessionIDs) > 0 {
		merged.SessionIDs = experiment.UnionSessionIDs(prev.SessionIDs, candidate.SessionIDs)
	} else {
		merged.SessionIDs = prev.SessionIDs
	}

	if !merged.CountsConsistent() {
		log.Warn(log.CatEngine, "inconsistent session counts in status snapshot",
			"runId", merged.ID, "total", merged.TotalSessions,
			"completed", merged.CompletedSessions, "failed", merged.FailedSessions, "active", merged.ActiveSessions)
	}

	result := ApplyResult{
		Changed: merged.Status != prev.Status ||
			merged.Progress != prev.Progress ||
			merged.CompletedSessions != prev.CompletedSessions ||
			merged.FailedSessions != prev.FailedSessions ||
			merged.ActiveSessions != prev.ActiveSessions ||
			merged.ErrorRate != prev.ErrorRate ||
			len(merged.SessionIDs) != len(prev.SessionIDs),
		Transitioned:  merged.Status != prev.Status,
		From:          prev.Status,
		To:            merged.Status,
		JustCompleted: prev.Status == experiment.RunRunning && merged.Status == experiment.RunCompleted,
	}

	t.current = merged
	return result
}

// RecordFetchFailure counts a failed status fetch. The current state is
// left untouched. Returns true once the consecutive failure count
// reaches the warning threshold.
func (t *RunTracker) RecordFetchFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutiveFailures++
	return t.consecutiveFailures >= t.warnThreshold
}

// ConsecutiveFailures returns the current failure streak.
func (t *RunTracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}

// runFromSnapshot normalizes a wire status snapshot into a domain run.
// A missing startedAt defaults to now so relative durations render
// sensibly for runs the backend never timestamped.
func runFromSnapshot(snap *gateway.StatusSnapshot, clock Clock) *experiment.Run {
	run := &experiment.Run{
		ID:                snap.RunID,
		ExperimentID:      snap.ExperimentID,
		Status:            experiment.ParseRunStatus(snap.Status),
		StartedAt:         gateway.ParseTime(snap.StartedAt),
		PausedAt:          gateway.ParseTime(snap.PausedAt),
		ResumedAt:         gateway.ParseTime(snap.ResumedAt),
		CompletedAt:       gateway.ParseTime(snap.CompletedAt),
		TotalSessions:     snap.TotalSessions,
		CompletedSessions: snap.CompletedSessions,
		FailedSessions:    snap.FailedSessions,
		ActiveSessions:    snap.ActiveSessions,
		ErrorRate:         snap.ErrorRate,
		Progress:          snap.Progress,
		SessionIDs:        experiment.UnionSessionIDs(nil, snap.SessionIDs),
	}

	if run.StartedAt == nil {
		now := clock.Now()
		run.StartedAt = &now
	}

	for _, we := range snap.Errors {
		at := clock.Now()
		if parsed := gateway.ParseTime(we.LastSeen); parsed != nil {
			at = *parsed
		}
		count := we.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			run.RecordError(we.Type, we.Message, we.SessionID, at)
		}
	}

	return run
}
