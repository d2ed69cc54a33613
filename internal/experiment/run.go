package experiment

import (
	"slices"
	"time"
)

// ErrorRecord is one distinct error observed during a run. Records are
// de-duplicated by type and message; repeats bump Count and LastSeenAt.
type ErrorRecord struct {
	Type       string
	Message    string
	SessionID  string
	Count      int
	LastSeenAt time.Time
}

// Run is the local belief about one experiment run's lifecycle, derived
// by merging push events and poll responses. It becomes immutable once
// Status is terminal.
type Run struct {
	ID           string
	ExperimentID string
	Status       RunStatus

	StartedAt   *time.Time
	PausedAt    *time.Time
	ResumedAt   *time.Time
	CompletedAt *time.Time

	TotalSessions     int
	CompletedSessions int
	FailedSessions    int
	ActiveSessions    int

	ErrorRate float64
	Errors    []ErrorRecord

	// Progress is a 0-100 completion estimate reported by the runner.
	Progress float64

	// SessionIDs is the set of session ids known to belong to this run,
	// in first-observed order. It never shrinks while the run is live:
	// absence of an id in one partial update is not evidence of deletion.
	SessionIDs []string
}

// Clone returns a deep copy. Snapshots handed to readers are clones so
// the engine remains the single writer of its own state.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	dup := *r
	dup.StartedAt = cloneTime(r.StartedAt)
	dup.PausedAt = cloneTime(r.PausedAt)
	dup.ResumedAt = cloneTime(r.ResumedAt)
	dup.CompletedAt = cloneTime(r.CompletedAt)
	dup.Errors = slices.Clone(r.Errors)
	dup.SessionIDs = slices.Clone(r.SessionIDs)
	return &dup
}

// RecordError merges an error occurrence into the distinct error list.
func (r *Run) RecordError(errType, message, sessionID string, at time.Time) {
	for i := range r.Errors {
		if r.Errors[i].Type == errType && r.Errors[i].Message == message {
			r.Errors[i].Count++
			r.Errors[i].LastSeenAt = at
			return
		}
	}
	r.Errors = append(r.Errors, ErrorRecord{
		Type:       errType,
		Message:    message,
		SessionID:  sessionID,
		Count:      1,
		LastSeenAt: at,
	})
}

// CountsConsistent checks the invariant
// completed + failed + active <= total.
func (r *Run) CountsConsistent() bool {
	return r.CompletedSessions+r.FailedSessions+r.ActiveSessions <= r.TotalSessions
}

// MergeSessionIDs unions session ids from partially-overlapping sources
// with documented precedence: the primary source (the run's own list)
// wins outright unless it is empty, in which case the fallback list
// (e.g. a results payload's embedded sessions) seeds the set. The active
// list is always unioned in - "currently active" ids belong to the run
// even when both snapshots omitted them. First-observed order is kept
// and duplicates are dropped.
func MergeSessionIDs(primary, fallback, active []string) []string {
	base := primary
	if len(base) == 0 {
		base = fallback
	}

	seen := make(map[string]bool, len(base)+len(active))
	merged := make([]string, 0, len(base)+len(active))
	for _, lst := range [][]string{base, active} {
		for _, id := range lst {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			merged = append(merged, id)
		}
	}
	return merged
}

// UnionSessionIDs adds newly observed ids to an existing monotonic set,
// preserving first-observed order. Existing ids are never dropped.
func UnionSessionIDs(existing, observed []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	merged := existing
	for _, id := range observed {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		merged = append(merged, id)
	}
	return merged
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	dup := *t
	return &dup
}
