// Package testutil provides fixture builders for archive and engine
// tests: fluent construction of archived runs whose counts, error rate,
// and aggregate stats stay consistent with their sessions.
package testutil

import (
	"time"

	"github.com/zjrosen/parley/internal/experiment"
)

// RunBuilder accumulates run and session data and assembles an archived
// run. Counts and statistics are derived from the sessions unless an
// option set them explicitly, so fixtures cannot drift out of internal
// consistency.
type RunBuilder struct {
	run      *experiment.Run
	sessions []*experiment.SessionSummary
}

// NewRun creates a builder for the given experiment and run ids. The
// run defaults to completed, with fixed timestamps so assertions on
// round-tripped values stay deterministic.
func NewRun(experimentID, runID string, opts ...RunOption) *RunBuilder {
	started := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	completed := started.Add(45 * time.Minute)
	run := &experiment.Run{
		ID:           runID,
		ExperimentID: experimentID,
		Status:       experiment.RunCompleted,
		StartedAt:    &started,
		CompletedAt:  &completed,
		Progress:     100,
	}
	for _, opt := range opts {
		opt(run)
	}
	return &RunBuilder{run: run}
}

// WithSession adds a session with optional configuration. Sessions
// default to completed.
func (b *RunBuilder) WithSession(id string, opts ...SessionOption) *RunBuilder {
	s := experiment.NewSessionSummary(id)
	s.Status = experiment.SessionCompleted
	for _, opt := range opts {
		opt(s)
	}
	b.sessions = append(b.sessions, s)
	return b
}

// WithError records an error occurrence on the run, timestamped at the
// run's completion time.
func (b *RunBuilder) WithError(errType, message, sessionID string) *RunBuilder {
	at := time.Now()
	if b.run.CompletedAt != nil {
		at = *b.run.CompletedAt
	}
	b.run.RecordError(errType, message, sessionID, at)
	return b
}

// Build assembles the archived run. The returned value shares nothing
// with the builder, so one builder can produce independent fixtures.
func (b *RunBuilder) Build() *experiment.ArchivedRun {
	run := b.run.Clone()

	if len(run.SessionIDs) == 0 {
		for _, s := range b.sessions {
			run.SessionIDs = append(run.SessionIDs, s.ID)
		}
	}

	var completed, failed, active int
	for _, s := range b.sessions {
		switch s.Status {
		case experiment.SessionCompleted:
			completed++
		case experiment.SessionFailed:
			failed++
		case experiment.SessionRunning:
			active++
		}
	}
	if run.TotalSessions == 0 {
		run.TotalSessions = len(b.sessions)
	}
	if run.CompletedSessions == 0 {
		run.CompletedSessions = completed
	}
	if run.FailedSessions == 0 {
		run.FailedSessions = failed
	}
	if run.ActiveSessions == 0 {
		run.ActiveSessions = active
	}
	if run.ErrorRate == 0 && run.TotalSessions > 0 {
		run.ErrorRate = float64(run.FailedSessions) / float64(run.TotalSessions)
	}

	sessions := make([]*experiment.SessionSummary, len(b.sessions))
	for i, s := range b.sessions {
		sessions[i] = s.Clone()
	}

	return &experiment.ArchivedRun{
		Run:      run,
		Sessions: sessions,
		Stats:    experiment.ComputeAggregates(sessions),
	}
}
