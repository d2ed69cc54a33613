package testutil

import (
	"time"

	"github.com/zjrosen/parley/internal/experiment"
)

// RunOption configures the run during builder setup.
type RunOption func(*experiment.Run)

// Status sets the run status. Non-terminal statuses clear the default
// completion timestamp.
func Status(status experiment.RunStatus) RunOption {
	return func(r *experiment.Run) {
		r.Status = status
		if !status.IsTerminal() {
			r.CompletedAt = nil
		}
	}
}

// Progress sets the run's completion estimate.
func Progress(p float64) RunOption {
	return func(r *experiment.Run) { r.Progress = p }
}

// StartedAt sets the run's start timestamp.
func StartedAt(t time.Time) RunOption {
	return func(r *experiment.Run) { r.StartedAt = &t }
}

// CompletedAt sets the run's completion timestamp.
func CompletedAt(t time.Time) RunOption {
	return func(r *experiment.Run) { r.CompletedAt = &t }
}

// TotalSessions overrides the derived total session count.
func TotalSessions(n int) RunOption {
	return func(r *experiment.Run) { r.TotalSessions = n }
}

// SessionIDs overrides the derived session id list.
func SessionIDs(ids ...string) RunOption {
	return func(r *experiment.Run) { r.SessionIDs = ids }
}

// ErrorRate overrides the derived error rate.
func ErrorRate(rate float64) RunOption {
	return func(r *experiment.Run) { r.ErrorRate = rate }
}

// SessionOption configures a session during builder setup.
type SessionOption func(*experiment.SessionSummary)

// Name sets the session's display name.
func Name(name string) SessionOption {
	return func(s *experiment.SessionSummary) { s.Name = name }
}

// SessionStatus sets the session's normalized status.
func SessionStatus(status experiment.SessionStatus) SessionOption {
	return func(s *experiment.SessionSummary) { s.Status = status }
}

// Messages sets the session's message count.
func Messages(n int) SessionOption {
	return func(s *experiment.SessionSummary) { s.MessageCount = n }
}

// Participants sets the session's participant count.
func Participants(n int) SessionOption {
	return func(s *experiment.SessionSummary) { s.ParticipantCount = n }
}

// LastActivity sets the session's last activity timestamp.
func LastActivity(t time.Time) SessionOption {
	return func(s *experiment.SessionSummary) { s.LastActivityAt = &t }
}

// Analyses attaches saved analyses to the session's detail and keeps
// the analysis count in sync.
func Analyses(analyses ...experiment.AnalysisSnapshot) SessionOption {
	return func(s *experiment.SessionSummary) {
		if s.Detail == nil {
			s.Detail = &experiment.SessionDetail{}
		}
		s.Detail.Analyses = append(s.Detail.Analyses, analyses...)
		s.AnalysisCount = len(s.Detail.Analyses)
	}
}

// Analysis creates an analysis snapshot for use with Analyses.
func Analysis(id, model, content string) experiment.AnalysisSnapshot {
	return experiment.AnalysisSnapshot{
		ID:        id,
		SessionID: "",
		Content:   content,
		Model:     model,
		CreatedAt: time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
	}
}
