package experiment

import (
	"slices"
	"time"
)

// Message is one turn of a conversation session.
type Message struct {
	ID            string
	SessionID     string
	ParticipantID string
	Role          string
	Content       string
	SentAt        time.Time
}

// Participant is one conversational party in a session, AI or human.
type Participant struct {
	ID   string
	Name string
	// Role distinguishes participant kinds ("assistant", "user", ...)
	// for per-role contribution stats.
	Role         string
	Provider     string
	MessageCount int
}

// AnalysisSnapshot is one saved AI-generated analysis of a session.
type AnalysisSnapshot struct {
	ID        string
	SessionID string
	Content   string
	Model     string
	CreatedAt time.Time
}

// SessionStats are per-session statistics reported by the backend.
type SessionStats struct {
	MessageCount     int
	ParticipantCount int
	TokensUsed       int64
	DurationSeconds  float64
}

// SessionDetail is the richer payload attached to a summary once a
// detail fetch succeeds.
type SessionDetail struct {
	Messages     []Message
	Participants []Participant
	Stats        *SessionStats
	Analyses     []AnalysisSnapshot
}

// SessionSummary is the reconciled per-session view. Owned exclusively
// by the reconciler; readers only ever see clones. A summary is created
// the first time its id is observed for a run and enriched - never
// destructively overwritten - as more detail arrives.
type SessionSummary struct {
	ID               string
	Name             string
	MessageCount     int
	ParticipantCount int
	Status           SessionStatus
	CreatedAt        *time.Time
	LastActivityAt   *time.Time
	AnalysisCount    int
	Detail           *SessionDetail
}

// NewSessionSummary creates the placeholder summary for a freshly
// observed session id.
func NewSessionSummary(id string) *SessionSummary {
	return &SessionSummary{ID: id, Status: SessionPending}
}

// Clone returns a deep copy of the summary.
func (s *SessionSummary) Clone() *SessionSummary {
	if s == nil {
		return nil
	}
	dup := *s
	dup.CreatedAt = cloneTime(s.CreatedAt)
	dup.LastActivityAt = cloneTime(s.LastActivityAt)
	if s.Detail != nil {
		detail := SessionDetail{
			Messages:     slices.Clone(s.Detail.Messages),
			Participants: slices.Clone(s.Detail.Participants),
			Analyses:     slices.Clone(s.Detail.Analyses),
		}
		if s.Detail.Stats != nil {
			stats := *s.Detail.Stats
			detail.Stats = &stats
		}
		dup.Detail = &detail
	}
	return &dup
}

// SessionUpdate carries the fields a detail fetch produced. Nil / zero
// fields were absent from the response and leave the summary untouched.
type SessionUpdate struct {
	Name             string
	MessageCount     *int
	ParticipantCount *int
	// RawStatus is the unnormalized status from the wire; empty means
	// the response carried no status field.
	RawStatus      string
	CreatedAt      *time.Time
	LastActivityAt *time.Time
	AnalysisCount  *int
	Detail         *SessionDetail
}

// Apply merges an update into the summary, overwriting only fields the
// update actually carries. A known normalized status is never replaced
// by an indeterminate one.
func (s *SessionSummary) Apply(u SessionUpdate) {
	if u.Name != "" {
		s.Name = u.Name
	}
	if u.MessageCount != nil {
		s.MessageCount = *u.MessageCount
	}
	if u.ParticipantCount != nil {
		s.ParticipantCount = *u.ParticipantCount
	}
	if u.RawStatus != "" {
		candidate := NormalizeSessionStatus(u.RawStatus)
		if candidate.IsKnown() || !s.Status.IsKnown() {
			s.Status = candidate
		}
	}
	if u.CreatedAt != nil {
		s.CreatedAt = cloneTime(u.CreatedAt)
	}
	if u.LastActivityAt != nil {
		s.LastActivityAt = cloneTime(u.LastActivityAt)
	}
	if u.AnalysisCount != nil {
		s.AnalysisCount = *u.AnalysisCount
	}
	if u.Detail != nil {
		s.Detail = u.Detail
		if u.Detail.Stats != nil {
			if u.MessageCount == nil {
				s.MessageCount = u.Detail.Stats.MessageCount
			}
			if u.ParticipantCount == nil {
				s.ParticipantCount = u.Detail.Stats.ParticipantCount
			}
		}
		if u.AnalysisCount == nil {
			s.AnalysisCount = len(u.Detail.Analyses)
		}
	}
}
