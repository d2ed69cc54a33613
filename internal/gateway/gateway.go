// Package gateway defines the remote tool-call boundary to the
// experiment runner backend. It is the only way to ask for current
// truth about experiments, runs, and sessions. Calls have plain
// request/response semantics with no ordering guarantee between
// concurrent calls; timeouts are the transport's responsibility and
// surface as ordinary errors.
package gateway

import (
	"context"
	"time"
)

// WireError is one error record as reported by the backend.
type WireError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Count     int    `json:"count"`
	LastSeen  string `json:"lastSeen"`
}

// StatusSnapshot is a raw run status as delivered by a push event or a
// poll. Timestamps are RFC3339 strings on the wire; empty means absent.
// Any field may be missing in a partial response.
type StatusSnapshot struct {
	RunID        string `json:"runId"`
	ExperimentID string `json:"experimentId"`
	Status       string `json:"status"`

	StartedAt   string `json:"startedAt"`
	PausedAt    string `json:"pausedAt"`
	ResumedAt   string `json:"resumedAt"`
	CompletedAt string `json:"completedAt"`

	TotalSessions     int `json:"totalSessions"`
	CompletedSessions int `json:"completedSessions"`
	FailedSessions    int `json:"failedSessions"`
	ActiveSessions    int `json:"activeSessions"`

	ErrorRate float64     `json:"errorRate"`
	Errors    []WireError `json:"errors"`
	Progress  float64     `json:"progress"`

	SessionIDs []string `json:"sessionIds"`
}

// ParseTime converts a wire timestamp to a time pointer, nil when the
// field was absent or malformed. Malformed timestamps are a partial
// response, not an error (they default to safe absence).
func ParseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// SessionRecord is a raw session as embedded in results payloads or
// returned by a detail fetch. The status may live in any of several
// fields across backend revisions; RawStatus resolves the precedence.
type SessionRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// ConversationStatus is the newer, conversation-scoped status field.
	ConversationStatus string `json:"conversationStatus"`
	// Status is the older generic status field.
	Status string `json:"status"`
	// IsActive marks sessions the runner currently holds open.
	IsActive bool `json:"isActive"`

	MessageCount     *int `json:"messageCount"`
	ParticipantCount *int `json:"participantCount"`
	AnalysisCount    *int `json:"analysisCount"`

	CreatedAt      string `json:"createdAt"`
	LastActivityAt string `json:"lastActivityAt"`

	Messages     []WireMessage     `json:"messages"`
	Participants []WireParticipant `json:"participants"`
	Stats        *WireSessionStats `json:"stats"`
	Analyses     []WireAnalysis    `json:"analyses"`
}

// RawStatus resolves the session's status across the possible raw
// fields: the conversation status wins, then the generic status, then
// an active/pending inference from IsActive. Empty means the record
// carried no status information at all.
func (r *SessionRecord) RawStatus() string {
	if r.ConversationStatus != "" {
		return r.ConversationStatus
	}
	if r.Status != "" {
		return r.Status
	}
	if r.IsActive {
		return "active"
	}
	return ""
}

// WireMessage is one conversation turn on the wire.
type WireMessage struct {
	ID            string `json:"id"`
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	Content       string `json:"content"`
	SentAt        string `json:"sentAt"`
}

// WireParticipant is one conversational party on the wire.
type WireParticipant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Provider     string `json:"provider"`
	MessageCount int    `json:"messageCount"`
}

// WireSessionStats are per-session statistics on the wire.
type WireSessionStats struct {
	MessageCount     int     `json:"messageCount"`
	ParticipantCount int     `json:"participantCount"`
	TokensUsed       int64   `json:"tokensUsed"`
	DurationSeconds  float64 `json:"durationSeconds"`
}

// WireAnalysis is one saved analysis snapshot on the wire.
type WireAnalysis struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
	Model     string `json:"model"`
	CreatedAt string `json:"createdAt"`
}

// ExperimentInfo describes the experiment configuration a results
// payload belongs to.
type ExperimentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Results is the payload of a results fetch. CurrentRun and
// CurrentStatus are alternative spellings across backend revisions;
// RunSnapshot resolves them.
type Results struct {
	Experiment     *ExperimentInfo `json:"experiment"`
	CurrentRun     *StatusSnapshot `json:"currentRun"`
	CurrentStatus  *StatusSnapshot `json:"currentStatus"`
	ActiveSessions []string        `json:"activeSessions"`
	Sessions       []SessionRecord `json:"sessions"`
}

// RunSnapshot returns whichever run snapshot the payload carries,
// preferring the newer currentRun field. Nil when both are absent.
func (r *Results) RunSnapshot() *StatusSnapshot {
	if r.CurrentRun != nil {
		return r.CurrentRun
	}
	return r.CurrentStatus
}

// SessionIDs returns the ids of the sessions embedded in the payload.
func (r *Results) SessionIDs() []string {
	ids := make([]string, 0, len(r.Sessions))
	for _, s := range r.Sessions {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// ExecuteConfig carries run parameters for executing an experiment.
type ExecuteConfig struct {
	SessionCount int               `json:"sessionCount"`
	Parameters   map[string]string `json:"parameters"`
}

// ExecuteAck is the immediate acknowledgment of an execute request.
// Local state advances no further than this acknowledgment justifies.
type ExecuteAck struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId"`
	Error   string `json:"error"`
}

// Gateway is the remote tool gateway consumed by the sync engine.
type Gateway interface {
	GetExperimentStatus(ctx context.Context, experimentID string) (*StatusSnapshot, error)
	GetExperimentResults(ctx context.Context, experimentID string) (*Results, error)
	GetSessionDetail(ctx context.Context, sessionID string) (*SessionRecord, error)

	ExecuteExperiment(ctx context.Context, experimentID string, cfg ExecuteConfig) (*ExecuteAck, error)
	PauseExperiment(ctx context.Context, experimentID string) error
	ResumeExperiment(ctx context.Context, experimentID string) error
	StopExperiment(ctx context.Context, experimentID string) error
	DeleteExperiment(ctx context.Context, experimentID string) error
}
