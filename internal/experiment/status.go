// Package experiment provides the pure domain layer for experiment runs:
// the run lifecycle state machine, session summaries, and derived
// aggregate statistics. It has no infrastructure dependencies.
package experiment

import "strings"

// RunStatus represents the lifecycle state of an experiment run.
// Valid transitions:
//
//	Pending   -> Running, Stopped
//	Running   -> Paused, Completed, Failed, Stopped
//	Paused    -> Running, Completed, Failed, Stopped
//	Completed -> (terminal)
//	Failed    -> (terminal)
//	Stopped   -> (terminal)
type RunStatus string

const (
	// RunPending indicates the run is created but not yet started.
	RunPending RunStatus = "pending"
	// RunRunning indicates the run is actively executing sessions.
	RunRunning RunStatus = "running"
	// RunPaused indicates the run is temporarily suspended.
	RunPaused RunStatus = "paused"
	// RunCompleted indicates the run finished successfully.
	RunCompleted RunStatus = "completed"
	// RunFailed indicates the run terminated due to an error.
	RunFailed RunStatus = "failed"
	// RunStopped indicates the run was manually stopped by the user.
	RunStopped RunStatus = "stopped"
)

// validTransitions defines the allowed state transitions for runs.
// The key is the current status, the value is a set of valid targets.
var validTransitions = map[RunStatus]map[RunStatus]bool{
	RunPending: {
		RunRunning: true,
		RunStopped: true,
	},
	RunRunning: {
		RunPaused:    true,
		RunCompleted: true,
		RunFailed:    true,
		RunStopped:   true,
	},
	RunPaused: {
		RunRunning:   true,
		RunCompleted: true,
		RunFailed:    true,
		RunStopped:   true,
	},
	// Terminal states have no valid transitions
	RunCompleted: {},
	RunFailed:    {},
	RunStopped:   {},
}

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid returns true if this is a recognized RunStatus value.
func (s RunStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true for Completed, Failed, or Stopped. Terminal
// statuses have no outgoing transitions and runs in them are immutable.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunStopped
}

// IsLive returns true while the fallback poller should stay armed.
// Paused runs are not live: push events resume them, polling does not.
func (s RunStatus) IsLive() bool {
	return s == RunPending || s == RunRunning
}

// CanTransitionTo returns true if transitioning from the current status
// to the target is valid according to the run state machine.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	return allowed[target]
}

// ParseRunStatus normalizes a raw wire status into a RunStatus.
// Unrecognized values map to RunPending, the safe default.
func ParseRunStatus(raw string) RunStatus {
	s := RunStatus(strings.ToLower(strings.TrimSpace(raw)))
	if s.IsValid() {
		return s
	}
	return RunPending
}

// SessionStatus is the normalized per-session status shown in the
// reconciled view.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// IsKnown reports whether the status carries real information. The
// reconciler never overwrites a known status with an indeterminate one.
func (s SessionStatus) IsKnown() bool {
	switch s {
	case SessionRunning, SessionCompleted, SessionFailed:
		return true
	default:
		return false
	}
}

// NormalizeSessionStatus maps the raw status vocabulary used across
// gateway payloads onto the four normalized statuses. Matching is
// case-insensitive; anything unrecognized is pending.
func NormalizeSessionStatus(raw string) SessionStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete":
		return SessionCompleted
	case "running", "active", "in_progress":
		return SessionRunning
	case "failed", "error", "errored":
		return SessionFailed
	case "pending", "waiting", "queued":
		return SessionPending
	default:
		return SessionPending
	}
}
