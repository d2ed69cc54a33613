package sqlite

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/zjrosen/parley/internal/experiment"
)

// RunModel represents the database row for the archived_runs table.
// Fields map directly to SQL columns with Unix timestamps for time
// values; structured payloads are JSON encoded.
type RunModel struct {
	ExperimentID string
	RunID        string
	Status       string

	StartedAt   *int64 // Unix timestamp, nullable
	PausedAt    *int64 // Unix timestamp, nullable
	ResumedAt   *int64 // Unix timestamp, nullable
	CompletedAt *int64 // Unix timestamp, nullable

	TotalSessions     int
	CompletedSessions int
	FailedSessions    int
	ActiveSessions    int

	ErrorRate float64
	Progress  float64

	SessionIDs *string // nullable, JSON encoded
	Errors     *string // nullable, JSON encoded
	Sessions   *string // nullable, JSON encoded
	Stats      *string // nullable, JSON encoded

	ArchivedAt int64 // Unix timestamp
}

// toRunModel converts an archived run to a database RunModel.
func toRunModel(a *experiment.ArchivedRun, archivedAt time.Time) (*RunModel, error) {
	run := a.Run
	m := &RunModel{
		ExperimentID:      run.ExperimentID,
		RunID:             run.ID,
		Status:            string(run.Status),
		StartedAt:         unixPtr(run.StartedAt),
		PausedAt:          unixPtr(run.PausedAt),
		ResumedAt:         unixPtr(run.ResumedAt),
		CompletedAt:       unixPtr(run.CompletedAt),
		TotalSessions:     run.TotalSessions,
		CompletedSessions: run.CompletedSessions,
		FailedSessions:    run.FailedSessions,
		ActiveSessions:    run.ActiveSessions,
		ErrorRate:         run.ErrorRate,
		Progress:          run.Progress,
		ArchivedAt:        archivedAt.Unix(),
	}

	var err error
	if m.SessionIDs, err = jsonPtr(run.SessionIDs); err != nil {
		return nil, err
	}
	if m.Errors, err = jsonPtr(run.Errors); err != nil {
		return nil, err
	}
	if m.Sessions, err = jsonPtr(a.Sessions); err != nil {
		return nil, err
	}
	if m.Stats, err = jsonPtr(a.Stats); err != nil {
		return nil, err
	}
	return m, nil
}

// toDomain converts a database RunModel to an archived run.
func (m *RunModel) toDomain() (*experiment.ArchivedRun, error) {
	run := &experiment.Run{
		ID:                m.RunID,
		ExperimentID:      m.ExperimentID,
		Status:            experiment.RunStatus(m.Status),
		StartedAt:         timePtr(m.StartedAt),
		PausedAt:          timePtr(m.PausedAt),
		ResumedAt:         timePtr(m.ResumedAt),
		CompletedAt:       timePtr(m.CompletedAt),
		TotalSessions:     m.TotalSessions,
		CompletedSessions: m.CompletedSessions,
		FailedSessions:    m.FailedSessions,
		ActiveSessions:    m.ActiveSessions,
		ErrorRate:         m.ErrorRate,
		Progress:          m.Progress,
	}

	if m.SessionIDs != nil {
		if err := json.Unmarshal([]byte(*m.SessionIDs), &run.SessionIDs); err != nil {
			return nil, err
		}
	}
	if m.Errors != nil {
		if err := json.Unmarshal([]byte(*m.Errors), &run.Errors); err != nil {
			return nil, err
		}
	}

	archived := &experiment.ArchivedRun{Run: run}
	if m.Sessions != nil {
		if err := json.Unmarshal([]byte(*m.Sessions), &archived.Sessions); err != nil {
			return nil, err
		}
	}
	if m.Stats != nil {
		if err := json.Unmarshal([]byte(*m.Stats), &archived.Stats); err != nil {
			return nil, err
		}
	}
	return archived, nil
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timePtr(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0)
	return &t
}

// jsonPtr encodes a value to a nullable JSON column, nil for empty
// slices and zero values that would only store noise.
func jsonPtr(v any) (*string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	if s == "null" || s == "[]" {
		return nil, nil
	}
	return &s, nil
}
