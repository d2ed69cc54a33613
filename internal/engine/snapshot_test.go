package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/experiment"
)

func summaryWithStatus(id string, status experiment.SessionStatus) *experiment.SessionSummary {
	s := experiment.NewSessionSummary(id)
	s.Status = status
	return s
}

func TestBuildSnapshot_CountsNeverUnderstateEitherSource(t *testing.T) {
	run := &experiment.Run{
		ID:             "r-1",
		Status:         experiment.RunRunning,
		TotalSessions:  3, // backend lags: five sessions already observed
		ActiveSessions: 1,
		SessionIDs:     []string{"s-1", "s-2", "s-3", "s-4", "s-5"},
	}
	view := View{Sessions: []*experiment.SessionSummary{
		summaryWithStatus("s-1", experiment.SessionRunning),
		summaryWithStatus("s-2", experiment.SessionRunning),
		summaryWithStatus("s-3", experiment.SessionCompleted),
		summaryWithStatus("s-4", experiment.SessionFailed),
		summaryWithStatus("s-5", experiment.SessionPending),
	}}

	snap := buildSnapshot("e-1", run, view, "")
	require.Equal(t, 5, snap.Run.TotalSessions)
	require.Equal(t, 2, snap.Run.ActiveSessions)
	require.Equal(t, 1, snap.Run.CompletedSessions)
	require.Equal(t, 1, snap.Run.FailedSessions)
}

func TestBuildSnapshot_BackendCountsWinWhenLarger(t *testing.T) {
	run := &experiment.Run{
		ID:                "r-1",
		Status:            experiment.RunRunning,
		TotalSessions:     10,
		ActiveSessions:    4,
		CompletedSessions: 3,
		SessionIDs:        []string{"s-1"},
	}
	view := View{Sessions: []*experiment.SessionSummary{
		summaryWithStatus("s-1", experiment.SessionRunning),
	}}

	snap := buildSnapshot("e-1", run, view, "")
	require.Equal(t, 10, snap.Run.TotalSessions)
	require.Equal(t, 4, snap.Run.ActiveSessions)
	require.Equal(t, 3, snap.Run.CompletedSessions)
}

func TestBuildSnapshot_TotalCoversStatusSum(t *testing.T) {
	run := &experiment.Run{
		ID:                "r-1",
		Status:            experiment.RunRunning,
		TotalSessions:     2,
		ActiveSessions:    2,
		CompletedSessions: 2,
		FailedSessions:    1,
	}
	snap := buildSnapshot("e-1", run, View{}, "")
	require.GreaterOrEqual(t, snap.Run.TotalSessions, 5)
}

func TestBuildSnapshot_NilRun(t *testing.T) {
	snap := buildSnapshot("e-1", nil, View{}, "warn")
	require.Nil(t, snap.Run)
	require.Equal(t, "e-1", snap.ExperimentID)
	require.Equal(t, "warn", snap.Warning)
}
