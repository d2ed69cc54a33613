package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/gateway"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRunTracker_FirstObservationAdoptsCandidate(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	require.Nil(t, tr.Current())

	res := tr.ApplyStatus(&gateway.StatusSnapshot{
		RunID:        "r-1",
		ExperimentID: "e-1",
		Status:       "running",
		SessionIDs:   []string{"s-1", "s-2"},
		Progress:     10,
	})

	require.True(t, res.Changed)
	require.True(t, res.Transitioned)
	require.True(t, res.NewRun)
	require.Equal(t, experiment.RunRunning, res.To)

	run := tr.Current()
	require.Equal(t, "r-1", run.ID)
	require.Equal(t, []string{"s-1", "s-2"}, run.SessionIDs)
	require.NotNil(t, run.StartedAt, "missing startedAt defaults to now")
}

func TestRunTracker_NilCandidateIsNoOp(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	require.Equal(t, ApplyResult{}, tr.ApplyStatus(nil))
	require.Nil(t, tr.Current())
}

func TestRunTracker_SessionIDsNeverRegress(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{
		RunID: "r-1", Status: "running", SessionIDs: []string{"s-1", "s-2", "s-3"},
	})

	// A partial update with no session ids keeps the known set.
	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", Progress: 50})
	require.True(t, res.Changed, "progress changed")
	require.Equal(t, []string{"s-1", "s-2", "s-3"}, tr.Current().SessionIDs)

	// A shorter list unions rather than replaces.
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", Progress: 50, SessionIDs: []string{"s-4"}})
	require.Equal(t, []string{"s-1", "s-2", "s-3", "s-4"}, tr.Current().SessionIDs)
}

func TestRunTracker_DuplicateSnapshotReportsUnchanged(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	snap := &gateway.StatusSnapshot{
		RunID: "r-1", Status: "running", Progress: 40,
		TotalSessions: 5, ActiveSessions: 5, SessionIDs: []string{"s-1"},
	}
	tr.ApplyStatus(snap)

	res := tr.ApplyStatus(snap)
	require.False(t, res.Changed, "identical snapshot must not trigger refetch")
	require.False(t, res.Transitioned)
}

func TestRunTracker_InvalidTransitionKeepsStatus(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running"})

	// Stale out-of-order pending arrives after running.
	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "pending"})
	require.False(t, res.Transitioned)
	require.Equal(t, experiment.RunRunning, tr.Current().Status)
}

func TestRunTracker_PauseResumeCycle(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running"})

	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "paused"})
	require.True(t, res.Transitioned)
	require.Equal(t, experiment.RunPaused, tr.Current().Status)

	res = tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running"})
	require.True(t, res.Transitioned)
	require.Equal(t, experiment.RunRunning, tr.Current().Status)
}

func TestRunTracker_JustCompletedOnlyOnRunningToCompleted(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running"})

	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "completed"})
	require.True(t, res.JustCompleted)

	// Terminal state is immutable; replaying completion changes nothing.
	res = tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "completed"})
	require.False(t, res.JustCompleted)
	require.False(t, res.Changed)
}

func TestRunTracker_PausedToCompletedIsNotJustCompleted(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running"})
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "paused"})

	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "completed"})
	require.True(t, res.Transitioned)
	require.False(t, res.JustCompleted, "only running->completed schedules the forced refresh")
}

func TestRunTracker_TerminalRunIsImmutable(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", SessionIDs: []string{"s-1"}})
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "failed"})

	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", Progress: 99})
	require.Equal(t, ApplyResult{}, res)
	require.Equal(t, experiment.RunFailed, tr.Current().Status)

	require.False(t, tr.AddSessions("s-2"), "terminal membership is frozen")
}

func TestRunTracker_NewRunIDAdoptsFreshState(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "completed", SessionIDs: []string{"s-1"}})

	res := tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-2", Status: "pending"})
	require.True(t, res.NewRun)
	require.Equal(t, experiment.RunCompleted, res.From)
	require.Equal(t, experiment.RunPending, res.To)

	run := tr.Current()
	require.Equal(t, "r-2", run.ID)
	require.Empty(t, run.SessionIDs, "old run's sessions do not carry over")
}

func TestRunTracker_AddSessionsGrowsMembership(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	require.False(t, tr.AddSessions("s-1"), "no run yet")

	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", SessionIDs: []string{"s-1"}})
	require.True(t, tr.AddSessions("s-2"))
	require.False(t, tr.AddSessions("s-2"), "duplicate does not grow")
	require.Equal(t, []string{"s-1", "s-2"}, tr.Current().SessionIDs)
}

func TestRunTracker_FetchFailureThreshold(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 3)
	require.False(t, tr.RecordFetchFailure())
	require.False(t, tr.RecordFetchFailure())
	require.True(t, tr.RecordFetchFailure())
	require.Equal(t, 3, tr.ConsecutiveFailures())

	// A successful apply resets the streak.
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running"})
	require.Equal(t, 0, tr.ConsecutiveFailures())
}

func TestRunTracker_CumulativeErrorListAdopted(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{
		RunID: "r-1", Status: "running",
		Errors: []gateway.WireError{{Type: "timeout", Message: "llm timeout", Count: 2}},
	})
	require.Len(t, tr.Current().Errors, 1)
	require.Equal(t, 2, tr.Current().Errors[0].Count)

	// Next snapshot carries the grown cumulative list.
	tr.ApplyStatus(&gateway.StatusSnapshot{
		RunID: "r-1", Status: "running", Progress: 10,
		Errors: []gateway.WireError{
			{Type: "timeout", Message: "llm timeout", Count: 3},
			{Type: "rate_limit", Message: "throttled", Count: 1},
		},
	})
	run := tr.Current()
	require.Len(t, run.Errors, 2)
	require.Equal(t, 3, run.Errors[0].Count, "count adopted, not re-accumulated")

	// A partial response without errors keeps the known list.
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", Progress: 20})
	require.Len(t, tr.Current().Errors, 2)
}

func TestRunTracker_CurrentReturnsClone(t *testing.T) {
	tr := NewRunTracker(newFakeClock(), 0)
	tr.ApplyStatus(&gateway.StatusSnapshot{RunID: "r-1", Status: "running", SessionIDs: []string{"s-1"}})

	run := tr.Current()
	run.SessionIDs[0] = "tampered"
	run.Status = experiment.RunFailed

	require.Equal(t, []string{"s-1"}, tr.Current().SessionIDs)
	require.Equal(t, experiment.RunRunning, tr.Current().Status)
}
