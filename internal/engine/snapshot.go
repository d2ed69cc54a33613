package engine

import (
	"github.com/zjrosen/parley/internal/experiment"
)

// Snapshot is the engine's published view of one experiment: the run
// lifecycle state plus the reconciled session collection. Consumers
// receive clones and may hold them indefinitely.
type Snapshot struct {
	ExperimentID string
	Run          *experiment.Run
	Sessions     []*experiment.SessionSummary
	Stats        experiment.AggregateStats

	// Warning carries a non-fatal staleness notice, e.g. after repeated
	// status fetch failures. Empty when the view is believed current.
	Warning string

	// FromCache marks a snapshot served from the completed-run cache
	// without touching the backend.
	FromCache bool
}

// buildSnapshot derives the published snapshot from tracker and
// reconciler state. Counts reported by the backend and counts derived
// from per-session statuses can disagree mid-run; the snapshot never
// understates either source.
func buildSnapshot(experimentID string, run *experiment.Run, view View, warning string) *Snapshot {
	snap := &Snapshot{
		ExperimentID: experimentID,
		Run:          run,
		Sessions:     view.Sessions,
		Stats:        view.Stats,
		Warning:      warning,
	}
	if run != nil {
		reconcileCounts(run, view.Sessions)
	}
	return snap
}

// reconcileCounts raises the run's counts to cover what the session
// collection itself shows. The backend's numbers may lag the session
// details (or vice versa); display the larger of the two beliefs.
func reconcileCounts(run *experiment.Run, sessions []*experiment.SessionSummary) {
	var active, completed, failed int
	for _, s := range sessions {
		switch s.Status {
		case experiment.SessionRunning:
			active++
		case experiment.SessionCompleted:
			completed++
		case experiment.SessionFailed:
			failed++
		}
	}

	run.TotalSessions = max(run.TotalSessions, len(run.SessionIDs), len(sessions))
	run.ActiveSessions = max(run.ActiveSessions, active)
	run.CompletedSessions = max(run.CompletedSessions, completed)
	run.FailedSessions = max(run.FailedSessions, failed)
	run.TotalSessions = max(run.TotalSessions, run.CompletedSessions+run.FailedSessions+run.ActiveSessions)
}
