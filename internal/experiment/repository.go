package experiment

import "fmt"

// ArchivedRun is a fully reconciled terminal run kept for later
// browsing: the run, its session summaries, and the aggregates that
// were current when it reached a terminal status.
type ArchivedRun struct {
	Run      *Run
	Sessions []*SessionSummary
	Stats    AggregateStats
}

// RunNotFoundError indicates no archived run exists for an experiment.
type RunNotFoundError struct {
	ExperimentID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("no archived run for experiment %q", e.ExperimentID)
}

// ArchiveRepository persists terminal runs keyed by experiment id.
// A newer run for the same experiment replaces the previous entry.
type ArchiveRepository interface {
	// Save persists an archived run, replacing any existing entry for
	// the same experiment id.
	Save(archived *ArchivedRun) error

	// FindByExperiment retrieves the archived run for an experiment.
	// Returns RunNotFoundError if none exists.
	FindByExperiment(experimentID string) (*ArchivedRun, error)

	// ListRecent returns up to limit archived runs ordered by
	// completion time, newest first.
	ListRecent(limit int) ([]*ArchivedRun, error)

	// Delete removes the archived run for an experiment, if present.
	Delete(experimentID string) error
}
