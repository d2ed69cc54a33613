package testutil

import "github.com/zjrosen/parley/internal/experiment"

// WithDialogueSet adds the standard five-session dataset: four
// completed dialogues with varying message counts and one failed
// session with a recorded timeout.
func (b *RunBuilder) WithDialogueSet() *RunBuilder {
	return b.
		WithSession("s-1", Name("dialogue-1"), Messages(24), Participants(2)).
		WithSession("s-2", Name("dialogue-2"), Messages(18), Participants(2)).
		WithSession("s-3", Name("dialogue-3"), Messages(31), Participants(3)).
		WithSession("s-4", Name("dialogue-4"), Messages(12), Participants(2)).
		WithSession("s-5", Name("dialogue-5"), SessionStatus(experiment.SessionFailed)).
		WithError("timeout", "llm timeout", "s-5")
}

// CompletedRun builds a completed run carrying the standard dialogue
// set.
func CompletedRun(experimentID, runID string) *experiment.ArchivedRun {
	return NewRun(experimentID, runID).WithDialogueSet().Build()
}

// TerminalRun builds the standard run with an explicit terminal status.
func TerminalRun(experimentID, runID string, status experiment.RunStatus) *experiment.ArchivedRun {
	return NewRun(experimentID, runID, Status(status)).WithDialogueSet().Build()
}
