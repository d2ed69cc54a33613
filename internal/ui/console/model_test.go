package console

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/cachemanager"
	"github.com/zjrosen/parley/internal/config"
	"github.com/zjrosen/parley/internal/engine"
	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/gateway"
	"github.com/zjrosen/parley/internal/pubsub"
)

func testModel(t *testing.T) Model {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	eng := engine.New(gateway.NewMock(), pubsub.NewBus(), engine.Config{})
	eng.Start(ctx)
	t.Cleanup(eng.Stop)

	m := New(ctx, eng, config.UIConfig{ShowStatusBar: true, MarkdownStyle: "dark"})
	return m.SetSize(100, 30)
}

func testSnapshot(sessions ...*experiment.SessionSummary) *engine.Snapshot {
	return &engine.Snapshot{
		ExperimentID: "exp-1",
		Run: &experiment.Run{
			ID:                "run-1",
			ExperimentID:      "exp-1",
			Status:            experiment.RunRunning,
			TotalSessions:     len(sessions),
			CompletedSessions: 0,
			ActiveSessions:    len(sessions),
			Progress:          40,
		},
		Sessions: sessions,
		Stats:    experiment.ComputeAggregates(sessions),
	}
}

func session(id, name string, status experiment.SessionStatus) *experiment.SessionSummary {
	s := experiment.NewSessionSummary(id)
	s.Name = name
	s.Status = status
	s.MessageCount = 3
	return s
}

func snapshotEvent(snap *engine.Snapshot) pubsub.Event[*engine.Snapshot] {
	return pubsub.Event[*engine.Snapshot]{Payload: snap}
}

func keyRune(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

// apply runs one update cycle and re-asserts the concrete model type.
func apply(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	next, ok := updated.(Model)
	require.True(t, ok, "update should return a console model")
	return next, cmd
}

func TestModel_NoExperimentSelected(t *testing.T) {
	m := testModel(t)

	view := m.View()
	require.Contains(t, view, "parley")
	require.Contains(t, view, "No experiment selected")
}

func TestModel_SnapshotEventRenders(t *testing.T) {
	m := testModel(t)

	snap := testSnapshot(
		session("s-1", "dialogue-alpha", experiment.SessionRunning),
		session("s-2", "dialogue-beta", experiment.SessionCompleted),
	)
	m, cmd := apply(t, m, snapshotEvent(snap))
	require.NotNil(t, cmd, "should keep listening after a snapshot")

	view := m.View()
	require.Contains(t, view, "exp-1")
	require.Contains(t, view, "RUNNING")
	require.Contains(t, view, "s-1")
	require.Contains(t, view, "dialogue-alpha")
	require.Contains(t, view, "dialogue-beta")
	require.Contains(t, view, "2 sessions")
}

func TestModel_CachedSnapshotShowsBadge(t *testing.T) {
	m := testModel(t)

	snap := testSnapshot(session("s-1", "done", experiment.SessionCompleted))
	snap.Run.Status = experiment.RunCompleted
	snap.FromCache = true
	m, _ = apply(t, m, snapshotEvent(snap))

	view := m.View()
	require.Contains(t, view, "COMPLETED")
	require.Contains(t, view, "(cached)")
}

func TestModel_WarningRendered(t *testing.T) {
	m := testModel(t)

	snap := testSnapshot(session("s-1", "a", experiment.SessionRunning))
	snap.Warning = "live updates unavailable; view may be stale"
	m, _ = apply(t, m, snapshotEvent(snap))

	require.Contains(t, m.View(), "live updates unavailable")
}

func TestModel_CursorNavigationClamps(t *testing.T) {
	m := testModel(t)
	snap := testSnapshot(
		session("s-1", "a", experiment.SessionRunning),
		session("s-2", "b", experiment.SessionRunning),
		session("s-3", "c", experiment.SessionRunning),
	)
	m, _ = apply(t, m, snapshotEvent(snap))

	// Up at the top stays put
	m, _ = apply(t, m, keyRune('k'))
	require.Equal(t, 0, m.cursor)

	m, _ = apply(t, m, keyRune('j'))
	m, _ = apply(t, m, keyRune('j'))
	require.Equal(t, 2, m.cursor)

	// Down at the bottom stays put
	m, _ = apply(t, m, keyRune('j'))
	require.Equal(t, 2, m.cursor)
}

func TestModel_CursorClampedOnShrinkingSnapshot(t *testing.T) {
	m := testModel(t)
	m, _ = apply(t, m, snapshotEvent(testSnapshot(
		session("s-1", "a", experiment.SessionRunning),
		session("s-2", "b", experiment.SessionRunning),
	)))
	m, _ = apply(t, m, keyRune('j'))
	require.Equal(t, 1, m.cursor)

	m, _ = apply(t, m, snapshotEvent(testSnapshot(session("s-1", "a", experiment.SessionRunning))))
	require.Equal(t, 0, m.cursor)
}

func TestModel_AnalysisOverlayOpensAndCloses(t *testing.T) {
	m := testModel(t)

	s := session("s-1", "deep-dive", experiment.SessionCompleted)
	s.Detail = &experiment.SessionDetail{
		Analyses: []experiment.AnalysisSnapshot{
			{ID: "an-1", SessionID: "s-1", Content: "# Findings\n\nThe sessions converged.", Model: "gpt-x", CreatedAt: time.Now()},
		},
	}
	m, _ = apply(t, m, snapshotEvent(testSnapshot(s)))

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.overlayVisible)
	require.Contains(t, m.View(), "deep-dive")

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.False(t, m.overlayVisible)
}

func TestModel_AnalysisOverlayRendersThroughCache(t *testing.T) {
	m := testModel(t)

	renders := 0
	store := cachemanager.NewInMemoryCacheManager[string, string]("test", renderCacheTTL, renderCacheTTL)
	m.renderCache = cachemanager.NewReadThroughCache(store,
		func(ctx context.Context, in analysisRenderInput) (string, error) {
			renders++
			return renderAnalyses(ctx, in)
		}, false)

	s := session("s-1", "deep-dive", experiment.SessionCompleted)
	s.Detail = &experiment.SessionDetail{
		Analyses: []experiment.AnalysisSnapshot{
			{ID: "an-1", SessionID: "s-1", Content: "# Findings\n\nFirst pass.", CreatedAt: time.Now()},
		},
	}
	m, _ = apply(t, m, snapshotEvent(testSnapshot(s)))

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.True(t, m.overlayVisible)
	first := m.overlayBody
	require.Equal(t, 1, renders)

	// Reopening the same overlay serves the cached render.
	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, first, m.overlayBody)
	require.Equal(t, 1, renders)

	// A newly saved analysis changes the key and re-renders.
	s2 := session("s-1", "deep-dive", experiment.SessionCompleted)
	s2.Detail = &experiment.SessionDetail{
		Analyses: append(append([]experiment.AnalysisSnapshot(nil), s.Detail.Analyses...),
			experiment.AnalysisSnapshot{ID: "an-2", SessionID: "s-1", Content: "# Findings\n\nSecond pass.", CreatedAt: time.Now()}),
	}
	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = apply(t, m, snapshotEvent(testSnapshot(s2)))
	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, 2, renders)
}

func TestModel_AnalysisOverlayWithoutAnalyses(t *testing.T) {
	m := testModel(t)
	m, _ = apply(t, m, snapshotEvent(testSnapshot(session("s-1", "a", experiment.SessionRunning))))

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.False(t, m.overlayVisible)
	require.Contains(t, m.footerMsg, "no analyses")
}

func TestModel_ExecuteWithoutSelectionReportsError(t *testing.T) {
	m := testModel(t)

	m, cmd := apply(t, m, keyRune('e'))
	require.True(t, m.busy)
	require.NotNil(t, cmd)

	msg := cmd()
	done, ok := findActionDone(msg)
	require.True(t, ok, "command should produce an action result")
	require.Error(t, done.err)

	m, _ = apply(t, m, done)
	require.False(t, m.busy)
	require.True(t, m.footerIsErr)
	require.Contains(t, m.footerMsg, "execute failed")
}

// findActionDone unwraps the batch produced by runAction.
func findActionDone(msg tea.Msg) (actionDoneMsg, bool) {
	switch v := msg.(type) {
	case actionDoneMsg:
		return v, true
	case tea.BatchMsg:
		for _, cmd := range v {
			if cmd == nil {
				continue
			}
			if done, ok := findActionDone(cmd()); ok {
				return done, true
			}
		}
	}
	return actionDoneMsg{}, false
}

func TestModel_ActionsBlockedWhileBusy(t *testing.T) {
	m := testModel(t)

	m, cmd := apply(t, m, keyRune('e'))
	require.NotNil(t, cmd)
	require.True(t, m.busy)

	_, cmd = apply(t, m, keyRune('p'))
	require.Nil(t, cmd, "second action while busy should be ignored")
}

func TestModel_ActionSuccessFooter(t *testing.T) {
	m := testModel(t)

	m, _ = apply(t, m, actionDoneMsg{name: "pause"})
	require.False(t, m.footerIsErr)
	require.Contains(t, m.footerMsg, "pause ok")
	require.Contains(t, m.View(), "pause ok")
}

func TestModel_TogglesStatusBarAndHelp(t *testing.T) {
	m := testModel(t)
	require.True(t, m.showStatusBar)

	m, _ = apply(t, m, keyRune('w'))
	require.False(t, m.showStatusBar)

	require.False(t, m.help.ShowAll)
	m, _ = apply(t, m, keyRune('?'))
	require.True(t, m.help.ShowAll)
}

func TestModel_EscapeClearsFooter(t *testing.T) {
	m := testModel(t)
	m.footerMsg = "stop failed: boom"

	m, _ = apply(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Empty(t, m.footerMsg)
}

func TestModel_QuitKey(t *testing.T) {
	m := testModel(t)

	_, cmd := apply(t, m, keyRune('q'))
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}
