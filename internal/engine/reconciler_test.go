package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/gateway"
)

func TestReconciler_FetchesAndMergesDetails(t *testing.T) {
	mock := gateway.NewMock()
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		mc := 7
		return &gateway.SessionRecord{
			ID:                 id,
			Name:               "dialogue-" + id,
			ConversationStatus: "active",
			MessageCount:       &mc,
		}, nil
	}

	r := NewReconciler(mock, 4)
	view, stale := r.Reconcile(context.Background(), []string{"s-1", "s-2"}, nil)
	require.False(t, stale)
	require.Len(t, view.Sessions, 2)

	require.Equal(t, "dialogue-s-1", view.Sessions[0].Name)
	require.Equal(t, experiment.SessionRunning, view.Sessions[0].Status, "active normalizes to running")
	require.Equal(t, 7, view.Sessions[0].MessageCount)
	require.Equal(t, 2, view.Stats.TotalSessions)
	require.Equal(t, 14, view.Stats.TotalMessages)
}

func TestReconciler_FirstObservedOrderIsStable(t *testing.T) {
	mock := gateway.NewMock()
	r := NewReconciler(mock, 4)

	r.Reconcile(context.Background(), []string{"s-b", "s-a"}, nil)
	view, _ := r.Reconcile(context.Background(), []string{"s-c", "s-a", "s-b"}, nil)

	var order []string
	for _, s := range view.Sessions {
		order = append(order, s.ID)
	}
	require.Equal(t, []string{"s-b", "s-a", "s-c"}, order)
}

func TestReconciler_FetchFailureKeepsLastKnownSummary(t *testing.T) {
	mock := gateway.NewMock()
	failing := false
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		if failing {
			return nil, errors.New("backend unavailable")
		}
		mc := 5
		return &gateway.SessionRecord{ID: id, ConversationStatus: "active", MessageCount: &mc}, nil
	}

	r := NewReconciler(mock, 4)
	r.Reconcile(context.Background(), []string{"s-1"}, nil)

	failing = true
	view, stale := r.Reconcile(context.Background(), []string{"s-1"}, nil)
	require.False(t, stale)
	require.Equal(t, 5, view.Sessions[0].MessageCount, "absence this cycle is not deletion")
	require.Equal(t, experiment.SessionRunning, view.Sessions[0].Status)
}

func TestReconciler_EnrichmentNeverRegresses(t *testing.T) {
	mock := gateway.NewMock()
	full := true
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		if full {
			mc := 9
			return &gateway.SessionRecord{
				ID: id, Name: "rich", ConversationStatus: "active", MessageCount: &mc,
			}, nil
		}
		// Later, sparser record: no name, no counts, no status.
		return &gateway.SessionRecord{ID: id}, nil
	}

	r := NewReconciler(mock, 4)
	r.Reconcile(context.Background(), []string{"s-1"}, nil)

	full = false
	view, _ := r.Reconcile(context.Background(), []string{"s-1"}, nil)
	s := view.Sessions[0]
	require.Equal(t, "rich", s.Name, "absent name does not erase the known one")
	require.Equal(t, 9, s.MessageCount)
	require.Equal(t, experiment.SessionRunning, s.Status, "unknown raw status keeps the known one")
}

func TestReconciler_ActiveHintForcesRunning(t *testing.T) {
	mock := gateway.NewMock()
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		return &gateway.SessionRecord{ID: id, ConversationStatus: "completed"}, nil
	}

	r := NewReconciler(mock, 4)
	view, _ := r.Reconcile(context.Background(), []string{"s-1", "s-2"}, []string{"s-2"})

	require.Equal(t, experiment.SessionCompleted, view.Sessions[0].Status)
	require.Equal(t, experiment.SessionRunning, view.Sessions[1].Status, "currently-active outranks detail status")
}

func TestReconciler_StalePassIsDiscarded(t *testing.T) {
	mock := gateway.NewMock()

	slowRelease := make(chan struct{})
	slowEntered := make(chan struct{})
	var entered sync.Once
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		if id == "s-slow" {
			entered.Do(func() { close(slowEntered) })
			<-slowRelease
			return &gateway.SessionRecord{ID: id, ConversationStatus: "running", Name: "old-pass"}, nil
		}
		return &gateway.SessionRecord{ID: id, ConversationStatus: "completed", Name: "new-pass"}, nil
	}

	r := NewReconciler(mock, 4)

	done := make(chan struct{})
	var staleView View
	var wasStale bool
	go func() {
		defer close(done)
		staleView, wasStale = r.Reconcile(context.Background(), []string{"s-slow"}, nil)
	}()
	<-slowEntered

	// A newer pass starts and finishes while the first is blocked.
	fresh, stale := r.Reconcile(context.Background(), []string{"s-slow"}, nil)
	require.False(t, stale)
	require.Equal(t, "new-pass", fresh.Sessions[0].Name)

	close(slowRelease)
	<-done

	require.True(t, wasStale, "older pass must report itself superseded")
	require.Equal(t, "new-pass", staleView.Sessions[0].Name, "older pass must not clobber the newer output")
	require.Equal(t, "new-pass", r.CurrentView().Sessions[0].Name)
}

func TestReconciler_IdempotentReplay(t *testing.T) {
	mock := gateway.NewMock()
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		mc := 3
		return &gateway.SessionRecord{ID: id, ConversationStatus: "active", MessageCount: &mc}, nil
	}

	r := NewReconciler(mock, 4)
	first, _ := r.Reconcile(context.Background(), []string{"s-1", "s-2"}, nil)
	second, _ := r.Reconcile(context.Background(), []string{"s-1", "s-2"}, nil)

	require.Equal(t, sortedIDs(first), sortedIDs(second))
	require.Equal(t, first.Stats, second.Stats)
	require.Len(t, second.Sessions, 2, "replay does not duplicate sessions")
}

func TestReconciler_TouchAndAdjust(t *testing.T) {
	r := NewReconciler(gateway.NewMock(), 4)

	require.True(t, r.Touch("s-1"))
	require.False(t, r.Touch("s-1"), "second touch is a no-op")
	require.Equal(t, 1, r.SessionCount())

	view, ok := r.Adjust("s-1", func(s *experiment.SessionSummary) { s.MessageCount += 2 })
	require.True(t, ok)
	require.Equal(t, 2, view.Sessions[0].MessageCount)

	_, ok = r.Adjust("s-unknown", func(s *experiment.SessionSummary) { s.MessageCount++ })
	require.False(t, ok)
}

func TestReconciler_DetailPayloadIsMapped(t *testing.T) {
	mock := gateway.NewMock()
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		return &gateway.SessionRecord{
			ID:                 id,
			ConversationStatus: "completed",
			Messages: []gateway.WireMessage{
				{ID: "m-1", SessionID: id, Role: "agent", Content: "hello", SentAt: "2026-03-01T12:00:00Z"},
			},
			Participants: []gateway.WireParticipant{
				{ID: "p-1", Name: "claude", Role: "agent", Provider: "anthropic", MessageCount: 1},
			},
			Stats:    &gateway.WireSessionStats{MessageCount: 1, ParticipantCount: 1, TokensUsed: 512},
			Analyses: []gateway.WireAnalysis{{ID: "a-1", SessionID: id, Content: "summary", Model: "gpt"}},
		}, nil
	}

	r := NewReconciler(mock, 1)
	view, _ := r.Reconcile(context.Background(), []string{"s-1"}, nil)

	s := view.Sessions[0]
	require.NotNil(t, s.Detail)
	require.Len(t, s.Detail.Messages, 1)
	require.Equal(t, "hello", s.Detail.Messages[0].Content)
	require.Len(t, s.Detail.Participants, 1)
	require.Equal(t, "anthropic", s.Detail.Participants[0].Provider)
	require.Equal(t, int64(512), s.Detail.Stats.TokensUsed)
	require.Len(t, s.Detail.Analyses, 1)

	// Counts backfill from detail when explicit counts are absent.
	require.Equal(t, 1, s.MessageCount)
	require.Equal(t, 1, s.ParticipantCount)
	require.Equal(t, 1, s.AnalysisCount)
}

func TestReconciler_ViewIsCloned(t *testing.T) {
	r := NewReconciler(gateway.NewMock(), 4)
	r.Touch("s-1")

	view := r.CurrentView()
	view.Sessions[0].Name = "tampered"

	require.Empty(t, r.CurrentView().Sessions[0].Name)
}

func TestReconciler_ConcurrencyBound(t *testing.T) {
	mock := gateway.NewMock()
	var mu sync.Mutex
	inFlight, peak := 0, 0
	mock.GetSessionDetailFunc = func(ctx context.Context, id string) (*gateway.SessionRecord, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return &gateway.SessionRecord{ID: id}, nil
	}

	r := NewReconciler(mock, 2)
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("s-%d", i)
	}
	r.Reconcile(context.Background(), ids, nil)

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, peak, 2)
}
