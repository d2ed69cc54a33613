package engine

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/gateway"
	"github.com/zjrosen/parley/internal/log"
)

// DefaultFetchConcurrency bounds how many session detail fetches are in
// flight at once during a reconciliation pass.
const DefaultFetchConcurrency = 8

// View is the reconciler's output: cloned session summaries in
// first-observed order plus the aggregates derived from them.
type View struct {
	Sessions []*experiment.SessionSummary
	Stats    experiment.AggregateStats
}

// Reconciler owns the per-run session summary collection. Given the
// monotonic set of session ids known to belong to the run it fetches
// and merges per-session details into one de-duplicated, enriched
// collection and recomputes aggregate statistics.
//
// Passes may overlap; a pass sequence counter guarantees that a slower,
// older pass never clobbers the output of a newer one.
type Reconciler struct {
	gw          gateway.Gateway
	concurrency int

	seq atomic.Uint64

	mu          sync.Mutex
	sessions    map[string]*experiment.SessionSummary
	order       []string
	lastApplied uint64
}

// NewReconciler creates an empty reconciler over the given gateway.
func NewReconciler(gw gateway.Gateway, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &Reconciler{
		gw:          gw,
		concurrency: concurrency,
		sessions:    make(map[string]*experiment.SessionSummary),
	}
}

// Reset drops the collection, e.g. when a different experiment or a new
// run is selected.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[string]*experiment.SessionSummary)
	r.order = nil
	r.lastApplied = 0
}

// Reconcile runs one reconciliation pass: fetch details for every id
// concurrently, wait for all fetches to resolve, then merge and
// recompute aggregates. Fetch failures keep the last-known summary for
// that id. Ids in activeHint have their displayed status forced to
// running - "currently active" outranks a cached detail status.
//
// Returns stale=true when a newer pass finished first; the returned
// view then reflects the newer pass's output, not this one's inputs.
func (r *Reconciler) Reconcile(ctx context.Context, sessionIDs, activeHint []string) (View, bool) {
	pass := r.seq.Add(1)
	log.Debug(log.CatEngine, "reconcile pass started", "pass", pass, "sessions", len(sessionIDs))

	type fetched struct {
		id  string
		rec *gateway.SessionRecord
	}

	results := make([]fetched, len(sessionIDs))

	// Fetches for different sessions are independent; the merge below
	// waits for every outstanding fetch of this pass before touching
	// shared state.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range sessionIDs {
		g.Go(func() error {
			rec, err := r.gw.GetSessionDetail(gctx, id)
			if err != nil {
				// Keep the last-known summary; absence this cycle is
				// not evidence of deletion.
				log.Debug(log.CatEngine, "session detail fetch failed", "pass", pass, "sessionId", id, "error", err)
				return nil
			}
			results[i] = fetched{id: id, rec: rec}
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	// A newer pass already published; let it win regardless of
	// completion order.
	if pass <= r.lastApplied {
		log.Debug(log.CatEngine, "reconcile pass superseded", "pass", pass, "applied", r.lastApplied)
		return r.viewLocked(), true
	}
	r.lastApplied = pass

	for _, id := range sessionIDs {
		r.ensureLocked(id)
	}
	for _, f := range results {
		if f.rec == nil {
			continue
		}
		r.sessions[f.id].Apply(updateFromRecord(f.rec))
	}
	for _, id := range activeHint {
		if s, ok := r.sessions[id]; ok {
			s.Status = experiment.SessionRunning
		}
	}

	return r.viewLocked(), false
}

// Touch ensures a summary exists for a freshly observed session id,
// e.g. from a session-created push event, without fetching detail.
// Returns true if the id was new.
func (r *Reconciler) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.sessions[id]
	r.ensureLocked(id)
	return !existed
}

// Adjust applies an in-place mutation to one summary, if present, and
// returns the recomputed view. Used for cheap push-event updates
// (message sent, analysis saved) that do not warrant a full pass.
func (r *Reconciler) Adjust(id string, fn func(*experiment.SessionSummary)) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return r.viewLocked(), false
	}
	fn(s)
	return r.viewLocked(), true
}

// CurrentView returns the current collection and aggregates.
func (r *Reconciler) CurrentView() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

// SessionCount returns the number of known sessions.
func (r *Reconciler) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Reconciler) ensureLocked(id string) {
	if id == "" {
		return
	}
	if _, ok := r.sessions[id]; ok {
		return
	}
	r.sessions[id] = experiment.NewSessionSummary(id)
	r.order = append(r.order, id)
}

func (r *Reconciler) viewLocked() View {
	ordered := make([]*experiment.SessionSummary, 0, len(r.order))
	for _, id := range r.order {
		ordered = append(ordered, r.sessions[id])
	}

	clones := make([]*experiment.SessionSummary, len(ordered))
	for i, s := range ordered {
		clones[i] = s.Clone()
	}
	return View{
		Sessions: clones,
		Stats:    experiment.ComputeAggregates(ordered),
	}
}

// updateFromRecord shapes a wire session record into the merge update
// applied to the owned summary.
func updateFromRecord(rec *gateway.SessionRecord) experiment.SessionUpdate {
	u := experiment.SessionUpdate{
		Name:             rec.Name,
		MessageCount:     rec.MessageCount,
		ParticipantCount: rec.ParticipantCount,
		AnalysisCount:    rec.AnalysisCount,
		RawStatus:        rec.RawStatus(),
		CreatedAt:        gateway.ParseTime(rec.CreatedAt),
		LastActivityAt:   gateway.ParseTime(rec.LastActivityAt),
	}

	if len(rec.Messages) > 0 || len(rec.Participants) > 0 || rec.Stats != nil || len(rec.Analyses) > 0 {
		detail := &experiment.SessionDetail{}
		for _, m := range rec.Messages {
			msg := experiment.Message{
				ID:            m.ID,
				SessionID:     m.SessionID,
				ParticipantID: m.ParticipantID,
				Role:          m.Role,
				Content:       m.Content,
			}
			if at := gateway.ParseTime(m.SentAt); at != nil {
				msg.SentAt = *at
			}
			detail.Messages = append(detail.Messages, msg)
		}
		for _, p := range rec.Participants {
			detail.Participants = append(detail.Participants, experiment.Participant{
				ID:           p.ID,
				Name:         p.Name,
				Role:         p.Role,
				Provider:     p.Provider,
				MessageCount: p.MessageCount,
			})
		}
		if rec.Stats != nil {
			detail.Stats = &experiment.SessionStats{
				MessageCount:     rec.Stats.MessageCount,
				ParticipantCount: rec.Stats.ParticipantCount,
				TokensUsed:       rec.Stats.TokensUsed,
				DurationSeconds:  rec.Stats.DurationSeconds,
			}
		}
		for _, a := range rec.Analyses {
			snap := experiment.AnalysisSnapshot{
				ID:        a.ID,
				SessionID: a.SessionID,
				Content:   a.Content,
				Model:     a.Model,
			}
			if at := gateway.ParseTime(a.CreatedAt); at != nil {
				snap.CreatedAt = *at
			}
			detail.Analyses = append(detail.Analyses, snap)
		}
		u.Detail = detail
	}

	return u
}

// sortedIDs is a test helper ordering; exported behavior keeps
// first-observed order, this is only for deterministic assertions.
func sortedIDs(view View) []string {
	ids := make([]string, 0, len(view.Sessions))
	for _, s := range view.Sessions {
		ids = append(ids, s.ID)
	}
	slices.Sort(ids)
	return ids
}
