package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/parley/internal/experiment"
	"github.com/zjrosen/parley/internal/gateway"
	"github.com/zjrosen/parley/internal/log"
	"github.com/zjrosen/parley/internal/pubsub"
)

// DefaultCompletionRefreshDelay is how long after observing a run
// complete the engine waits before the forced cache-busting session
// refresh. The backend needs a beat to settle final session statuses.
const DefaultCompletionRefreshDelay = 500 * time.Millisecond

const staleWarning = "live updates unavailable; view may be stale"

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	PollInterval           time.Duration
	CompletionRefreshDelay time.Duration
	FailureWarnThreshold   int
	CacheTTL               time.Duration
	FetchConcurrency       int

	// Clock overrides time acquisition in tests.
	Clock Clock

	// Archive, when set, receives every terminal run after its final
	// reconciliation. Archive failures are logged, never fatal.
	Archive experiment.ArchiveRepository
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CompletionRefreshDelay <= 0 {
		c.CompletionRefreshDelay = DefaultCompletionRefreshDelay
	}
	if c.FailureWarnThreshold <= 0 {
		c.FailureWarnThreshold = DefaultFailureWarnThreshold
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Clock == nil {
		c.Clock = RealClock{}
	}
	return c
}

// SessionEvent is the bus payload for session lifecycle events.
type SessionEvent struct {
	ExperimentID string
	SessionID    string
}

// MessageEvent is the bus payload for message events.
type MessageEvent struct {
	SessionID string
}

// AnalysisEvent is the bus payload for analysis events.
type AnalysisEvent struct {
	SessionID  string
	AnalysisID string
}

// ExecutedEvent is the bus payload published when a run execution is
// acknowledged.
type ExecutedEvent struct {
	ExperimentID string
	RunID        string
}

// Engine is the state synchronization engine. It merges push events
// (via the bus) and poll responses (via the fallback poller) into one
// coherent view of the selected experiment, published as snapshots on
// the broker. All mutation funnels through the engine; consumers only
// ever see clones.
type Engine struct {
	cfg    Config
	gw     gateway.Gateway
	bus    *pubsub.Bus
	clock  Clock
	tracer trace.Tracer

	tracker    *RunTracker
	reconciler *Reconciler
	poller     *Poller
	cache      *CompletedRunCache
	broker     *pubsub.Broker[*Snapshot]

	statusInFlight atomic.Bool

	mu              sync.Mutex
	runCtx          context.Context
	experimentID    string
	warning         string
	completionTimer *time.Timer
	unsubscribe     []func()
}

// New creates an engine over the gateway and bus. Call Start before
// selecting an experiment.
func New(gw gateway.Gateway, bus *pubsub.Bus, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:        cfg,
		gw:         gw,
		bus:        bus,
		clock:      cfg.Clock,
		tracer:     otel.Tracer("parley/engine"),
		tracker:    NewRunTracker(cfg.Clock, cfg.FailureWarnThreshold),
		reconciler: NewReconciler(gw, cfg.FetchConcurrency),
		cache:      NewCompletedRunCache(cfg.CacheTTL),
		broker:     pubsub.NewBroker[*Snapshot](),
	}
	e.poller = NewPoller(cfg.PollInterval, e.pollTick)
	return e
}

// Start wires the engine to the bus. The context bounds all background
// work; cancel it (or call Stop) to shut the engine down.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.runCtx = ctx
	e.unsubscribe = []func(){
		e.bus.Subscribe(pubsub.ExperimentStatusChanged, e.onStatusChanged),
		e.bus.Subscribe(pubsub.SessionCreated, e.onSessionCreated),
		e.bus.Subscribe(pubsub.MessageSent, e.onMessageSent),
		e.bus.Subscribe(pubsub.AnalysisSaved, e.onAnalysisSaved),
	}
	e.mu.Unlock()

	e.bus.SetPanicReporter(func(eventType pubsub.EventType, recovered any) {
		log.Error(log.CatBus, "event handler panicked", "eventType", string(eventType), "panic", fmt.Sprint(recovered))
	})

	log.Info(log.CatEngine, "engine started",
		"pollInterval", e.cfg.PollInterval,
		"completionRefreshDelay", e.cfg.CompletionRefreshDelay)
}

// Stop disarms the poller, cancels any pending completion refresh, and
// detaches from the bus. The snapshot broker stays open so consumers
// can drain.
func (e *Engine) Stop() {
	e.poller.Disarm()

	e.mu.Lock()
	if e.completionTimer != nil {
		e.completionTimer.Stop()
		e.completionTimer = nil
	}
	unsubs := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	log.Info(log.CatEngine, "engine stopped")
}

// Snapshots exposes the broker consumers subscribe to for published
// view snapshots.
func (e *Engine) Snapshots() *pubsub.Broker[*Snapshot] {
	return e.broker
}

// CurrentSnapshot builds the current view on demand, without publishing.
func (e *Engine) CurrentSnapshot() *Snapshot {
	return e.snapshot()
}

// SelectExperiment switches the engine to an experiment. Terminal runs
// re-selected within the cache TTL render from cache without touching
// the backend; otherwise the engine performs a full fetch-and-reconcile
// and arms the fallback poller when the run is live.
func (e *Engine) SelectExperiment(ctx context.Context, experimentID string) (*Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SelectExperiment",
		trace.WithAttributes(attribute.String("experiment.id", experimentID)))
	defer span.End()

	e.switchTo(experimentID)

	if cached := e.cache.Get(ctx, experimentID); cached != nil {
		log.Info(log.CatEngine, "serving completed run from cache", "experimentId", experimentID)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		e.broker.Publish(pubsub.UpdatedEvent, cached)
		return cached, nil
	}

	results, err := e.gw.GetExperimentResults(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("fetching results for %s: %w", experimentID, err)
	}

	snap := results.RunSnapshot()
	if snap != nil {
		if snap.ExperimentID == "" {
			snap.ExperimentID = experimentID
		}
		e.tracker.ApplyStatus(snap)
	}

	// Session membership comes from whichever sources the payload
	// carries; active sessions are always members.
	var statusIDs []string
	if snap != nil {
		statusIDs = snap.SessionIDs
	}
	ids := experiment.MergeSessionIDs(statusIDs, results.SessionIDs(), results.ActiveSessions)
	e.tracker.AddSessions(ids...)

	view, _ := e.reconciler.Reconcile(ctx, ids, results.ActiveSessions)

	out := e.buildAndPublish(view)

	run := e.tracker.Current()
	switch {
	case run == nil:
		// No run yet for this experiment; nothing to poll for.
	case run.Status.IsLive():
		e.armPoller()
	case run.Status.IsTerminal():
		e.finalize(ctx, out)
	}

	return out, nil
}

// Execute starts a new run for the currently selected experiment. Local
// state advances no further than the backend's acknowledgment: the run
// becomes pending and truth arrives through status updates.
func (e *Engine) Execute(ctx context.Context, cfg gateway.ExecuteConfig) error {
	experimentID := e.currentExperiment()
	if experimentID == "" {
		return fmt.Errorf("no experiment selected")
	}

	ctx, span := e.tracer.Start(ctx, "engine.Execute",
		trace.WithAttributes(attribute.String("experiment.id", experimentID)))
	defer span.End()

	ack, err := e.gw.ExecuteExperiment(ctx, experimentID, cfg)
	if err != nil {
		return fmt.Errorf("executing experiment %s: %w", experimentID, err)
	}
	if !ack.Success {
		return fmt.Errorf("execute rejected for %s: %s", experimentID, ack.Error)
	}

	// The cached terminal snapshot no longer describes reality.
	e.cache.Invalidate(ctx, experimentID)
	e.cancelCompletionRefresh()
	e.tracker.Reset()
	e.reconciler.Reset()

	e.tracker.ApplyStatus(&gateway.StatusSnapshot{
		RunID:        ack.RunID,
		ExperimentID: experimentID,
		Status:       "pending",
	})

	e.bus.Publish(pubsub.ExperimentExecuted, ExecutedEvent{ExperimentID: experimentID, RunID: ack.RunID})
	e.publish()
	e.armPoller()

	log.Info(log.CatEngine, "run execution acknowledged", "experimentId", experimentID, "runId", ack.RunID)
	return nil
}

// Pause asks the backend to pause the current run. Non-optimistic: the
// local status only changes once the backend confirms it, via the
// immediate refresh or a later update.
func (e *Engine) Pause(ctx context.Context) error {
	return e.controlAction(ctx, "pause", e.gw.PauseExperiment)
}

// Resume asks the backend to resume the current run.
func (e *Engine) Resume(ctx context.Context) error {
	return e.controlAction(ctx, "resume", e.gw.ResumeExperiment)
}

// StopRun asks the backend to stop the current run.
func (e *Engine) StopRun(ctx context.Context) error {
	return e.controlAction(ctx, "stop", e.gw.StopExperiment)
}

// Delete removes the experiment backend-side and drops all local state
// for it, including the cached and archived snapshots.
func (e *Engine) Delete(ctx context.Context) error {
	experimentID := e.currentExperiment()
	if experimentID == "" {
		return fmt.Errorf("no experiment selected")
	}
	if err := e.gw.DeleteExperiment(ctx, experimentID); err != nil {
		return fmt.Errorf("deleting experiment %s: %w", experimentID, err)
	}

	e.poller.Disarm()
	e.cache.Invalidate(ctx, experimentID)
	if e.cfg.Archive != nil {
		if err := e.cfg.Archive.Delete(experimentID); err != nil {
			log.ErrorErr(log.CatEngine, "deleting archived run", err, "experimentId", experimentID)
		}
	}
	e.switchTo("")
	e.bus.Publish(pubsub.ExperimentDeleted, SessionEvent{ExperimentID: experimentID})
	return nil
}

func (e *Engine) controlAction(ctx context.Context, name string, fn func(context.Context, string) error) error {
	experimentID := e.currentExperiment()
	if experimentID == "" {
		return fmt.Errorf("no experiment selected")
	}
	if err := fn(ctx, experimentID); err != nil {
		return fmt.Errorf("%s experiment %s: %w", name, experimentID, err)
	}
	// Confirm the effect right away rather than waiting out the poll
	// interval.
	e.refreshStatus(ctx, false)
	return nil
}

// switchTo resets all per-experiment state for a new selection.
func (e *Engine) switchTo(experimentID string) {
	e.poller.Disarm()
	e.cancelCompletionRefresh()
	e.tracker.Reset()
	e.reconciler.Reset()

	e.mu.Lock()
	e.experimentID = experimentID
	e.warning = ""
	e.mu.Unlock()
}

func (e *Engine) currentExperiment() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.experimentID
}

// SetPollInterval applies a changed polling cadence, typically after a
// config reload. An armed poller is restarted so the new interval takes
// effect immediately.
func (e *Engine) SetPollInterval(d time.Duration) {
	if !e.poller.SetInterval(d) {
		return
	}
	e.mu.Lock()
	e.cfg.PollInterval = d
	e.mu.Unlock()

	if e.poller.Armed() {
		e.poller.Disarm()
		e.armPoller()
	}
	log.Info(log.CatEngine, "poll interval updated", "interval", d)
}

func (e *Engine) armPoller() {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	e.poller.Arm(ctx)
}

// pollTick is the fallback poll body. The in-flight guard makes an
// overdue tick a no-op while a fetch is already running, so a slow
// backend never stacks up concurrent status fetches.
func (e *Engine) pollTick(ctx context.Context) {
	e.refreshStatus(ctx, true)
}

func (e *Engine) refreshStatus(ctx context.Context, fromPoll bool) {
	if !e.statusInFlight.CompareAndSwap(false, true) {
		log.Debug(log.CatPoll, "status fetch already in flight, skipping")
		return
	}
	defer e.statusInFlight.Store(false)

	experimentID := e.currentExperiment()
	if experimentID == "" {
		return
	}

	snap, err := e.gw.GetExperimentStatus(ctx, experimentID)
	if err != nil {
		if e.tracker.RecordFetchFailure() {
			log.Warn(log.CatPoll, "consecutive status fetch failures",
				"experimentId", experimentID, "failures", e.tracker.ConsecutiveFailures())
			e.setWarning(staleWarning)
			e.publish()
		} else {
			log.Debug(log.CatPoll, "status fetch failed", "experimentId", experimentID, "error", err)
		}
		return
	}
	if snap.ExperimentID == "" {
		snap.ExperimentID = experimentID
	}
	e.handleStatus(ctx, snap, fromPoll)
}

// onStatusChanged handles a pushed status update from the bus.
func (e *Engine) onStatusChanged(ev pubsub.BusEvent) {
	snap, ok := ev.Payload.(*gateway.StatusSnapshot)
	if !ok || snap == nil {
		log.Warn(log.CatBus, "status event with unexpected payload", "eventType", string(ev.Type))
		return
	}
	if current := e.currentExperiment(); current != "" && snap.ExperimentID != "" && snap.ExperimentID != current {
		return
	}
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	e.handleStatus(ctx, snap, false)
}

// handleStatus merges a status candidate and drives everything that
// follows from the merge outcome: session refetches, snapshot
// publication, poller arming, the delayed completion refresh, and
// terminal finalization.
func (e *Engine) handleStatus(ctx context.Context, snap *gateway.StatusSnapshot, fromPoll bool) {
	res := e.tracker.ApplyStatus(snap)
	warningCleared := e.setWarning("")

	if res.NewRun {
		// Fresh run: the previous run's session collection is history.
		e.reconciler.Reset()
		if snap.ExperimentID != "" {
			e.cache.Invalidate(ctx, snap.ExperimentID)
		}
	}

	if !res.Changed {
		log.Debug(log.CatEngine, "status unchanged, skipping refetch", "runId", snap.RunID)
		if warningCleared {
			e.publish()
		}
		return
	}

	if res.Transitioned {
		log.Info(log.CatEngine, "run status transition",
			"runId", snap.RunID, "from", string(res.From), "to", string(res.To))
	}

	run := e.tracker.Current()
	var view View
	var stale bool
	if run != nil && len(run.SessionIDs) > 0 {
		view, stale = e.reconciler.Reconcile(ctx, run.SessionIDs, nil)
	} else {
		view = e.reconciler.CurrentView()
	}

	// A superseded pass only loses the publication: the merge already
	// happened, so the lifecycle actions below must still run off it,
	// or a terminal transition that lost the pass race would never
	// disarm the poller or finalize. The returned view is the newer
	// pass's output either way.
	out := e.snapshotFrom(view)
	if !stale {
		e.broker.Publish(pubsub.UpdatedEvent, out)
	}

	if res.JustCompleted {
		e.scheduleCompletionRefresh()
	}

	switch {
	case run == nil:
	case run.Status.IsTerminal():
		// Push-driven terminal must silence the poller before its next
		// tick; a poll-driven terminal cancels from inside the tick.
		if fromPoll {
			e.poller.DisarmAsync()
		} else {
			e.poller.Disarm()
		}
		if !res.JustCompleted {
			// Failed or stopped runs finalize immediately; completed
			// runs finalize after the forced refresh settles statuses.
			e.finalize(ctx, out)
		}
	case run.Status.IsLive():
		e.armPoller()
	default:
		// Paused: the resume arrives by push; nothing to chase by poll.
		if fromPoll {
			e.poller.DisarmAsync()
		} else {
			e.poller.Disarm()
		}
	}
}

// scheduleCompletionRefresh arms the delayed forced refresh that runs
// after a completion is observed. Re-observing the completion resets
// the delay rather than stacking refreshes.
func (e *Engine) scheduleCompletionRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completionTimer != nil {
		e.completionTimer.Stop()
	}
	log.Debug(log.CatEngine, "completion refresh scheduled", "delay", e.cfg.CompletionRefreshDelay)
	e.completionTimer = time.AfterFunc(e.cfg.CompletionRefreshDelay, func() {
		log.SafeGo("completion-refresh", e.completionRefresh)
	})
}

func (e *Engine) cancelCompletionRefresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completionTimer != nil {
		e.completionTimer.Stop()
		e.completionTimer = nil
	}
}

// completionRefresh is the forced post-completion pass: refetch every
// session detail so lagging "running" statuses settle into their final
// values, then cache and archive the settled snapshot.
func (e *Engine) completionRefresh() {
	e.mu.Lock()
	ctx := e.runCtx
	e.completionTimer = nil
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	run := e.tracker.Current()
	if run == nil || run.Status != experiment.RunCompleted {
		return
	}

	ctx, span := e.tracer.Start(ctx, "engine.completionRefresh",
		trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	view, stale := e.reconciler.Reconcile(ctx, run.SessionIDs, nil)
	out := e.snapshotFrom(view)
	if !stale {
		e.broker.Publish(pubsub.UpdatedEvent, out)
	}
	e.finalize(ctx, out)
}

// finalize caches and archives a terminal snapshot.
func (e *Engine) finalize(ctx context.Context, snap *Snapshot) {
	if !e.cache.Put(ctx, snap) {
		return
	}
	if e.cfg.Archive == nil {
		return
	}
	archived := &experiment.ArchivedRun{
		Run:      snap.Run,
		Sessions: snap.Sessions,
		Stats:    snap.Stats,
	}
	if err := e.cfg.Archive.Save(archived); err != nil {
		log.ErrorErr(log.CatEngine, "archiving terminal run", err, "runId", snap.Run.ID)
	} else {
		log.Info(log.CatEngine, "terminal run archived", "runId", snap.Run.ID, "status", string(snap.Run.Status))
	}
}

// onSessionCreated folds a pushed session-created event into run
// membership without waiting for the next status update.
func (e *Engine) onSessionCreated(ev pubsub.BusEvent) {
	payload, ok := ev.Payload.(SessionEvent)
	if !ok || payload.SessionID == "" {
		return
	}
	if current := e.currentExperiment(); current != "" && payload.ExperimentID != "" && payload.ExperimentID != current {
		return
	}
	grew := e.tracker.AddSessions(payload.SessionID)
	isNew := e.reconciler.Touch(payload.SessionID)
	if grew || isNew {
		log.Debug(log.CatEngine, "session observed via push", "sessionId", payload.SessionID)
		e.publish()
	}
}

// onMessageSent bumps the session's message count without a detail
// fetch; the next reconciliation pass corrects any drift.
func (e *Engine) onMessageSent(ev pubsub.BusEvent) {
	payload, ok := ev.Payload.(MessageEvent)
	if !ok || payload.SessionID == "" {
		return
	}
	now := e.clock.Now()
	view, ok := e.reconciler.Adjust(payload.SessionID, func(s *experiment.SessionSummary) {
		s.MessageCount++
		s.LastActivityAt = &now
	})
	if ok {
		e.publishView(view)
	}
}

// onAnalysisSaved bumps the session's analysis count.
func (e *Engine) onAnalysisSaved(ev pubsub.BusEvent) {
	payload, ok := ev.Payload.(AnalysisEvent)
	if !ok || payload.SessionID == "" {
		return
	}
	view, ok := e.reconciler.Adjust(payload.SessionID, func(s *experiment.SessionSummary) {
		s.AnalysisCount++
	})
	if ok {
		e.publishView(view)
	}
}

// setWarning updates the staleness warning and reports whether the
// visible value changed.
func (e *Engine) setWarning(w string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := e.warning != w
	e.warning = w
	return changed
}

func (e *Engine) snapshot() *Snapshot {
	return e.snapshotFrom(e.reconciler.CurrentView())
}

func (e *Engine) snapshotFrom(view View) *Snapshot {
	e.mu.Lock()
	experimentID := e.experimentID
	warning := e.warning
	e.mu.Unlock()
	return buildSnapshot(experimentID, e.tracker.Current(), view, warning)
}

func (e *Engine) publish() {
	e.broker.Publish(pubsub.UpdatedEvent, e.snapshot())
}

func (e *Engine) publishView(view View) {
	e.broker.Publish(pubsub.UpdatedEvent, e.snapshotFrom(view))
}

func (e *Engine) buildAndPublish(view View) *Snapshot {
	out := e.snapshotFrom(view)
	e.broker.Publish(pubsub.UpdatedEvent, out)
	return out
}
