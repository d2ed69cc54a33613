package engine

import (
	"context"
	"time"

	"github.com/zjrosen/parley/internal/cachemanager"
)

// DefaultCacheTTL is how long a completed run's snapshot stays cached.
const DefaultCacheTTL = 30 * time.Minute

// CompletedRunCache caches fully reconciled snapshots of terminal runs,
// keyed by experiment id. Re-selecting a finished experiment renders
// instantly from cache instead of refetching the whole session set.
//
// Only terminal runs are cacheable: a live run's view changes under the
// cache's feet, so Get and Put both refuse non-terminal state.
type CompletedRunCache struct {
	cache cachemanager.CacheManager[string, *Snapshot]
	ttl   time.Duration
}

// NewCompletedRunCache creates a cache with the given TTL.
func NewCompletedRunCache(ttl time.Duration) *CompletedRunCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CompletedRunCache{
		cache: cachemanager.NewInMemoryCacheManager[string, *Snapshot]("completed-runs", ttl, ttl),
		ttl:   ttl,
	}
}

// Get returns the cached snapshot for the experiment, marked FromCache.
// Misses and cached entries that somehow hold a non-terminal run return
// nil.
func (c *CompletedRunCache) Get(ctx context.Context, experimentID string) *Snapshot {
	snap, ok := c.cache.Get(ctx, experimentID)
	if !ok || snap == nil || snap.Run == nil || !snap.Run.Status.IsTerminal() {
		return nil
	}
	out := *snap
	out.FromCache = true
	return &out
}

// Put stores a snapshot if and only if its run is terminal. Snapshots
// of live runs are silently ignored.
func (c *CompletedRunCache) Put(ctx context.Context, snap *Snapshot) bool {
	if snap == nil || snap.Run == nil || !snap.Run.Status.IsTerminal() {
		return false
	}
	c.cache.Set(ctx, snap.ExperimentID, snap, c.ttl)
	return true
}

// Invalidate drops the experiment's cached snapshot. Called when a new
// run starts: the cached terminal view no longer describes reality.
func (c *CompletedRunCache) Invalidate(ctx context.Context, experimentID string) {
	_ = c.cache.Delete(ctx, experimentID)
}
