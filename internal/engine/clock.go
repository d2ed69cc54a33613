// Package engine implements the client-side state synchronization and
// reconciliation engine: it merges push events and poll responses into
// one coherent, monotonically-improving view of an experiment run and
// its sessions.
package engine

import "time"

// Clock provides the current time. Use RealClock for production and a
// fixed clock in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }
