// Package lifecycle tracks process phases the health check reports: starting,
// serving, shutting down.
package lifecycle

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// State records when the process started and whether it is draining.
type State struct {
	clock           clockwork.Clock
	startedAt       time.Time
	readyDelay      time.Duration
	minimumLifespan time.Duration
	shuttingDown    atomic.Bool
}

// New starts the clock. The process reports ready once readyDelay has elapsed.
func New(clock clockwork.Clock, readyDelay, minimumLifespan time.Duration) *State {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &State{
		clock:           clock,
		startedAt:       clock.Now(),
		readyDelay:      readyDelay,
		minimumLifespan: minimumLifespan,
	}
}

// SetShuttingDown sets the drain flag. Call when SIGTERM/SIGINT is received.
func (s *State) SetShuttingDown(v bool) {
	s.shuttingDown.Store(v)
}

func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Ready is false until readyDelay has passed since New.
func (s *State) Ready() bool {
	return s.clock.Since(s.startedAt) >= s.readyDelay
}

// PastMinimumLifespan reports whether the process has run long enough for
// idle detection to apply.
func (s *State) PastMinimumLifespan() bool {
	return s.clock.Since(s.startedAt) >= s.minimumLifespan
}

func (s *State) Uptime() time.Duration {
	return s.clock.Since(s.startedAt)
}
