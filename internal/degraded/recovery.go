// Package degraded probes the weather provider after the health check reports
// an error-rate breach and clears the error window once it answers again.
package degraded

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Probe checks whether the upstream is usable again. nil means recovered.
type Probe func(ctx context.Context) error

// Resetter forgets recorded request outcomes. *traffic.Tracker satisfies it.
type Resetter interface {
	Reset()
}

// Config for NewRecoverer. Initial and Max bound the Fibonacci delay sequence.
type Config struct {
	Probe        Probe
	Window       Resetter
	Initial      time.Duration
	Max          time.Duration
	ProbeTimeout time.Duration
	Clock        clockwork.Clock
	Logger       *zap.Logger
	// OnExhausted runs when the last probe still fails.
	OnExhausted func()
}

// Recoverer runs at most one probe sequence at a time.
type Recoverer struct {
	cfg     Config
	delays  []time.Duration
	notify  chan struct{}
	running atomic.Bool
}

func NewRecoverer(cfg Config) *Recoverer {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &Recoverer{
		cfg:    cfg,
		delays: FibonacciDelays(cfg.Initial, cfg.Max),
		notify: make(chan struct{}, 1),
	}
}

// Notify requests a recovery sequence. Non-blocking; safe from handlers.
func (r *Recoverer) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Running reports whether a probe sequence is in progress.
func (r *Recoverer) Running() bool {
	return r.running.Load()
}

// Start listens for Notify until ctx is done.
func (r *Recoverer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Run waits out each delay then probes. It returns true once a probe succeeds
// and the error window has been reset.
func (r *Recoverer) Run(ctx context.Context) bool {
	if len(r.delays) == 0 || r.cfg.Probe == nil {
		return false
	}
	for i, d := range r.delays {
		select {
		case <-ctx.Done():
			return false
		case <-r.cfg.Clock.After(d):
		}

		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		err := r.cfg.Probe(probeCtx)
		cancel()
		if err == nil {
			if r.cfg.Window != nil {
				r.cfg.Window.Reset()
			}
			r.cfg.Logger.Info("upstream recovered", zap.Int("attempt", i+1))
			return true
		}
		r.cfg.Logger.Warn("recovery probe failed",
			zap.Int("attempt", i+1),
			zap.Int("of", len(r.delays)),
			zap.Error(err))
	}
	r.cfg.Logger.Error("recovery attempts exhausted", zap.Int("attempts", len(r.delays)))
	if r.cfg.OnExhausted != nil {
		r.cfg.OnExhausted()
	}
	return false
}

// FibonacciDelays returns initial multiplied by 1, 2, 3, 5, 8... while the
// result stays within max.
func FibonacciDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := time.Duration(1), time.Duration(2); a*initial <= max; a, b = b, a+b {
		out = append(out, a*initial)
	}
	return out
}
