package degraded

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReset struct{ n atomic.Int32 }

func (c *countingReset) Reset() { c.n.Add(1) }

// TestFibonacciDelays verifies the 1, 2, 3, 5, 8, 13 multiplier sequence.
func TestFibonacciDelays(t *testing.T) {
	got := FibonacciDelays(time.Minute, 13*time.Minute)
	want := []time.Duration{1 * time.Minute, 2 * time.Minute, 3 * time.Minute, 5 * time.Minute, 8 * time.Minute, 13 * time.Minute}
	assert.Equal(t, want, got)
}

func TestFibonacciDelays_StopsBeforeMax(t *testing.T) {
	got := FibonacciDelays(time.Minute, 6*time.Minute)
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 3 * time.Minute, 5 * time.Minute}, got)
}

func TestFibonacciDelays_InvalidBounds(t *testing.T) {
	assert.Nil(t, FibonacciDelays(0, time.Minute))
	assert.Nil(t, FibonacciDelays(time.Minute, time.Second))
}

// runWithFakeClock advances the clock through every pending wait until Run returns.
func runWithFakeClock(t *testing.T, r *Recoverer, clock *clockwork.FakeClock) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan bool, 1)
	go func() { done <- r.Run(ctx) }()
	for {
		select {
		case ok := <-done:
			return ok
		default:
		}
		waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
		if err := clock.BlockUntilContext(waitCtx, 1); err == nil {
			clock.Advance(time.Hour)
		}
		waitCancel()
		require.NoError(t, ctx.Err(), "Run did not finish")
	}
}

func TestRun_RecoversAndResetsWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var probes atomic.Int32
	window := &countingReset{}
	exhausted := atomic.Bool{}
	r := NewRecoverer(Config{
		Probe: func(ctx context.Context) error {
			if probes.Add(1) >= 2 {
				return nil
			}
			return errors.New("still down")
		},
		Window:      window,
		Initial:     time.Minute,
		Max:         13 * time.Minute,
		Clock:       clock,
		OnExhausted: func() { exhausted.Store(true) },
	})

	assert.True(t, runWithFakeClock(t, r, clock))
	assert.Equal(t, int32(2), probes.Load())
	assert.Equal(t, int32(1), window.n.Load())
	assert.False(t, exhausted.Load())
}

func TestRun_ExhaustsAfterLastDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var probes atomic.Int32
	window := &countingReset{}
	exhausted := atomic.Bool{}
	r := NewRecoverer(Config{
		Probe: func(ctx context.Context) error {
			probes.Add(1)
			return errors.New("down")
		},
		Window:      window,
		Initial:     time.Minute,
		Max:         3 * time.Minute,
		Clock:       clock,
		OnExhausted: func() { exhausted.Store(true) },
	})

	assert.False(t, runWithFakeClock(t, r, clock))
	assert.Equal(t, int32(3), probes.Load())
	assert.Zero(t, window.n.Load())
	assert.True(t, exhausted.Load())
}

func TestRun_ContextCancelledStopsWithoutProbe(t *testing.T) {
	var probes atomic.Int32
	r := NewRecoverer(Config{
		Probe:   func(ctx context.Context) error { probes.Add(1); return nil },
		Initial: time.Minute,
		Max:     time.Minute,
		Clock:   clockwork.NewFakeClock(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, r.Run(ctx))
	assert.Zero(t, probes.Load())
}

func TestNotify_StartsSingleSequence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var probes atomic.Int32
	r := NewRecoverer(Config{
		Probe:   func(ctx context.Context) error { probes.Add(1); return nil },
		Initial: time.Minute,
		Max:     time.Minute,
		Clock:   clock,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	r.Notify()
	r.Notify()
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	assert.True(t, r.Running())
	require.Eventually(t, func() bool { return len(r.notify) == 0 }, 2*time.Second, 5*time.Millisecond)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return !r.Running() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), probes.Load())
}
