package service

import (
	"context"
	"sync"
	"time"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

type call struct {
	done   chan struct{}
	result models.Forecast
	err    error
}

// requestCoalescer lets concurrent misses for the same location share one
// provider fetch. Waiters give up after timeout or when their context ends.
// The fetch runs detached from the first caller's cancellation, bounded by the
// same timeout, so one disconnecting caller does not fail the others.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*call
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*call),
		timeout:  timeout,
	}
}

// Do runs fn for key unless a call for key is already running, in which case it
// waits for that call's result.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) (models.Forecast, error)) (models.Forecast, error) {
	rc.mu.Lock()
	c, ok := rc.inFlight[key]
	if !ok {
		c = &call{done: make(chan struct{})}
		rc.inFlight[key] = c
		fetchCtx, cancelFetch := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancelFetch()
			c.result, c.err = fn(fetchCtx)
			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(c.done)
		}()
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.result, c.err
	case <-waitCtx.Done():
		return models.Forecast{}, waitCtx.Err()
	}
}
