package http

import (
	"context"
	"sync"

	"github.com/liutianyi617/weather-advisor/internal/observability"
)

// requestDrain counts requests being served. Waiters are released when the
// count returns to zero.
type requestDrain struct {
	mu     sync.Mutex
	n      int64
	zeroed chan struct{} // closed while n == 0
}

func newRequestDrain() *requestDrain {
	d := &requestDrain{zeroed: make(chan struct{})}
	close(d.zeroed)
	return d
}

// begin marks a request as started and returns the func that ends it.
func (d *requestDrain) begin() func() {
	d.mu.Lock()
	if d.n == 0 {
		d.zeroed = make(chan struct{})
	}
	d.n++
	d.mu.Unlock()
	observability.HTTPRequestsInFlight.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			observability.HTTPRequestsInFlight.Dec()
			d.mu.Lock()
			d.n--
			if d.n == 0 {
				close(d.zeroed)
			}
			d.mu.Unlock()
		})
	}
}

func (d *requestDrain) count() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

func (d *requestDrain) wait(ctx context.Context) error {
	d.mu.Lock()
	ch := d.zeroed
	d.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// served is fed by MetricsMiddleware.
var served = newRequestDrain()

// InFlightCount returns the number of requests currently being served.
func InFlightCount() int64 {
	return served.count()
}

// WaitForInFlight blocks until no request is being served or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return served.wait(ctx)
}
