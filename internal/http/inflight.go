package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts the requests currently being served so shutdown can
// wait for them to drain. One tracker is shared by a router and its server;
// a nil tracker counts nothing.
type InFlightTracker struct {
	count atomic.Int64
}

// NewInFlightTracker returns an empty tracker.
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{}
}

// begin marks a request as started and returns the func that marks it done.
func (t *InFlightTracker) begin() func() {
	if t == nil {
		return func() {}
	}
	t.count.Add(1)
	return func() { t.count.Add(-1) }
}

// Count returns the number of requests being served.
func (t *InFlightTracker) Count() int64 {
	if t == nil {
		return 0
	}
	return t.count.Load()
}

// Drain blocks until no request is in flight or ctx is done, re-checking every interval.
func (t *InFlightTracker) Drain(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for t.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
