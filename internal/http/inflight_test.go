package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// blockingRouter serves /slow through MetricsMiddleware, holding each request
// until release is closed.
func blockingRouter(inFlight *InFlightTracker, started chan<- struct{}, release <-chan struct{}) *mux.Router {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware(inFlight))
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}

// TestMetricsMiddleware_CountsInFlight verifies that a request is counted while its
// handler runs and that Drain returns once it completes.
func TestMetricsMiddleware_CountsInFlight(t *testing.T) {
	tracker := NewInFlightTracker()
	started := make(chan struct{})
	release := make(chan struct{})
	router := blockingRouter(tracker, started, release)

	served := make(chan struct{})
	go func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
		close(served)
	}()
	<-started

	if got := tracker.Count(); got != 1 {
		t.Fatalf("Count() during request = %d, want 1", got)
	}

	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		drained <- tracker.Drain(ctx, 5*time.Millisecond)
	}()

	select {
	case err := <-drained:
		t.Fatalf("Drain returned %v while a request was in flight", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-served
	if err := <-drained; err != nil {
		t.Errorf("Drain: %v", err)
	}
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() after request = %d, want 0", got)
	}
}

// TestInFlightTracker_DrainGivesUp verifies that Drain reports the context error when
// requests outlive the shutdown budget.
func TestInFlightTracker_DrainGivesUp(t *testing.T) {
	tracker := NewInFlightTracker()
	done := tracker.begin()
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.Drain(ctx, 5*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("Drain error = %v, want context.Canceled", err)
	}
}

// TestInFlightTracker_Separate verifies that routers built with different trackers
// do not share counts.
func TestInFlightTracker_Separate(t *testing.T) {
	a, b := NewInFlightTracker(), NewInFlightTracker()
	started := make(chan struct{})
	release := make(chan struct{})
	router := blockingRouter(a, started, release)

	served := make(chan struct{})
	go func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
		close(served)
	}()
	<-started

	if a.Count() != 1 || b.Count() != 0 {
		t.Errorf("counts = %d/%d, want 1/0", a.Count(), b.Count())
	}
	close(release)
	<-served
}

// TestInFlightTracker_Nil verifies that a router without a tracker still serves.
func TestInFlightTracker_Nil(t *testing.T) {
	var tracker *InFlightTracker
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	close(release)
	router := blockingRouter(tracker, started, release)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if tracker.Count() != 0 {
		t.Errorf("nil tracker Count() = %d", tracker.Count())
	}
	if err := tracker.Drain(context.Background(), time.Millisecond); err != nil {
		t.Errorf("nil tracker Drain: %v", err)
	}
}
