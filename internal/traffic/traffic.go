package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// maxAge bounds how long outcomes are retained; windows longer than this under-count.
const maxAge = 5 * time.Minute

var defaultTracker = NewTracker(clockwork.NewRealClock())

// RecordServed records an assessment built on live provider signals.
func RecordServed() {
	defaultTracker.RecordServed()
}

// RecordFallback records an assessment that needed at least one offline signal default.
func RecordFallback() {
	defaultTracker.RecordFallback()
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RequestCount returns the number of outcomes (served + fallback + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// FallbackRate returns (fallbackCount, totalCount) within the window. totalCount = served + fallbacks.
func FallbackRate(window time.Duration) (fallbacks, total int) {
	return defaultTracker.FallbackRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
// Single source of truth for overload (RequestCount, DenialCount) and degraded (FallbackRate).
type Tracker struct {
	clock clockwork.Clock

	mu            sync.Mutex
	servedTimes   []time.Time
	fallbackTimes []time.Time
	deniedTimes   []time.Time
}

// NewTracker returns an empty Tracker reading time from clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{clock: clock}
}

// RecordServed records a live-signal outcome.
func (t *Tracker) RecordServed() {
	t.recordOutcome(&t.servedTimes)
}

// RecordFallback records an offline-default outcome.
func (t *Tracker) RecordFallback() {
	t.recordOutcome(&t.fallbackTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return countInWindow(t.servedTimes, cutoff) +
		countInWindow(t.fallbackTimes, cutoff) +
		countInWindow(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, t.clock.Now().Add(-window))
}

// FallbackRate returns (fallbackCount, totalCount) within the window.
// Denials are excluded from the total.
func (t *Tracker) FallbackRate(window time.Duration) (fallbacks, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	fallbacks = countInWindow(t.fallbackTimes, cutoff)
	return fallbacks, fallbacks + countInWindow(t.servedTimes, cutoff)
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servedTimes = nil
	t.fallbackTimes = nil
	t.deniedTimes = nil
}

func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.servedTimes)
	prune(&t.fallbackTimes)
	prune(&t.deniedTimes)
}
