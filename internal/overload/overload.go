package overload

import (
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/traffic"
)

// RecordDenial records a rate-limit denial (429). Call from middleware when returning 429.
func RecordDenial() {
	traffic.RecordDenied()
}

// RequestCount returns the number of outcomes (served + fallback + denied) within the given window.
func RequestCount(window time.Duration) int {
	return traffic.RequestCount(window)
}

// DenialCount returns the number of denials within the given window.
func DenialCount(window time.Duration) int {
	return traffic.DenialCount(window)
}

// IsOverloaded reports whether requests in the window reached threshold.
// A non-positive threshold disables the check.
func IsOverloaded(window time.Duration, threshold int) bool {
	return threshold > 0 && traffic.RequestCount(window) >= threshold
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
