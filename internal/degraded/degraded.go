// Package degraded decides whether recent assessments leaned on offline signal
// defaults often enough that the service should report itself degraded.
package degraded

import (
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/traffic"
)

// RecordServed records an assessment built entirely on live signals.
func RecordServed() {
	traffic.RecordServed()
}

// RecordFallback records an assessment that used at least one offline default.
func RecordFallback() {
	traffic.RecordFallback()
}

// FallbackRate returns (fallbackCount, totalCount) within the window.
func FallbackRate(window time.Duration) (fallbacks, total int) {
	return traffic.FallbackRate(window)
}

// IsDegraded reports whether the fallback share within window reached threshold.
// Fewer than minSamples assessments never count as degraded.
func IsDegraded(window time.Duration, threshold float64, minSamples int) bool {
	fallbacks, total := traffic.FallbackRate(window)
	if total == 0 || total < minSamples {
		return false
	}
	return float64(fallbacks)/float64(total) >= threshold
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}
