// Package lifecycle tracks process readiness for the health endpoint.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase.
type Phase int32

const (
	// PhaseStarting covers configuration load and historical aggregation.
	PhaseStarting Phase = iota
	PhaseReady
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	if v {
		SetPhase(PhaseShuttingDown)
		return
	}
	phase.CompareAndSwap(int32(PhaseShuttingDown), int32(PhaseReady))
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == PhaseShuttingDown
}

// IsReady returns true once startup finished and until shutdown begins.
func IsReady() bool {
	return Current() == PhaseReady
}
