package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/degraded"
	"github.com/kjstillabower/risk-signal-service/internal/lifecycle"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
	"github.com/kjstillabower/risk-signal-service/internal/overload"
	"github.com/kjstillabower/risk-signal-service/internal/service"
	"github.com/kjstillabower/risk-signal-service/internal/validation"
)

// Assessor is the service surface used by the handlers. *service.RiskService implements it.
type Assessor interface {
	Assess(ctx context.Context, c models.Coordinate) service.RiskReport
	AssessPlace(ctx context.Context, query string) (service.RiskReport, error)
	HistorySummary() service.HistorySummary
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow      time.Duration
	OverloadRequests    int // 0 disables the overload check
	DegradedWindow      time.Duration
	DegradedFallbackPct int // 0 disables the degraded check
	DegradedMinSamples  int
	// CachePing, when set, is called to check lunar cache reachability. Used when backend is memcached.
	CachePing func() error
}

// PlaceLimits bounds the length of place queries.
type PlaceLimits struct {
	MinLen int
	MaxLen int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              Assessor
	healthConfig     *HealthConfig
	logger           *zap.Logger
	defaultPoint     models.Coordinate
	placeLimits      PlaceLimits
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. Requests to /risk without a point use defaultPoint.
func NewHandler(svc Assessor, healthConfig *HealthConfig, logger *zap.Logger, defaultPoint models.Coordinate, limits PlaceLimits) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limits.MinLen <= 0 {
		limits.MinLen = 1
	}
	if limits.MaxLen <= 0 {
		limits.MaxLen = 100
	}
	return &Handler{
		svc:          svc,
		healthConfig: healthConfig,
		logger:       logger,
		defaultPoint: defaultPoint,
		placeLimits:  limits,
	}
}

// GetRisk handles GET /risk?lat=&lon= and GET /risk?q=<place>.
// With neither, the configured default point is assessed.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Has("q") {
		h.getRiskForPlace(w, r, query.Get("q"))
		return
	}

	lat, lon := query.Get("lat"), query.Get("lon")
	c := h.defaultPoint
	if lat != "" || lon != "" {
		parsed, err := validation.ParseCoordinate(lat, lon)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATE", err.Error())
			return
		}
		c = parsed
	}
	writeJSON(w, http.StatusOK, h.svc.Assess(r.Context(), c))
}

func (h *Handler) getRiskForPlace(w http.ResponseWriter, r *http.Request, raw string) {
	place, err := validation.ValidatePlace(raw, h.placeLimits.MinLen, h.placeLimits.MaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PLACE", err.Error())
		return
	}
	report, err := h.svc.AssessPlace(r.Context(), place)
	switch {
	case errors.Is(err, service.ErrPlaceNotFound):
		writeError(w, r, http.StatusNotFound, "PLACE_NOT_FOUND", "no coordinates found for "+place)
		return
	case errors.Is(err, service.ErrNoResolver):
		writeError(w, r, http.StatusNotImplemented, "GEOCODING_DISABLED", "place lookup is not configured")
		return
	case err != nil:
		observability.LoggerFrom(r.Context(), h.logger).Debug("place assessment failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "unable to assess place")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetHistorySummary handles GET /history/summary.
func (h *Handler) GetHistorySummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.HistorySummary())
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"signals": "healthy"}
	if result.status == "degraded" {
		checks["signals"] = "offline-fallback"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	history := h.svc.HistorySummary()
	if history.Loaded {
		checks["history"] = "loaded"
	} else {
		checks["history"] = "absent"
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "risk-signal-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// starting > shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	switch lifecycle.Current() {
	case lifecycle.PhaseStarting:
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	case lifecycle.PhaseShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if overload.IsOverloaded(h.healthConfig.OverloadWindow, h.healthConfig.OverloadRequests) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	// Offline defaults keep answering, so degraded stays 200.
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedFallbackPct > 0 {
		threshold := float64(h.healthConfig.DegradedFallbackPct) / 100
		if degraded.IsDegraded(h.healthConfig.DegradedWindow, threshold, h.healthConfig.DegradedMinSamples) {
			return healthResult{"degraded", http.StatusOK, "offline_fallback_rate"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
