package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// NewRouter wires the routes and middleware. Assessment routes are rate limited
// and bounded by requestTimeout; /health and /metrics are not. Every request is
// counted in inFlight, which may be nil.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration, inFlight *InFlightTracker) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware(inFlight))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	api.Use(TimeoutMiddleware(requestTimeout))
	api.HandleFunc("/risk", h.GetRisk).Methods(http.MethodGet)
	api.HandleFunc("/history/summary", h.GetHistorySummary).Methods(http.MethodGet)
	return router
}
