package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/risk-signal-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream provider call rate by provider and outcome category.
	ProviderCallsTotal *prometheus.CounterVec

	// Upstream provider latency. Watch for: p95 approaching the per-call timeout.
	ProviderDuration *prometheus.HistogramVec

	// Retry attempts per provider. Watch for: high retries = unstable upstream.
	ProviderRetriesTotal *prometheus.CounterVec

	// Acquisitions answered by the offline default because every provider failed.
	SignalFallbacksTotal *prometheus.CounterVec

	// Cache hits and misses by cache (moon, geocode).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors. Watch for: memcached/redis unreachable.
	CacheErrorsTotal *prometheus.CounterVec

	// Historical sources read, by status (ok, failed).
	HistoricalSourcesTotal *prometheus.CounterVec

	// Records in the currently loaded historical dataset.
	HistoricalRecordsLoaded prometheus.Gauge

	// Risk assessments by level.
	RiskAssessmentsTotal *prometheus.CounterVec

	// Place queries (allow-list; others go to "other").
	PlaceQueriesTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per provider (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Lunar cache warming outcomes per tracked point.
	CacheWarmingTotal *prometheus.CounterVec

	trackedPlacesMu sync.RWMutex
	trackedPlaces   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of upstream provider calls by outcome",
		},
		[]string{"provider", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Upstream provider latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts per provider",
		},
		[]string{"provider"},
	)
	SignalFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalFallbacksTotal",
			Help: "Acquisitions answered by the offline default after every provider failed",
		},
		[]string{"signal"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of cache backend errors",
		},
		[]string{"cacheType", "op"},
	)
	HistoricalSourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historicalSourcesTotal",
			Help: "Historical sources processed by status",
		},
		[]string{"status"},
	)
	HistoricalRecordsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "historicalRecordsLoaded",
			Help: "Records in the most recently aggregated historical dataset",
		},
	)
	RiskAssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riskAssessmentsTotal",
			Help: "Risk assessments produced, by level",
		},
		[]string{"level"},
	)
	PlaceQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placeQueriesTotal",
			Help: "Place queries (allow-list; others use place=other)",
		},
		[]string{"place"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)
	CacheWarmingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Lunar cache warming attempts by status",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProviderCallsTotal, ProviderDuration, ProviderRetriesTotal,
		SignalFallbacksTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		HistoricalSourcesTotal, HistoricalRecordsLoaded,
		RiskAssessmentsTotal, PlaceQueriesTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState,
		CacheWarmingTotal,
	)
}

// RegisterWindowGauges registers sliding-window gauges derived from the traffic tracker.
// Call from main after config load with the overload window.
func RegisterWindowGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "offlineFallbacksInWindow",
					Help: "Assessments built on offline signal defaults in sliding window",
				},
				func() float64 {
					fallbacks, _ := traffic.FallbackRate(window)
					return float64(fallbacks)
				},
			),
		)
	})
}

// SetTrackedPlaces sets the allow-list for place metrics. Non-tracked places increment "other".
func SetTrackedPlaces(places []string) {
	trackedPlacesMu.Lock()
	defer trackedPlacesMu.Unlock()
	trackedPlaces = make(map[string]struct{}, len(places))
	for _, p := range places {
		trackedPlaces[normalizePlaceForMetrics(p)] = struct{}{}
	}
}

// RecordPlaceQuery records a geocoded risk query for the given place.
func RecordPlaceQuery(place string) {
	p := normalizePlaceForMetrics(place)
	trackedPlacesMu.RLock()
	_, ok := trackedPlaces[p]
	trackedPlacesMu.RUnlock()
	if ok {
		PlaceQueriesTotal.WithLabelValues(p).Inc()
	} else {
		PlaceQueriesTotal.WithLabelValues("other").Inc()
	}
}

func normalizePlaceForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
