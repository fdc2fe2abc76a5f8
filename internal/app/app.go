// Package app assembles the risk service from configuration: provider clients
// with their breakers, the signal chains, caches, the geocode store and the
// HTTP router. Both the server and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/risk-signal-service/internal/cache"
	"github.com/kjstillabower/risk-signal-service/internal/circuitbreaker"
	"github.com/kjstillabower/risk-signal-service/internal/client"
	"github.com/kjstillabower/risk-signal-service/internal/config"
	"github.com/kjstillabower/risk-signal-service/internal/geocode"
	httphandler "github.com/kjstillabower/risk-signal-service/internal/http"
	"github.com/kjstillabower/risk-signal-service/internal/ingest"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
	"github.com/kjstillabower/risk-signal-service/internal/scoring"
	"github.com/kjstillabower/risk-signal-service/internal/service"
	"github.com/kjstillabower/risk-signal-service/internal/signals"
)

// App is the wired service.
type App struct {
	Config   *config.Config
	Service  *service.RiskService
	Moon     *signals.MoonChain
	Resolver *geocode.CachedResolver

	// InFlight counts requests served by Router; shutdown drains it.
	InFlight *httphandler.InFlightTracker

	// CachePing checks the lunar cache backend; nil for the in-process cache.
	CachePing func() error

	logger  *zap.Logger
	closers []func() error
}

// New builds an App. Providers without an API key are left out of their chain;
// a geocode store that cannot be opened is an error.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, InFlight: httphandler.NewInFlightTracker(), logger: logger}

	weatherProviders, moonProviders, err := a.buildProviders()
	if err != nil {
		return nil, err
	}

	memo := a.buildMoonCache()
	a.Moon = signals.NewMoonChain(moonProviders, memo, cfg.MoonCacheTTL, logger)
	weather := signals.NewWeatherChain(weatherProviders, logger)

	a.Resolver, err = a.buildResolver(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var locality *regexp.Regexp
	if cfg.LocalityPattern != "" {
		locality = regexp.MustCompile(cfg.LocalityPattern) // validated by config.Load
	}

	a.Service = service.NewRiskService(signals.NewAcquirer(weather, a.Moon), service.Options{
		Scorer:   scoring.Scorer{LocalityPattern: locality},
		Resolver: a.Resolver,
		Location: cfg.Location,
		Logger:   logger,
	})
	return a, nil
}

func (a *App) providerOptions(name string, baseURL string, attempts int) client.Options {
	cfg := a.Config
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        name,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.CircuitBreakerState.WithLabelValues(component).Set(float64(to))
			a.logger.Warn("circuit breaker state change",
				zap.String("provider", component),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))
	return client.Options{
		BaseURL:        baseURL,
		Timeout:        cfg.ProviderTimeout,
		RetryAttempts:  attempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Breaker:        breaker,
	}
}

// moonOptions applies the lunar retry policy to a provider's options.
func (a *App) moonOptions(name, baseURL string) client.Options {
	opts := a.providerOptions(name, baseURL, a.Config.MoonRetryAttempts)
	opts.RetryBaseDelay = a.Config.MoonRetryBaseDelay
	return opts
}

// buildProviders returns the weather chain (weatherapi, openweather) and the
// lunar chain (moon-age API, weatherapi astronomy) in priority order.
func (a *App) buildProviders() ([]client.WeatherProvider, []client.MoonProvider, error) {
	cfg := a.Config
	var weather []client.WeatherProvider
	var moon []client.MoonProvider

	moon = append(moon, client.NewMoonAgeClient(a.moonOptions("moonage", cfg.MoonAPIURL)))

	if cfg.WeatherAPIKey != "" {
		wa, err := client.NewWeatherAPIClient(cfg.WeatherAPIKey, a.providerOptions("weatherapi", cfg.WeatherAPIURL, cfg.RetryAttempts))
		if err != nil {
			return nil, nil, fmt.Errorf("weatherapi client: %w", err)
		}
		weather = append(weather, wa)

		// The astronomy lookup gets the lunar retry policy and a breaker of its own.
		astro, err := client.NewWeatherAPIClient(cfg.WeatherAPIKey, a.moonOptions("weatherapi_astronomy", cfg.WeatherAPIURL))
		if err != nil {
			return nil, nil, fmt.Errorf("weatherapi astronomy client: %w", err)
		}
		moon = append(moon, astro)
	} else {
		a.logger.Warn("weatherapi key not set; provider disabled")
	}

	if cfg.OpenWeatherKey != "" {
		ow, err := client.NewOpenWeatherClient(cfg.OpenWeatherKey, cfg.OpenWeatherLang, a.providerOptions("openweather", cfg.OpenWeatherURL, cfg.RetryAttempts))
		if err != nil {
			return nil, nil, fmt.Errorf("openweather client: %w", err)
		}
		weather = append(weather, ow)
	} else {
		a.logger.Warn("openweather key not set; provider disabled")
	}

	if len(weather) == 0 {
		a.logger.Warn("no weather provider configured; assessments use offline weather")
	}
	a.logger.Info("providers configured",
		zap.Int("weather", len(weather)),
		zap.Int("moon", len(moon)))
	return weather, moon, nil
}

func (a *App) buildMoonCache() cache.MoonCache {
	cfg := a.Config
	switch cfg.MoonCacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		a.CachePing = mc.Ping
		a.closers = append(a.closers, mc.Close)
		a.logger.Info("lunar cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return mc
	default:
		a.logger.Info("lunar cache backend: in_memory")
		return cache.NewInMemoryCache(nil)
	}
}

func (a *App) buildResolver(ctx context.Context) (*geocode.CachedResolver, error) {
	cfg := a.Config
	var store geocode.Store
	switch cfg.GeocodeStore {
	case "redis":
		rs, err := geocode.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("geocode store: %w", err)
		}
		store = rs
	case "sqlite":
		ss, err := geocode.OpenSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("geocode store: %w", err)
		}
		store = ss
	default:
		store = geocode.NewMemoryStore()
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("geocode store configured", zap.String("store", cfg.GeocodeStore))

	gsi := client.NewGSIClient(a.providerOptions("gsi", cfg.GeocodeURL, cfg.RetryAttempts))
	return geocode.NewCachedResolver(gsi, store, a.logger), nil
}

// LoadHistory discovers the configured historical exports and installs the
// aggregated dataset. A bad glob is returned; unreadable files are only reported.
func (a *App) LoadHistory(ctx context.Context) (ingest.AggregateReport, error) {
	sources, err := ingest.Discover(a.Config.HistoryGlob)
	if err != nil {
		return ingest.AggregateReport{}, err
	}
	agg := ingest.NewAggregator(a.Config.TargetYear, a.logger)
	return a.Service.LoadHistory(ctx, agg, sources), nil
}

// TrackedPoints converts the configured points for the cache warmer.
func (a *App) TrackedPoints() []cache.TrackedPoint {
	points := make([]cache.TrackedPoint, 0, len(a.Config.TrackedPoints))
	for _, p := range a.Config.TrackedPoints {
		points = append(points, cache.TrackedPoint{
			Name:  p.Name,
			Coord: models.Coordinate{Lat: p.Lat, Lon: p.Lon},
		})
	}
	return points
}

// Router builds the HTTP surface over the service.
func (a *App) Router() *mux.Router {
	cfg := a.Config
	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:      cfg.OverloadWindow,
		OverloadRequests:    cfg.OverloadRequests,
		DegradedWindow:      cfg.DegradedWindow,
		DegradedFallbackPct: cfg.DegradedFallbackPct,
		DegradedMinSamples:  cfg.DegradedMinSamples,
		CachePing:           a.CachePing,
	}
	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	h := httphandler.NewHandler(a.Service, healthConfig, a.logger, cfg.DefaultPoint, httphandler.PlaceLimits{
		MinLen: cfg.PlaceMinLen,
		MaxLen: cfg.PlaceMaxLen,
	})
	return httphandler.NewRouter(h, a.logger, limiter, cfg.RequestTimeout, a.InFlight)
}

// Close releases caches and stores in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
