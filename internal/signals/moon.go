package signals

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/cache"
	"github.com/kjstillabower/risk-signal-service/internal/client"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
	"github.com/kjstillabower/risk-signal-service/internal/scoring"
)

// referenceNewMoon is a known new moon used to estimate the age offline.
var referenceNewMoon = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

// phaseBounds are the exclusive upper bounds (days) of each phase label.
var phaseBounds = []struct {
	upper float64
	label string
}{
	{1.5, "new moon"},
	{6.5, "waxing crescent"},
	{8.5, "first quarter"},
	{13.5, "waxing gibbous"},
	{16.0, "near full"},
	{21.0, "waning gibbous"},
	{23.0, "last quarter"},
	{28.0, "waning crescent"},
}

// PhaseLabel converts a moon age in days to a discrete phase label.
// Ages outside one cycle are reduced modulo the synodic month first.
func PhaseLabel(ageDays float64) string {
	age := normalizeAge(ageDays)
	for _, b := range phaseBounds {
		if age < b.upper {
			return b.label
		}
	}
	return "new moon"
}

func normalizeAge(ageDays float64) float64 {
	age := math.Mod(ageDays, scoring.SynodicMonth)
	if age < 0 {
		age += scoring.SynodicMonth
	}
	return age
}

// OfflineMoon estimates the lunar state at t from the mean synodic month.
// It is accurate to about a day, which is enough for phase labels.
func OfflineMoon(t time.Time) models.MoonSignal {
	age := normalizeAge(t.Sub(referenceNewMoon).Hours() / 24)
	age = math.Round(age*10) / 10
	return models.MoonSignal{
		AgeDays:    &age,
		PhaseLabel: PhaseLabel(age),
		Provider:   models.ProviderOffline,
	}
}

// MoonChain acquires the lunar signal from an ordered provider list, memoizing
// live results per coordinate cell and 30-minute bucket.
type MoonChain struct {
	providers []client.MoonProvider
	cache     cache.MoonCache
	ttl       time.Duration
	logger    *zap.Logger
}

// NewMoonChain builds a chain. memo may be nil to disable caching; a
// non-positive ttl uses cache.DefaultTTL.
func NewMoonChain(providers []client.MoonProvider, memo cache.MoonCache, ttl time.Duration, logger *zap.Logger) *MoonChain {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MoonChain{providers: providers, cache: memo, ttl: ttl, logger: logger}
}

// Acquire never fails. Providers are tried in order (each applies its own
// retry policy); when all fail the offline estimate is returned and not cached.
func (m *MoonChain) Acquire(ctx context.Context, c models.Coordinate, t time.Time) models.MoonSignal {
	logger := observability.LoggerFrom(ctx, m.logger)
	key := cache.MoonKey(c, t)

	if m.cache != nil && ctx.Err() == nil {
		sig, ok, err := m.cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.CacheErrorsTotal.WithLabelValues("moon", "get").Inc()
			logger.Debug("lunar cache read failed", zap.String("key", key), zap.Error(err))
		case ok:
			observability.CacheHitsTotal.WithLabelValues("moon").Inc()
			return sig
		default:
			observability.CacheMissesTotal.WithLabelValues("moon").Inc()
		}
	}

	for _, p := range m.providers {
		if ctx.Err() != nil {
			break
		}
		sig, err := p.FetchMoon(ctx, c, t)
		if err != nil {
			logger.Debug("lunar provider unavailable",
				zap.String("provider", p.Name()),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err))
			continue
		}
		if sig.AgeDays == nil && sig.PhaseLabel == "" {
			logger.Debug("lunar provider returned no phase", zap.String("provider", p.Name()))
			continue
		}
		if sig.AgeDays != nil {
			sig.PhaseLabel = PhaseLabel(*sig.AgeDays)
		}
		if m.cache != nil {
			if err := m.cache.Set(ctx, key, sig, m.ttl); err != nil {
				observability.CacheErrorsTotal.WithLabelValues("moon", "set").Inc()
				logger.Debug("lunar cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return sig
	}

	observability.SignalFallbacksTotal.WithLabelValues("moon").Inc()
	logger.Info("lunar signal from offline estimate", zap.Int("providers", len(m.providers)))
	return OfflineMoon(t)
}
