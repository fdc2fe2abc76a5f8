// Package signals acquires live weather and lunar signals through ordered
// provider fallback chains that always end in a fixed offline default.
package signals

import (
	"context"

	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/client"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// OfflineWeather is the fixed default used when no weather provider answers.
func OfflineWeather() models.WeatherSignal {
	return models.WeatherSignal{
		TemperatureC: 26.0,
		HumidityPct:  70,
		PrecipMM:     0,
		WindKPH:      8,
		Condition:    "晴れ",
		Provider:     models.ProviderOffline,
	}
}

// WeatherChain acquires current weather from an ordered provider list.
// Results are not cached; every request reads fresh conditions.
type WeatherChain struct {
	providers []client.WeatherProvider
	logger    *zap.Logger
}

// NewWeatherChain builds a chain over providers in priority order.
func NewWeatherChain(providers []client.WeatherProvider, logger *zap.Logger) *WeatherChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherChain{providers: providers, logger: logger}
}

// Acquire never fails: the first provider that answers wins, otherwise the offline default.
func (w *WeatherChain) Acquire(ctx context.Context, c models.Coordinate) models.WeatherSignal {
	logger := observability.LoggerFrom(ctx, w.logger)
	for _, p := range w.providers {
		if ctx.Err() != nil {
			break
		}
		sig, err := p.FetchWeather(ctx, c)
		if err != nil {
			logger.Debug("weather provider unavailable",
				zap.String("provider", p.Name()),
				zap.String("category", string(client.CategorizeError(err))),
				zap.Error(err))
			continue
		}
		return sig
	}

	observability.SignalFallbacksTotal.WithLabelValues("weather").Inc()
	logger.Info("weather signal from offline default", zap.Int("providers", len(w.providers)))
	return OfflineWeather()
}
