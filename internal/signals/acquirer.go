package signals

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

// Acquisition holds both live signals of one request with their provenance.
type Acquisition struct {
	Weather models.WeatherSignal
	Moon    models.MoonSignal
}

// Snapshot projects the acquisition onto the scoring input, dropping provenance.
// When the lunar chain fell back offline, a phase name reported by the live
// weather provider replaces the estimated label and the estimated age is dropped.
func (a Acquisition) Snapshot() models.SignalSnapshot {
	phase, age := a.Moon.PhaseLabel, a.Moon.AgeDays
	if a.Moon.Provider == models.ProviderOffline && a.Weather.Provider != models.ProviderOffline && a.Weather.MoonPhase != "" {
		phase, age = a.Weather.MoonPhase, nil
	}
	return models.SignalSnapshot{
		TemperatureC: a.Weather.TemperatureC,
		HumidityPct:  a.Weather.HumidityPct,
		PrecipMM:     a.Weather.PrecipMM,
		Condition:    a.Weather.Condition,
		MoonAgeDays:  age,
		MoonPhase:    phase,
	}
}

// UsedFallback reports whether either signal came from an offline default.
func (a Acquisition) UsedFallback() bool {
	return a.Weather.Provider == models.ProviderOffline || a.Moon.Provider == models.ProviderOffline
}

// Acquirer fetches the weather and lunar signals concurrently.
type Acquirer struct {
	weather *WeatherChain
	moon    *MoonChain
}

// NewAcquirer combines the two chains.
func NewAcquirer(weather *WeatherChain, moon *MoonChain) *Acquirer {
	return &Acquirer{weather: weather, moon: moon}
}

// Acquire runs both chains under ctx and waits for both. It never fails; an
// already-canceled ctx yields the offline defaults without touching providers.
func (a *Acquirer) Acquire(ctx context.Context, c models.Coordinate, t time.Time) Acquisition {
	if ctx.Err() != nil {
		return Acquisition{Weather: OfflineWeather(), Moon: OfflineMoon(t)}
	}

	var out Acquisition
	var g errgroup.Group
	g.Go(func() error {
		out.Weather = a.weather.Acquire(ctx, c)
		return nil
	})
	g.Go(func() error {
		out.Moon = a.moon.Acquire(ctx, c, t)
		return nil
	})
	_ = g.Wait() // chains never return errors
	return out
}

// Snapshot is Acquire followed by Acquisition.Snapshot.
func (a *Acquirer) Snapshot(ctx context.Context, c models.Coordinate, t time.Time) models.SignalSnapshot {
	return a.Acquire(ctx, c, t).Snapshot()
}
