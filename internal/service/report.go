package service

import (
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/signals"
)

// RiskReport is the JSON shape returned to callers.
type RiskReport struct {
	Place      string            `json:"place,omitempty"`
	Coordinate models.Coordinate `json:"coordinate"`
	AssessedAt time.Time         `json:"assessedAt"`
	Score      float64           `json:"score"`
	Level      models.Level      `json:"level"`
	Color      string            `json:"color"`
	Reasons    []models.Reason   `json:"reasons"`
	Signals    SignalView        `json:"signals"`
	// Fallback is true when an offline default replaced a live signal.
	Fallback bool `json:"fallback"`
}

// SignalView is the display projection of the acquired signals.
type SignalView struct {
	TemperatureC    float64  `json:"temperatureC"`
	HumidityPct     float64  `json:"humidityPct"`
	PrecipMM        float64  `json:"precipMm"`
	WindKPH         float64  `json:"windKph"`
	Condition       string   `json:"condition"`
	MoonAgeDays     *float64 `json:"moonAgeDays,omitempty"`
	MoonPhase       string   `json:"moonPhase"`
	WeatherProvider string   `json:"weatherProvider"`
	MoonProvider    string   `json:"moonProvider"`
}

func newRiskReport(c models.Coordinate, t time.Time, acq signals.Acquisition, a models.RiskAssessment) RiskReport {
	snap := acq.Snapshot()
	reasons := a.Reasons
	if reasons == nil {
		reasons = []models.Reason{}
	}
	return RiskReport{
		Coordinate: c,
		AssessedAt: t,
		Score:      a.Score,
		Level:      a.Level,
		Color:      a.Level.Color(),
		Reasons:    reasons,
		Signals: SignalView{
			TemperatureC:    snap.TemperatureC,
			HumidityPct:     snap.HumidityPct,
			PrecipMM:        snap.PrecipMM,
			WindKPH:         acq.Weather.WindKPH,
			Condition:       snap.Condition,
			MoonAgeDays:     snap.MoonAgeDays,
			MoonPhase:       snap.MoonPhase,
			WeatherProvider: acq.Weather.Provider,
			MoonProvider:    acq.Moon.Provider,
		},
		Fallback: acq.UsedFallback(),
	}
}
