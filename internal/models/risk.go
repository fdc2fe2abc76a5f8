package models

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// HistoricalRecord is one normalized row of historical incident data.
// OccurredOn is nil when the source had no parseable date.
type HistoricalRecord struct {
	OccurredOn   *time.Time `json:"occurredOn,omitempty"`
	Locality     string     `json:"locality"`
	IncidentType string     `json:"incidentType"`
}

// Dataset is the unified historical dataset for one target year.
// A nil *Dataset means no historical sources were found.
type Dataset struct {
	TargetYear int
	Records    []HistoricalRecord
}

// Len returns the number of records; safe on a nil receiver.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// TypeCounts returns the number of records per incident type.
func (d *Dataset) TypeCounts() map[string]int {
	out := make(map[string]int)
	if d == nil {
		return out
	}
	for _, r := range d.Records {
		out[r.IncidentType]++
	}
	return out
}

// ProviderOffline is the Provider of a signal synthesized locally after every provider failed.
const ProviderOffline = "offline"

// WeatherSignal is the decoded result of one weather provider call.
type WeatherSignal struct {
	TemperatureC float64 `json:"temperatureC"`
	HumidityPct  float64 `json:"humidityPct"`
	PrecipMM     float64 `json:"precipMm"`
	WindKPH      float64 `json:"windKph"`
	Condition    string  `json:"condition"`
	MoonPhase    string  `json:"moonPhase,omitempty"` // only some providers report it
	Provider     string  `json:"provider"`
}

// MoonSignal is the decoded result of one lunar provider call.
type MoonSignal struct {
	AgeDays     *float64 `json:"ageDays,omitempty"`
	AltitudeDeg *float64 `json:"altitudeDeg,omitempty"`
	AzimuthDeg  *float64 `json:"azimuthDeg,omitempty"`
	PhaseLabel  string   `json:"phaseLabel,omitempty"`
	Provider    string   `json:"provider"`
}

// SignalSnapshot is the immutable scoring input built fresh for each request.
// Provider provenance is intentionally absent.
type SignalSnapshot struct {
	TemperatureC float64
	HumidityPct  float64
	PrecipMM     float64
	Condition    string
	MoonAgeDays  *float64
	MoonPhase    string
}

// Level is the discrete risk classification.
type Level int

const (
	LevelLow Level = iota
	LevelModerate
	LevelHigh
	LevelVeryHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelModerate:
		return "Moderate"
	case LevelHigh:
		return "High"
	case LevelVeryHigh:
		return "Very High"
	default:
		return "unknown"
	}
}

// Color is the display color used by the presentation layer.
func (l Level) Color() string {
	switch l {
	case LevelModerate:
		return "#ffd033"
	case LevelHigh:
		return "#ff7f2a"
	case LevelVeryHigh:
		return "#ff2a2a"
	default:
		return "#0aa0ff"
	}
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name produced by MarshalText.
func (l *Level) UnmarshalText(text []byte) error {
	for _, candidate := range []Level{LevelLow, LevelModerate, LevelHigh, LevelVeryHigh} {
		if candidate.String() == string(text) {
			*l = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown risk level %q", text)
}

// Reason explains one rule's signed contribution to the score.
type Reason struct {
	Label string  `json:"label"`
	Delta float64 `json:"delta"`
}

// RiskAssessment is the scoring output. Reasons are in rule-evaluation order.
type RiskAssessment struct {
	Score   float64  `json:"score"`
	Level   Level    `json:"level"`
	Reasons []Reason `json:"reasons"`
}
