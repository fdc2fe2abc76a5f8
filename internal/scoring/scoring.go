// Package scoring combines live signals and historical bias terms into a bounded,
// explainable risk assessment. Everything here is pure: no I/O, no clock reads.
package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

// SynodicMonth is the mean lunar cycle length in days.
const SynodicMonth = 29.53

// Level thresholds (lower bound inclusive).
const (
	ModerateThreshold = 25.0
	HighThreshold     = 50.0
	VeryHighThreshold = 75.0
)

// OutdoorTypes are the incident types treated as correlated with outdoor activity.
var OutdoorTypes = []string{"ひったくり", "車上ねらい", "自転車盗", "オートバイ盗"}

// Scorer evaluates the fixed rule set. The zero value scores against the whole dataset.
type Scorer struct {
	// LocalityPattern narrows the historical subset to matching localities.
	// When no record matches, the full dataset is used.
	LocalityPattern *regexp.Regexp
}

// Score evaluates snapshot s at now against ds using the zero-value Scorer.
func Score(s models.SignalSnapshot, now time.Time, ds *models.Dataset) models.RiskAssessment {
	return Scorer{}.Score(s, now, ds)
}

// Score evaluates the rules in their fixed order. Rules contributing zero are omitted
// from Reasons; reported deltas are pre-clamp.
func (sc Scorer) Score(s models.SignalSnapshot, now time.Time, ds *models.Dataset) models.RiskAssessment {
	var total float64
	reasons := []models.Reason{}
	add := func(label string, delta float64) {
		if delta == 0 {
			return
		}
		total += delta
		reasons = append(reasons, models.Reason{Label: label, Delta: delta})
	}

	add(fmt.Sprintf("temperature %.0f°C", s.TemperatureC), TemperatureBonus(s.TemperatureC))

	switch {
	case s.PrecipMM >= 10:
		add("strong precipitation", -20)
	case s.PrecipMM >= 1:
		add("precipitation", -8)
	}

	hour := now.Hour()
	switch {
	case hour >= 20 || hour <= 4:
		add("night", 15)
	case hour >= 17:
		add("evening", 7)
	}

	if wd := now.Weekday(); wd == time.Friday || wd == time.Saturday {
		add("weekend (Fri/Sat)", 6)
	}

	if IsFullMoonLike(s.MoonPhase, s.MoonAgeDays) {
		add("full moon", 5)
	}

	if s.HumidityPct >= 80 {
		add("high humidity", 3)
	}

	if records := sc.subset(ds); len(records) > 0 {
		month := MonthShare(records, now.Month())
		switch {
		case month >= 0.12:
			add("historical month share high", 6)
		case month >= 0.08:
			add("historical month share elevated", 3)
		}

		outdoor := TypeShare(records, OutdoorTypes)
		switch {
		case outdoor >= 0.45:
			add("historical outdoor-type share high", 5)
		case outdoor >= 0.30:
			add("historical outdoor-type share elevated", 2)
		}
	}

	score := math.Min(100, math.Max(0, total))
	return models.RiskAssessment{
		Score:   score,
		Level:   Classify(score),
		Reasons: reasons,
	}
}

func (sc Scorer) subset(ds *models.Dataset) []models.HistoricalRecord {
	if ds.Len() == 0 {
		return nil
	}
	if sc.LocalityPattern == nil {
		return ds.Records
	}
	var out []models.HistoricalRecord
	for _, r := range ds.Records {
		if sc.LocalityPattern.MatchString(r.Locality) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return ds.Records
	}
	return out
}

// TemperatureBonus is the stepped temperature contribution.
func TemperatureBonus(tempC float64) float64 {
	switch {
	case tempC >= 32:
		return 42
	case tempC >= 30:
		return 36
	case tempC >= 27:
		return 28
	case tempC >= 25:
		return 20
	case tempC >= 22:
		return 10
	default:
		return 0
	}
}

// Classify maps a clamped score onto a Level.
func Classify(score float64) models.Level {
	switch {
	case score < ModerateThreshold:
		return models.LevelLow
	case score < HighThreshold:
		return models.LevelModerate
	case score < VeryHighThreshold:
		return models.LevelHigh
	default:
		return models.LevelVeryHigh
	}
}

// IsFullMoonLike reports whether the phase label names a full moon, or the age
// (mod one synodic month) falls within [13.3, 16.3].
func IsFullMoonLike(phase string, ageDays *float64) bool {
	p := strings.ToLower(phase)
	if strings.Contains(p, "full") || strings.Contains(p, "満月") {
		return true
	}
	if ageDays == nil {
		return false
	}
	age := math.Mod(*ageDays, SynodicMonth)
	if age < 0 {
		age += SynodicMonth
	}
	return age >= 13.3 && age <= 16.3
}

// MonthShare is the fraction of records dated in month. Undated records count
// toward the denominator only.
func MonthShare(records []models.HistoricalRecord, month time.Month) float64 {
	if len(records) == 0 {
		return 0
	}
	n := 0
	for _, r := range records {
		if r.OccurredOn != nil && r.OccurredOn.Month() == month {
			n++
		}
	}
	return float64(n) / float64(len(records))
}

// TypeShare is the combined fraction of records whose type is one of types.
func TypeShare(records []models.HistoricalRecord, types []string) float64 {
	if len(records) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	n := 0
	for _, r := range records {
		if _, ok := want[r.IncidentType]; ok {
			n++
		}
	}
	return float64(n) / float64(len(records))
}
