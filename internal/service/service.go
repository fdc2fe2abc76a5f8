// Package service assesses situational risk for a point by fusing live
// signals with the loaded historical dataset.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/degraded"
	"github.com/kjstillabower/risk-signal-service/internal/geocode"
	"github.com/kjstillabower/risk-signal-service/internal/ingest"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
	"github.com/kjstillabower/risk-signal-service/internal/scoring"
	"github.com/kjstillabower/risk-signal-service/internal/signals"
)

var (
	// ErrPlaceNotFound is returned when a place query cannot be resolved.
	ErrPlaceNotFound = errors.New("place not found")
	// ErrNoResolver is returned by AssessPlace when no geocoder is configured.
	ErrNoResolver = errors.New("place lookup not configured")
)

// SignalSource acquires live signals. *signals.Acquirer implements it.
type SignalSource interface {
	Acquire(ctx context.Context, c models.Coordinate, t time.Time) signals.Acquisition
}

// Options carries the optional collaborators of a RiskService.
type Options struct {
	Scorer   scoring.Scorer
	Resolver geocode.Resolver // nil disables AssessPlace
	Clock    clockwork.Clock
	Location *time.Location // local time for the hour and weekday rules
	Logger   *zap.Logger
}

// RiskService produces risk reports. The historical dataset can be swapped at
// runtime; each assessment reads one consistent dataset.
type RiskService struct {
	signals  SignalSource
	scorer   scoring.Scorer
	resolver geocode.Resolver
	clock    clockwork.Clock
	loc      *time.Location
	logger   *zap.Logger

	dataset atomic.Pointer[models.Dataset]
}

// NewRiskService creates a RiskService over src.
func NewRiskService(src SignalSource, opts Options) *RiskService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RiskService{
		signals:  src,
		scorer:   opts.Scorer,
		resolver: opts.Resolver,
		clock:    opts.Clock,
		loc:      opts.Location,
		logger:   opts.Logger,
	}
}

// SetDataset replaces the historical dataset. nil means no history.
func (s *RiskService) SetDataset(ds *models.Dataset) {
	s.dataset.Store(ds)
}

// Dataset returns the current historical dataset, possibly nil.
func (s *RiskService) Dataset() *models.Dataset {
	return s.dataset.Load()
}

// LoadHistory aggregates sources with agg and installs the result. Sources that
// fail are reported, not fatal.
func (s *RiskService) LoadHistory(ctx context.Context, agg *ingest.Aggregator, sources []ingest.Source) ingest.AggregateReport {
	ds, report := agg.Aggregate(ctx, sources)
	s.SetDataset(ds)
	return report
}

// Assess scores c at the current time.
func (s *RiskService) Assess(ctx context.Context, c models.Coordinate) RiskReport {
	return s.AssessAt(ctx, c, s.clock.Now())
}

// AssessAt scores c at t. It never fails: missing signals fall back to offline defaults.
func (s *RiskService) AssessAt(ctx context.Context, c models.Coordinate, t time.Time) RiskReport {
	start := time.Now()
	local := t.In(s.loc)
	logger := observability.LoggerFrom(ctx, s.logger)

	acq := s.signals.Acquire(ctx, c, local)
	assessment := s.scorer.Score(acq.Snapshot(), local, s.Dataset())

	if acq.UsedFallback() {
		degraded.RecordFallback()
	} else {
		degraded.RecordServed()
	}
	observability.RiskAssessmentsTotal.WithLabelValues(assessment.Level.String()).Inc()

	logger.Debug("risk assessed",
		zap.Float64("lat", c.Lat),
		zap.Float64("lon", c.Lon),
		zap.Float64("score", assessment.Score),
		zap.String("level", assessment.Level.String()),
		zap.String("weather_provider", acq.Weather.Provider),
		zap.String("moon_provider", acq.Moon.Provider),
		zap.Duration("duration", time.Since(start)))

	return newRiskReport(c, local, acq, assessment)
}

// AssessPlace resolves query and scores the resulting coordinate at the current time.
func (s *RiskService) AssessPlace(ctx context.Context, query string) (RiskReport, error) {
	if s.resolver == nil {
		return RiskReport{}, ErrNoResolver
	}
	place := strings.TrimSpace(query)
	c, ok := s.resolver.Resolve(ctx, place)
	if !ok {
		return RiskReport{}, fmt.Errorf("%w: %s", ErrPlaceNotFound, place)
	}
	observability.RecordPlaceQuery(place)

	report := s.Assess(ctx, c)
	report.Place = place
	return report, nil
}

// TypeCount is one bar of the incident-type histogram.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// HistorySummary describes the loaded historical dataset.
type HistorySummary struct {
	Loaded     bool        `json:"loaded"`
	TargetYear int         `json:"targetYear,omitempty"`
	Records    int         `json:"records"`
	Undated    int         `json:"undated"`
	Months     [12]int     `json:"months"`
	Types      []TypeCount `json:"types"`
}

// HistorySummary returns counts by incident type (descending) and by month.
func (s *RiskService) HistorySummary() HistorySummary {
	return Summarize(s.Dataset())
}

// Summarize builds a HistorySummary for ds; a nil dataset is reported as not loaded.
func Summarize(ds *models.Dataset) HistorySummary {
	sum := HistorySummary{Types: []TypeCount{}}
	if ds == nil {
		return sum
	}
	sum.Loaded = true
	sum.TargetYear = ds.TargetYear
	sum.Records = ds.Len()
	for _, r := range ds.Records {
		if r.OccurredOn == nil {
			sum.Undated++
			continue
		}
		sum.Months[r.OccurredOn.Month()-1]++
	}
	for typ, n := range ds.TypeCounts() {
		sum.Types = append(sum.Types, TypeCount{Type: typ, Count: n})
	}
	sort.Slice(sum.Types, func(i, j int) bool {
		if sum.Types[i].Count != sum.Types[j].Count {
			return sum.Types[i].Count > sum.Types[j].Count
		}
		return sum.Types[i].Type < sum.Types[j].Type
	})
	return sum
}
