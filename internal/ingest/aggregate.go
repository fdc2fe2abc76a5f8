package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// Source is one historical export. Name is used for logging and filename type inference.
type Source struct {
	Name string
	Open func() ([]byte, error)
}

// FileSource reads the file at path.
func FileSource(path string) Source {
	return Source{
		Name: path,
		Open: func() ([]byte, error) { return os.ReadFile(path) },
	}
}

// BytesSource wraps an in-memory buffer.
func BytesSource(name string, raw []byte) Source {
	return Source{
		Name: name,
		Open: func() ([]byte, error) { return raw, nil },
	}
}

// Discover expands glob into file sources in lexicographic path order.
func Discover(glob string) ([]Source, error) {
	paths, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", glob, err)
	}
	sort.Strings(paths)
	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, FileSource(p))
	}
	return sources, nil
}

// SourceReport describes how one source was normalized.
type SourceReport struct {
	Name     string
	Encoding string
	Schema   Schema
	Rows     int // rows read
	Kept     int // rows kept after the target-year filter
	Err      error
}

// AggregateReport summarizes one aggregation run.
type AggregateReport struct {
	Sources []SourceReport
	Records int
}

// Failed returns the reports of sources that could not be read.
func (r AggregateReport) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Aggregator normalizes sources into one dataset for a target year.
type Aggregator struct {
	targetYear int
	logger     *zap.Logger
}

// NewAggregator returns an Aggregator keeping records dated in targetYear (or undated).
func NewAggregator(targetYear int, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{targetYear: targetYear, logger: logger}
}

// Aggregate reads every source in order and concatenates the normalized records.
// It returns a nil dataset when sources is empty. A source that fails to read is
// recorded in the report and skipped; the remaining sources are still processed.
func (a *Aggregator) Aggregate(ctx context.Context, sources []Source) (*models.Dataset, AggregateReport) {
	var report AggregateReport
	if len(sources) == 0 {
		a.logger.Info("no historical sources; scoring uses live signals only")
		return nil, report
	}

	start := time.Now()
	ds := &models.Dataset{TargetYear: a.targetYear}
	for _, src := range sources {
		if ctx.Err() != nil {
			report.Sources = append(report.Sources, SourceReport{Name: src.Name, Err: ctx.Err()})
			continue
		}
		records, sr := a.normalize(src)
		report.Sources = append(report.Sources, sr)
		if sr.Err != nil {
			observability.HistoricalSourcesTotal.WithLabelValues("failed").Inc()
			a.logger.Warn("historical source skipped", zap.String("source", src.Name), zap.Error(sr.Err))
			continue
		}
		observability.HistoricalSourcesTotal.WithLabelValues("ok").Inc()
		a.logger.Debug("historical source loaded",
			zap.String("source", src.Name),
			zap.String("encoding", sr.Encoding),
			zap.Bool("has_date", sr.Schema.HasDate()),
			zap.Bool("has_locality", sr.Schema.HasLocality()),
			zap.Bool("has_type", sr.Schema.HasIncidentType()),
			zap.Int("rows", sr.Rows),
			zap.Int("kept", sr.Kept))
		ds.Records = append(ds.Records, records...)
	}
	report.Records = len(ds.Records)
	observability.HistoricalRecordsLoaded.Set(float64(report.Records))

	a.logger.Info("historical dataset aggregated",
		zap.Int("sources", len(sources)),
		zap.Int("failed", len(report.Failed())),
		zap.Int("records", report.Records),
		zap.Int("target_year", a.targetYear),
		zap.Duration("duration", time.Since(start)))
	return ds, report
}

// withSource attributes err to the named source. An IngestError anywhere in the
// chain gets the name; any other error is wrapped in one.
func withSource(err error, name string) error {
	var ie *IngestError
	if errors.As(err, &ie) {
		ie.Source = name
		return err
	}
	return &IngestError{Source: name, Err: err}
}

func (a *Aggregator) normalize(src Source) ([]models.HistoricalRecord, SourceReport) {
	sr := SourceReport{Name: src.Name}
	raw, err := src.Open()
	if err != nil {
		sr.Err = &IngestError{Source: src.Name, Err: err}
		return nil, sr
	}
	table, err := ReadTable(raw)
	if err != nil {
		sr.Err = withSource(err, src.Name)
		return nil, sr
	}
	sr.Encoding = table.Encoding
	sr.Schema = InferSchema(table.Headers)
	sr.Rows = len(table.Rows)

	fallbackType := ""
	if !sr.Schema.HasIncidentType() {
		fallbackType = TypeFromFilename(src.Name)
	}

	records := make([]models.HistoricalRecord, 0, len(table.Rows))
	for _, row := range table.Rows {
		rec := models.HistoricalRecord{IncidentType: fallbackType}
		if sr.Schema.HasDate() {
			rec.OccurredOn = ParseDate(row[sr.Schema.Date])
		}
		if sr.Schema.HasLocality() {
			rec.Locality = row[sr.Schema.Locality]
		}
		if sr.Schema.HasIncidentType() {
			rec.IncidentType = row[sr.Schema.IncidentType]
		}
		if rec.OccurredOn != nil && rec.OccurredOn.Year() != a.targetYear {
			continue
		}
		records = append(records, rec)
	}
	sr.Kept = len(records)
	return records, sr
}
