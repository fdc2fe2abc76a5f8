package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/risk-signal-service/internal/degraded"
	"github.com/kjstillabower/risk-signal-service/internal/ingest"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/signals"
)

var (
	jst  = time.FixedZone("JST", 9*60*60)
	yuge = models.Coordinate{Lat: 34.27717, Lon: 133.20986}
	// Friday 2019-07-12 22:00 JST.
	fridayNight = time.Date(2019, 7, 12, 13, 0, 0, 0, time.UTC)
)

type fakeSource struct {
	acq   signals.Acquisition
	calls int
	gotT  time.Time
	gotC  models.Coordinate
}

func (f *fakeSource) Acquire(ctx context.Context, c models.Coordinate, t time.Time) signals.Acquisition {
	f.calls++
	f.gotC = c
	f.gotT = t
	return f.acq
}

type fakeResolver struct {
	coords map[string]models.Coordinate
}

func (f *fakeResolver) Resolve(ctx context.Context, query string) (models.Coordinate, bool) {
	c, ok := f.coords[query]
	return c, ok
}

func ptr(v float64) *float64 { return &v }

func hotFullMoon() signals.Acquisition {
	return signals.Acquisition{
		Weather: models.WeatherSignal{TemperatureC: 33, HumidityPct: 85, WindKPH: 12, Condition: "晴れ", Provider: "weatherapi"},
		Moon:    models.MoonSignal{AgeDays: ptr(14.8), PhaseLabel: "near full", Provider: "moonage"},
	}
}

func newTestService(src SignalSource, resolver *fakeResolver) *RiskService {
	opts := Options{Clock: clockwork.NewFakeClockAt(fridayNight), Location: jst}
	if resolver != nil {
		opts.Resolver = resolver
	}
	return NewRiskService(src, opts)
}

// TestAssess_FridayNightFullMoon verifies the scoring of a hot Friday night with a full moon
// and that the clock is converted to the configured zone before scoring.
func TestAssess_FridayNightFullMoon(t *testing.T) {
	degraded.Reset()
	src := &fakeSource{acq: hotFullMoon()}
	svc := newTestService(src, nil)

	report := svc.Assess(context.Background(), yuge)

	if src.gotT.Hour() != 22 {
		t.Errorf("signals acquired at hour %d, want local 22", src.gotT.Hour())
	}
	if report.Score != 71 {
		t.Errorf("Score = %v, want 71 (42 temp + 15 night + 6 weekend + 5 moon + 3 humidity)", report.Score)
	}
	if report.Level != models.LevelHigh || report.Color != "#ff7f2a" {
		t.Errorf("Level = %v %s, want High #ff7f2a", report.Level, report.Color)
	}
	if len(report.Reasons) != 5 {
		t.Errorf("Reasons = %+v, want 5 entries", report.Reasons)
	}
	if report.Signals.WindKPH != 12 || report.Signals.MoonPhase != "near full" {
		t.Errorf("Signals = %+v", report.Signals)
	}
	if report.Fallback {
		t.Error("Fallback = true, want false for live signals")
	}
	if fallbacks, total := degraded.FallbackRate(time.Minute); fallbacks != 0 || total != 1 {
		t.Errorf("FallbackRate = %d/%d, want 0/1", fallbacks, total)
	}
}

// TestAssess_OfflineRecordedAsFallback verifies that offline signals count toward degraded state.
func TestAssess_OfflineRecordedAsFallback(t *testing.T) {
	degraded.Reset()
	src := &fakeSource{acq: signals.Acquisition{
		Weather: signals.OfflineWeather(),
		Moon:    signals.OfflineMoon(fridayNight),
	}}
	svc := newTestService(src, nil)

	report := svc.Assess(context.Background(), yuge)

	if !report.Fallback {
		t.Error("Fallback = false, want true")
	}
	if report.Signals.WeatherProvider != models.ProviderOffline {
		t.Errorf("WeatherProvider = %q, want offline", report.Signals.WeatherProvider)
	}
	if fallbacks, _ := degraded.FallbackRate(time.Minute); fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", fallbacks)
	}
}

// TestAssess_UsesDataset verifies that the installed dataset feeds the historical rules.
func TestAssess_UsesDataset(t *testing.T) {
	degraded.Reset()
	july := time.Date(2019, 7, 3, 0, 0, 0, 0, time.UTC)
	ds := &models.Dataset{TargetYear: 2019}
	for i := 0; i < 10; i++ {
		ds.Records = append(ds.Records, models.HistoricalRecord{OccurredOn: &july, IncidentType: "自転車盗"})
	}
	src := &fakeSource{acq: signals.Acquisition{
		Weather: models.WeatherSignal{TemperatureC: 20, HumidityPct: 50, Provider: "weatherapi"},
		Moon:    models.MoonSignal{AgeDays: ptr(3), PhaseLabel: "waxing crescent", Provider: "moonage"},
	}}
	svc := newTestService(src, nil)

	without := svc.Assess(context.Background(), yuge)
	svc.SetDataset(ds)
	with := svc.Assess(context.Background(), yuge)

	// month share 1.0 → +6, outdoor share 1.0 → +5
	if got := with.Score - without.Score; got != 11 {
		t.Errorf("historical contribution = %v, want 11", got)
	}
}

// TestAssessPlace verifies place resolution and its error paths.
func TestAssessPlace(t *testing.T) {
	degraded.Reset()
	src := &fakeSource{acq: hotFullMoon()}
	svc := newTestService(src, &fakeResolver{coords: map[string]models.Coordinate{"上島町弓削": yuge}})

	report, err := svc.AssessPlace(context.Background(), " 上島町弓削 ")
	if err != nil {
		t.Fatalf("AssessPlace() error = %v", err)
	}
	if report.Place != "上島町弓削" || src.gotC != yuge {
		t.Errorf("report place %q coord %+v", report.Place, src.gotC)
	}

	_, err = svc.AssessPlace(context.Background(), "atlantis")
	if !errors.Is(err, ErrPlaceNotFound) {
		t.Errorf("AssessPlace(unknown) error = %v, want ErrPlaceNotFound", err)
	}

	noGeocoder := newTestService(src, nil)
	if _, err := noGeocoder.AssessPlace(context.Background(), "上島町弓削"); !errors.Is(err, ErrNoResolver) {
		t.Errorf("AssessPlace without resolver error = %v, want ErrNoResolver", err)
	}
}

// TestRiskReport_JSON verifies the wire shape, including empty reasons as [].
func TestRiskReport_JSON(t *testing.T) {
	degraded.Reset()
	src := &fakeSource{acq: signals.Acquisition{
		Weather: models.WeatherSignal{TemperatureC: 15, Provider: "openweather"},
		Moon:    models.MoonSignal{AgeDays: ptr(3), PhaseLabel: "waxing crescent", Provider: "moonage"},
	}}
	// Tuesday noon: no rule fires.
	svc := NewRiskService(src, Options{
		Clock:    clockwork.NewFakeClockAt(time.Date(2019, 7, 9, 3, 0, 0, 0, time.UTC)),
		Location: jst,
	})

	raw, err := json.Marshal(svc.Assess(context.Background(), yuge))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	body := string(raw)
	for _, want := range []string{`"level":"Low"`, `"color":"#0aa0ff"`, `"reasons":[]`, `"weatherProvider":"openweather"`} {
		if !strings.Contains(body, want) {
			t.Errorf("JSON %s missing %s", body, want)
		}
	}
}

// TestLoadHistory verifies that aggregation installs the dataset and reports failures.
func TestLoadHistory(t *testing.T) {
	svc := newTestService(&fakeSource{}, nil)
	csv := "発生年月日,市区町村名\n2019-07-03,上島町\n2018-01-01,今治市\n"
	sources := []ingest.Source{
		ingest.BytesSource("ehime_2019hittakuri.csv", []byte(csv)),
		{Name: "missing.csv", Open: func() ([]byte, error) { return nil, errors.New("no such file") }},
	}

	report := svc.LoadHistory(context.Background(), ingest.NewAggregator(2019, nil), sources)

	if report.Records != 1 || len(report.Failed()) != 1 {
		t.Errorf("report = %+v, want 1 record and 1 failure", report)
	}
	sum := svc.HistorySummary()
	if !sum.Loaded || sum.Records != 1 || sum.Months[6] != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.Types) != 1 || sum.Types[0].Type != "ひったくり" {
		t.Errorf("types = %+v, want ひったくり from the file name", sum.Types)
	}
}

func TestSummarize(t *testing.T) {
	if sum := Summarize(nil); sum.Loaded || sum.Types == nil {
		t.Errorf("Summarize(nil) = %+v, want not loaded with empty types", sum)
	}

	may := time.Date(2019, 5, 1, 0, 0, 0, 0, time.UTC)
	ds := &models.Dataset{TargetYear: 2019, Records: []models.HistoricalRecord{
		{OccurredOn: &may, IncidentType: "自転車盗"},
		{IncidentType: "自転車盗"},
		{IncidentType: "ひったくり"},
		{IncidentType: "車上ねらい"},
	}}
	sum := Summarize(ds)
	if sum.Undated != 3 || sum.Months[4] != 1 {
		t.Errorf("Undated = %d, May = %d", sum.Undated, sum.Months[4])
	}
	want := []TypeCount{{"自転車盗", 2}, {"ひったくり", 1}, {"車上ねらい", 1}}
	for i, w := range want {
		if sum.Types[i] != w {
			t.Errorf("Types[%d] = %+v, want %+v", i, sum.Types[i], w)
		}
	}
}
