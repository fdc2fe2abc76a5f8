package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/risk-signal-service/internal/config"
	"github.com/kjstillabower/risk-signal-service/internal/lifecycle"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/service"
	"github.com/kjstillabower/risk-signal-service/internal/signals"
	"github.com/kjstillabower/risk-signal-service/internal/testhelpers"
)

func testConfig(t *testing.T, up *testhelpers.Upstream) *config.Config {
	t.Helper()
	return &config.Config{
		ServerPort:              "0",
		RequestTimeout:          5 * time.Second,
		Location:                time.FixedZone("JST", 9*60*60),
		DefaultPoint:            models.Coordinate{Lat: 34.27717, Lon: 133.20986},
		WeatherAPIKey:           "wa-test-key-0001",
		OpenWeatherKey:          "ow-test-key-0001",
		WeatherAPIURL:           up.URL(),
		OpenWeatherURL:          up.URL(),
		OpenWeatherLang:         "ja",
		ProviderTimeout:         2 * time.Second,
		MoonAPIURL:              up.URL(),
		MoonRetryAttempts:       3,
		MoonRetryBaseDelay:      time.Millisecond,
		MoonCacheTTL:            30 * time.Minute,
		MoonCacheBackend:        "in_memory",
		GeocodeURL:              up.URL(),
		GeocodeStore:            "in_memory",
		PlaceMinLen:             1,
		PlaceMaxLen:             100,
		HistoryGlob:             filepath.Join(t.TempDir(), "*.csv"),
		TargetYear:              2019,
		RetryAttempts:           1,
		RetryBaseDelay:          time.Millisecond,
		RetryMaxDelay:           10 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerTimeout:          30 * time.Second,
		TrackedPoints:           []config.TrackedPoint{{Name: "yuge", Lat: 34.27717, Lon: 133.20986}},
	}
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestNew_LiveProviders(t *testing.T) {
	lifecycle.SetPhase(lifecycle.PhaseReady)
	up := testhelpers.NewUpstream(t)
	a, err := New(context.Background(), testConfig(t, up), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	w := serve(t, a.Router(), "/risk")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report service.RiskReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.Equal(t, "weatherapi", report.Signals.WeatherProvider)
	assert.Equal(t, "moonage", report.Signals.MoonProvider)
	assert.False(t, report.Fallback)
	assert.Nil(t, a.CachePing)
}

func TestNew_MissingKeysDropProviders(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	cfg := testConfig(t, up)
	cfg.WeatherAPIKey = ""
	cfg.OpenWeatherKey = ""
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	report := a.Service.Assess(context.Background(), cfg.DefaultPoint)

	assert.Equal(t, models.ProviderOffline, report.Signals.WeatherProvider)
	assert.Equal(t, "moonage", report.Signals.MoonProvider)
	assert.True(t, report.Fallback)
	assert.Zero(t, up.Calls(testhelpers.PathWeatherAPICurrent))
	assert.Zero(t, up.Calls(testhelpers.PathOpenWeather))
}

func TestNew_LunarRetry(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	up.SetFailing(testhelpers.PathMoonAge, true)
	a, err := New(context.Background(), testConfig(t, up), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sig := a.Moon.Acquire(context.Background(), a.Config.DefaultPoint, time.Now())

	assert.Equal(t, 3, up.Calls(testhelpers.PathMoonAge))
	assert.Equal(t, "weatherapi", sig.Provider)
	require.NotNil(t, sig.AgeDays)
	assert.Equal(t, signals.PhaseLabel(*sig.AgeDays), sig.PhaseLabel)
}

func TestNew_LunarRetryOnEveryProvider(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	up.SetFailing(testhelpers.PathMoonAge, true)
	up.SetFailing(testhelpers.PathWeatherAPIAstronomy, true)
	cfg := testConfig(t, up)
	cfg.RetryAttempts = 1
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	sig := a.Moon.Acquire(context.Background(), cfg.DefaultPoint, time.Now())

	assert.Equal(t, models.ProviderOffline, sig.Provider)
	assert.Equal(t, 3, up.Calls(testhelpers.PathMoonAge))
	assert.Equal(t, 3, up.Calls(testhelpers.PathWeatherAPIAstronomy))
}

func TestNew_WeatherKeepsItsOwnRetryPolicy(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	up.SetFailing(testhelpers.PathWeatherAPICurrent, true)
	cfg := testConfig(t, up)
	cfg.RetryAttempts = 1
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	report := a.Service.Assess(context.Background(), cfg.DefaultPoint)

	assert.Equal(t, "openweather", report.Signals.WeatherProvider)
	assert.Equal(t, 1, up.Calls(testhelpers.PathWeatherAPICurrent))
}

func TestNew_SQLiteGeocodeStore(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	cfg := testConfig(t, up)
	cfg.GeocodeStore = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "geocode.db")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	report, err := a.Service.AssessPlace(context.Background(), "上島町弓削")
	require.NoError(t, err)
	assert.Equal(t, 34.27717, report.Coordinate.Lat)
	require.NoError(t, a.Close())

	// A new process finds the place without asking GSI again.
	b, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	_, err = b.Service.AssessPlace(context.Background(), "上島町弓削")
	require.NoError(t, err)
	assert.Equal(t, 1, up.Calls(testhelpers.PathGSI))
}

func TestNew_UnreachableRedis(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	cfg := testConfig(t, up)
	cfg.GeocodeStore = "redis"
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestNew_MemcachedBackend(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	cfg := testConfig(t, up)
	cfg.MoonCacheBackend = "memcached"
	cfg.MemcachedAddrs = "127.0.0.1:1"
	cfg.MemcachedTimeout = 50 * time.Millisecond

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.CachePing)
	assert.Error(t, a.CachePing())

	// An unreachable cache degrades to provider calls.
	sig := a.Moon.Acquire(context.Background(), cfg.DefaultPoint, time.Now())
	assert.Equal(t, "moonage", sig.Provider)
}

func TestLoadHistory(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	cfg := testConfig(t, up)
	dir := filepath.Dir(cfg.HistoryGlob)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"),
		[]byte("date,city,type\n2019-01-05,上島町,ひったくり\n2018-03-01,上島町,ひったくり\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"),
		[]byte("date,city,type\n2019-07-17,松山市,自転車盗\n"), 0o600))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	report, err := a.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)
	assert.Len(t, report.Sources, 2)

	w := serve(t, a.Router(), "/history/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var summary service.HistorySummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.True(t, summary.Loaded)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 1, summary.Months[0])
	assert.Equal(t, 1, summary.Months[6])
}

func TestLoadHistory_NoFiles(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	a, err := New(context.Background(), testConfig(t, up), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	report, err := a.LoadHistory(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Records)
	assert.Nil(t, a.Service.Dataset())
}

func TestTrackedPoints(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	a, err := New(context.Background(), testConfig(t, up), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	points := a.TrackedPoints()
	require.Len(t, points, 1)
	assert.Equal(t, "yuge", points[0].Name)
	assert.Equal(t, models.Coordinate{Lat: 34.27717, Lon: 133.20986}, points[0].Coord)
}
