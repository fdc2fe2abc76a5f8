package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/config"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/service"
	"github.com/kjstillabower/risk-signal-service/internal/testhelpers"
)

func testCLI(t *testing.T, up *testhelpers.Upstream) (*cli, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Location:                time.FixedZone("JST", 9*60*60),
		DefaultPoint:            models.Coordinate{Lat: 34.27717, Lon: 133.20986},
		WeatherAPIKey:           "wa-test-key-0001",
		WeatherAPIURL:           up.URL(),
		ProviderTimeout:         2 * time.Second,
		MoonAPIURL:              up.URL(),
		MoonRetryAttempts:       1,
		MoonCacheBackend:        "in_memory",
		GeocodeURL:              up.URL(),
		GeocodeStore:            "in_memory",
		HistoryGlob:             filepath.Join(dir, "*.csv"),
		TargetYear:              2019,
		RetryAttempts:           1,
		BreakerFailureThreshold: 5,
	}
	c := &cli{
		loadConfig: func() (*config.Config, error) { return cfg, nil },
		newLogger:  func(bool) (*zap.Logger, error) { return zap.NewNop(), nil },
	}
	return c, dir
}

func run(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(c)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScore_JSON(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	c, _ := testCLI(t, up)

	out, err := run(t, c, "score", "--json", "--lat", "34.2", "--lon", "133.2", "--at", "2019-07-19T22:30:00+09:00")
	require.NoError(t, err)

	var report service.RiskReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, models.Coordinate{Lat: 34.2, Lon: 133.2}, report.Coordinate)
	assert.Equal(t, "weatherapi", report.Signals.WeatherProvider)
	assert.Equal(t, "moonage", report.Signals.MoonProvider)
	assert.Equal(t, 22, report.AssessedAt.Hour())
	assert.NotEmpty(t, report.Reasons)
}

func TestScore_Table(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	c, _ := testCLI(t, up)

	out, err := run(t, c, "score", "--place", "上島町弓削")
	require.NoError(t, err)
	assert.Contains(t, out, "上島町弓削")
	assert.Contains(t, out, "weatherapi")
	assert.Contains(t, out, "Score")
}

func TestScore_Errors(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	c, _ := testCLI(t, up)

	_, err := run(t, c, "score", "--at", "yesterday")
	assert.ErrorIs(t, err, errUsage)

	_, err = run(t, c, "score", "--lat", "95", "--lon", "133")
	assert.ErrorIs(t, err, errUsage)

	_, err = run(t, c, "score", "--place", "存在しない町")
	assert.ErrorIs(t, err, service.ErrPlaceNotFound)
}

func TestIngest(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	c, dir := testCLI(t, up)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hittakuri_2019.csv"),
		[]byte("発生年月日,市町村名\n2019-06-01,今治市\n2019-08-03,松山市\n2018-01-01,松山市\n"), 0o600))

	out, err := run(t, c, "ingest", "--json")
	require.NoError(t, err)

	var view ingestView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Sources, 1)
	assert.Equal(t, 3, view.Sources[0].Rows)
	assert.Equal(t, 2, view.Sources[0].Kept)
	assert.Equal(t, 2, view.Summary.Records)
	require.Len(t, view.Summary.Types, 1)
	assert.Equal(t, "ひったくり", view.Summary.Types[0].Type)

	out, err = run(t, c, "ingest", "--year", "2018")
	require.NoError(t, err)
	assert.Contains(t, out, "hittakuri_2019.csv")
}

func TestIngest_NoMatches(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	c, dir := testCLI(t, up)

	out, err := run(t, c, "ingest", filepath.Join(dir, "none-*.xlsx"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "no files match"), out)
}

func TestGeocode(t *testing.T) {
	up := testhelpers.NewUpstream(t)
	c, _ := testCLI(t, up)

	out, err := run(t, c, "geocode", "--json", " 上島町弓削 ")
	require.NoError(t, err)

	var got struct {
		Query string  `json:"query"`
		Key   string  `json:"key"`
		Lat   float64 `json:"lat"`
		Lon   float64 `json:"lon"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "上島町弓削", got.Key)
	assert.Equal(t, 34.27717, got.Lat)
	assert.Equal(t, 133.20986, got.Lon)

	_, err = run(t, c, "geocode")
	assert.Error(t, err)
}

func TestConfigErrorSurfaces(t *testing.T) {
	c := &cli{
		loadConfig: func() (*config.Config, error) { return nil, errors.New("bad yaml") },
		newLogger:  func(bool) (*zap.Logger, error) { return zap.NewNop(), nil },
	}
	_, err := run(t, c, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad yaml")
}
