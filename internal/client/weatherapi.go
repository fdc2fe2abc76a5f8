package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

const weatherAPIBaseURL = "https://api.weatherapi.com/v1"

// WeatherAPIClient reads weatherapi.com. It serves both current conditions and
// the astronomy moon phase, so it can sit in either fallback chain.
type WeatherAPIClient struct {
	apiKey string
	req    requester
}

// NewWeatherAPIClient returns a client for weatherapi.com. An empty key is rejected
// so an unconfigured provider is left out of the chain instead of failing every call.
func NewWeatherAPIClient(apiKey string, opts Options) (*WeatherAPIClient, error) {
	if err := requireKey(apiKey); err != nil {
		return nil, err
	}
	return &WeatherAPIClient{apiKey: apiKey, req: newRequester("weatherapi", weatherAPIBaseURL, opts)}, nil
}

func (c *WeatherAPIClient) Name() string { return "weatherapi" }

type weatherAPICurrent struct {
	Current struct {
		TempC     *float64 `json:"temp_c"`
		Humidity  float64  `json:"humidity"`
		PrecipMM  float64  `json:"precip_mm"`
		WindKPH   float64  `json:"wind_kph"`
		Condition struct {
			Text string `json:"text"`
		} `json:"condition"`
	} `json:"current"`
}

type weatherAPIAstronomy struct {
	Astronomy struct {
		Astro struct {
			MoonPhase string `json:"moon_phase"`
		} `json:"astro"`
	} `json:"astronomy"`
}

// FetchWeather reads current conditions and, best effort, today's moon phase text.
func (c *WeatherAPIClient) FetchWeather(ctx context.Context, coord models.Coordinate) (models.WeatherSignal, error) {
	var cur weatherAPICurrent
	params := c.params(coord)
	params.Set("aqi", "no")
	if err := c.req.getJSON(ctx, "/current.json", params, &cur); err != nil {
		return models.WeatherSignal{}, err
	}
	if cur.Current.TempC == nil {
		return models.WeatherSignal{}, malformed(c.Name(), "current.temp_c missing")
	}

	sig := models.WeatherSignal{
		TemperatureC: *cur.Current.TempC,
		HumidityPct:  cur.Current.Humidity,
		PrecipMM:     cur.Current.PrecipMM,
		WindKPH:      cur.Current.WindKPH,
		Condition:    cur.Current.Condition.Text,
		Provider:     c.Name(),
	}
	// The astronomy call only adds the phase label; conditions are still usable without it.
	if phase, err := c.moonPhase(ctx, coord, time.Time{}); err == nil {
		sig.MoonPhase = phase
	}
	return sig, nil
}

// FetchMoon maps the astronomy phase name to an approximate age in days.
func (c *WeatherAPIClient) FetchMoon(ctx context.Context, coord models.Coordinate, t time.Time) (models.MoonSignal, error) {
	phase, err := c.moonPhase(ctx, coord, t)
	if err != nil {
		return models.MoonSignal{}, err
	}
	sig := models.MoonSignal{PhaseLabel: phase, Provider: c.Name()}
	if age, ok := phaseNameAges[strings.ToLower(strings.TrimSpace(phase))]; ok {
		sig.AgeDays = &age
	}
	return sig, nil
}

func (c *WeatherAPIClient) moonPhase(ctx context.Context, coord models.Coordinate, t time.Time) (string, error) {
	var astro weatherAPIAstronomy
	params := c.params(coord)
	if !t.IsZero() {
		params.Set("dt", t.Format("2006-01-02"))
	}
	if err := c.req.getJSON(ctx, "/astronomy.json", params, &astro); err != nil {
		return "", err
	}
	phase := strings.TrimSpace(astro.Astronomy.Astro.MoonPhase)
	if phase == "" {
		return "", malformed(c.Name(), "astronomy.astro.moon_phase missing")
	}
	return phase, nil
}

func (c *WeatherAPIClient) params(coord models.Coordinate) url.Values {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("q", formatCoord(coord.Lat)+","+formatCoord(coord.Lon))
	return params
}

// phaseNameAges places each named phase at the middle of its eighth of the synodic month.
var phaseNameAges = map[string]float64{
	"new moon":        0,
	"waxing crescent": 3.7,
	"first quarter":   7.4,
	"waxing gibbous":  11.1,
	"full moon":       14.8,
	"waning gibbous":  18.5,
	"last quarter":    22.1,
	"third quarter":   22.1,
	"waning crescent": 25.8,
}
