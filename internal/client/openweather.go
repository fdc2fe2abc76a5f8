package client

import (
	"context"
	"net/url"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// OpenWeatherClient reads OpenWeatherMap current weather.
type OpenWeatherClient struct {
	apiKey string
	lang   string
	req    requester
}

// NewOpenWeatherClient returns an OpenWeatherMap client. lang selects the
// language of the condition description ("ja" when empty).
func NewOpenWeatherClient(apiKey, lang string, opts Options) (*OpenWeatherClient, error) {
	if err := requireKey(apiKey); err != nil {
		return nil, err
	}
	if lang == "" {
		lang = "ja"
	}
	return &OpenWeatherClient{apiKey: apiKey, lang: lang, req: newRequester("openweather", openWeatherBaseURL, opts)}, nil
}

func (c *OpenWeatherClient) Name() string { return "openweather" }

type openWeatherResponse struct {
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"` // m/s in metric units
	} `json:"wind"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Snow struct {
		OneHour float64 `json:"1h"`
	} `json:"snow"`
}

// FetchWeather implements WeatherProvider.
func (c *OpenWeatherClient) FetchWeather(ctx context.Context, coord models.Coordinate) (models.WeatherSignal, error) {
	params := url.Values{}
	params.Set("lat", formatCoord(coord.Lat))
	params.Set("lon", formatCoord(coord.Lon))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	params.Set("lang", c.lang)

	var resp openWeatherResponse
	if err := c.req.getJSON(ctx, "/weather", params, &resp); err != nil {
		return models.WeatherSignal{}, err
	}
	if resp.Main == nil {
		return models.WeatherSignal{}, malformed(c.Name(), "main missing")
	}

	condition := ""
	if len(resp.Weather) > 0 {
		condition = resp.Weather[0].Main
		if resp.Weather[0].Description != "" {
			condition = resp.Weather[0].Description
		}
	}
	return models.WeatherSignal{
		TemperatureC: resp.Main.Temp,
		HumidityPct:  resp.Main.Humidity,
		PrecipMM:     resp.Rain.OneHour + resp.Snow.OneHour,
		WindKPH:      resp.Wind.Speed * 3.6,
		Condition:    condition,
		Provider:     c.Name(),
	}, nil
}
