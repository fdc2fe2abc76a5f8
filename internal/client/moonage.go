package client

import (
	"context"
	"net/url"
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

const moonAgeBaseURL = "https://mgpn.org/api/moon"

// MoonAgeClient reads a keyless moon position API that reports the moon's age
// together with its altitude and azimuth for an observer.
type MoonAgeClient struct {
	req requester
}

// NewMoonAgeClient returns a moon-age client.
func NewMoonAgeClient(opts Options) *MoonAgeClient {
	return &MoonAgeClient{req: newRequester("moonage", moonAgeBaseURL, opts)}
}

func (c *MoonAgeClient) Name() string { return "moonage" }

type moonAgeResponse struct {
	Result *struct {
		Age      *float64 `json:"age"`
		Altitude *float64 `json:"altitude"`
		Azimuth  *float64 `json:"azimuth"`
	} `json:"result"`
}

// FetchMoon implements MoonProvider. t is sent as local wall time of its own location.
func (c *MoonAgeClient) FetchMoon(ctx context.Context, coord models.Coordinate, t time.Time) (models.MoonSignal, error) {
	params := url.Values{}
	params.Set("json", "")
	params.Set("lat", formatCoord(coord.Lat))
	params.Set("lon", formatCoord(coord.Lon))
	params.Set("time", t.Format("2006-01-02T15:04"))

	var resp moonAgeResponse
	if err := c.req.getJSON(ctx, "/position.cgi", params, &resp); err != nil {
		return models.MoonSignal{}, err
	}
	if resp.Result == nil || resp.Result.Age == nil {
		return models.MoonSignal{}, malformed(c.Name(), "result.age missing")
	}
	return models.MoonSignal{
		AgeDays:     resp.Result.Age,
		AltitudeDeg: resp.Result.Altitude,
		AzimuthDeg:  resp.Result.Azimuth,
		Provider:    c.Name(),
	}, nil
}
