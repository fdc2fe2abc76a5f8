package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

const gsiBaseURL = "https://msearch.gsi.go.jp"

// GSIClient resolves Japanese place names with the Geospatial Information
// Authority address search. It needs no API key.
type GSIClient struct {
	req requester
}

// NewGSIClient returns an address-search client.
func NewGSIClient(opts Options) *GSIClient {
	return &GSIClient{req: newRequester("gsi", gsiBaseURL, opts)}
}

func (c *GSIClient) Name() string { return "gsi" }

type gsiFeature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geometry"`
	Properties struct {
		Title string `json:"title"`
	} `json:"properties"`
}

// Lookup returns the first match for query. ok is false when the service
// knows no such place; err is reserved for transport and decoding failures.
func (c *GSIClient) Lookup(ctx context.Context, query string) (models.Coordinate, bool, error) {
	params := url.Values{}
	params.Set("q", strings.TrimSpace(query))

	var features []gsiFeature
	if err := c.req.getJSON(ctx, "/address-search/AddressSearch", params, &features); err != nil {
		return models.Coordinate{}, false, err
	}
	for _, f := range features {
		if len(f.Geometry.Coordinates) < 2 {
			continue
		}
		return models.Coordinate{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}, true, nil
	}
	return models.Coordinate{}, false, nil
}
