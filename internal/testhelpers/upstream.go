// Package testhelpers provides a stub of every upstream API for tests that
// exercise the full provider stack without network access.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Upstream paths, relative to the stub's URL.
const (
	PathWeatherAPICurrent   = "/current.json"
	PathWeatherAPIAstronomy = "/astronomy.json"
	PathOpenWeather         = "/weather"
	PathMoonAge             = "/position.cgi"
	PathGSI                 = "/address-search/AddressSearch"
)

// Place is a geocodable place known to the stub.
type Place struct {
	Query string
	Lat   float64
	Lon   float64
}

// Upstream serves canned responses for weatherapi.com, OpenWeather, the moon-age
// API and GSI address search from one httptest server. Paths can be switched to
// fail with 503 and calls are counted per path.
type Upstream struct {
	server *httptest.Server

	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int

	TempC     float64
	Humidity  float64
	MoonAge   float64
	MoonPhase string
	Places    []Place
}

// NewUpstream starts a stub reporting a hot, humid night with a full moon.
// The server is closed by t.Cleanup.
func NewUpstream(t *testing.T) *Upstream {
	t.Helper()
	u := &Upstream{
		failing:   make(map[string]bool),
		calls:     make(map[string]int),
		TempC:     33,
		Humidity:  85,
		MoonAge:   14.8,
		MoonPhase: "Full Moon",
		Places:    []Place{{Query: "上島町弓削", Lat: 34.27717, Lon: 133.20986}},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(PathWeatherAPICurrent, u.handle(func(r *http.Request) any {
		return map[string]any{"current": map[string]any{
			"temp_c":    u.TempC,
			"humidity":  u.Humidity,
			"precip_mm": 0,
			"wind_kph":  12,
			"condition": map[string]any{"text": "晴れ"},
		}}
	}))
	mux.HandleFunc(PathWeatherAPIAstronomy, u.handle(func(r *http.Request) any {
		return map[string]any{"astronomy": map[string]any{"astro": map[string]any{"moon_phase": u.MoonPhase}}}
	}))
	mux.HandleFunc(PathOpenWeather, u.handle(func(r *http.Request) any {
		return map[string]any{
			"main":    map[string]any{"temp": u.TempC, "humidity": u.Humidity},
			"weather": []map[string]any{{"main": "Clear", "description": "快晴"}},
			"wind":    map[string]any{"speed": 3},
		}
	}))
	mux.HandleFunc(PathMoonAge, u.handle(func(r *http.Request) any {
		return map[string]any{"result": map[string]any{"age": u.MoonAge, "altitude": 20.5, "azimuth": 140.0}}
	}))
	mux.HandleFunc(PathGSI, u.handle(func(r *http.Request) any {
		q := r.URL.Query().Get("q")
		features := []map[string]any{}
		for _, p := range u.Places {
			if p.Query == q {
				features = append(features, map[string]any{
					"geometry":   map[string]any{"coordinates": []float64{p.Lon, p.Lat}},
					"properties": map[string]any{"title": p.Query},
				})
			}
		}
		return features
	}))

	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

// URL is the base URL to configure every provider client with.
func (u *Upstream) URL() string {
	return u.server.URL
}

// Client returns an HTTP client bound to the stub server.
func (u *Upstream) Client() *http.Client {
	return u.server.Client()
}

// SetFailing makes path answer 503 until reset.
func (u *Upstream) SetFailing(path string, fail bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failing[path] = fail
}

// Calls returns how many requests path received.
func (u *Upstream) Calls(path string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[path]
}

func (u *Upstream) handle(body func(r *http.Request) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.calls[r.URL.Path]++
		fail := u.failing[r.URL.Path]
		u.mu.Unlock()

		if fail {
			http.Error(w, `{"error":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body(r))
	}
}
