// Package client talks to the upstream weather, lunar and geocoding APIs.
// Every provider shares one request path: per-call timeout, correlation ID
// propagation, status mapping to sentinel errors, retry with backoff and an
// optional circuit breaker.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/risk-signal-service/internal/circuitbreaker"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// WeatherProvider returns current conditions for a coordinate.
type WeatherProvider interface {
	Name() string
	FetchWeather(ctx context.Context, c models.Coordinate) (models.WeatherSignal, error)
}

// MoonProvider returns the lunar state at a coordinate and instant.
type MoonProvider interface {
	Name() string
	FetchMoon(ctx context.Context, c models.Coordinate, t time.Time) (models.MoonSignal, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrNotFound        = errors.New("not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrMalformed       = errors.New("malformed response")
)

const maxBodyBytes = 1 << 20

// Options configures the shared request path of a provider client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Breaker        *circuitbreaker.CircuitBreaker // optional
	HTTPClient     *http.Client                   // optional; tests inject httptest clients
}

func (o Options) withDefaults(baseURL string) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 1
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 2 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}

// requester is the request path shared by every provider client.
type requester struct {
	provider string
	opts     Options
}

func newRequester(provider, defaultBaseURL string, opts Options) requester {
	return requester{provider: provider, opts: opts.withDefaults(defaultBaseURL)}
}

// getJSON issues GET BaseURL+path?params with retry and decodes the body into out.
func (r requester) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	call := func() error { return r.withRetry(ctx, func() error { return r.callAPI(ctx, path, params, out) }) }
	if r.opts.Breaker == nil {
		return call()
	}
	err := r.opts.Breaker.Call(ctx, call)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.ProviderCallsTotal.WithLabelValues(r.provider, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", r.provider, err)
	}
	return err
}

func (r requester) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(r.provider).Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.calculateBackoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(ctx, err) {
			return err
		}
	}
	if r.opts.RetryAttempts > 1 {
		return fmt.Errorf("exhausted %d attempts: %w", r.opts.RetryAttempts, lastErr)
	}
	return lastErr
}

func (r requester) callAPI(ctx context.Context, path string, params url.Values, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := r.buildRequest(reqCtx, path, params)
	if err != nil {
		r.observe("build_error", start)
		return fmt.Errorf("%s: build request: %w", r.provider, err)
	}

	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		r.observe(string(CategorizeError(err)), start)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: request timeout: %w", r.provider, err)
		}
		return fmt.Errorf("%s: http request failed: %w", r.provider, err)
	}
	defer resp.Body.Close()

	if err := handleErrorResponse(resp); err != nil {
		r.observe(string(CategorizeError(err)), start)
		return fmt.Errorf("%s: %w", r.provider, err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		r.observe("read_error", start)
		return fmt.Errorf("%s: read response body: %w", r.provider, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		r.observe(string(ErrorCategoryParsing), start)
		return fmt.Errorf("%s: %w: %v", r.provider, ErrMalformed, err)
	}
	r.observe("success", start)
	return nil
}

func (r requester) observe(status string, start time.Time) {
	observability.ProviderCallsTotal.WithLabelValues(r.provider, status).Inc()
	observability.ProviderDuration.WithLabelValues(r.provider, status).Observe(time.Since(start).Seconds())
}

func (r requester) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(r.opts.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// isRetryable reports whether another attempt could succeed. A caller-side
// cancellation or deadline is never retried.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamFailure):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true // per-call timeout fired while the caller still has time
	}
	return CategorizeError(err) == ErrorCategoryNetwork
}

func (r requester) calculateBackoff(attempt int) time.Duration {
	delay := float64(r.opts.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.opts.RetryMaxDelay) {
		delay = float64(r.opts.RetryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrInvalidAPIKey, resp.StatusCode)
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func formatCoord(v float64) string {
	return fmt.Sprintf("%.6f", v)
}
