package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// MoonFetcher is implemented by the lunar fallback chain, which populates the
// cache as a side effect. Declared here to avoid an import cycle.
type MoonFetcher interface {
	Acquire(ctx context.Context, c models.Coordinate, t time.Time) models.MoonSignal
}

// TrackedPoint is a named coordinate whose lunar result is kept warm.
type TrackedPoint struct {
	Name  string
	Coord models.Coordinate
}

// CacheWarmer prefetches lunar results for tracked points so the first request
// in each time bucket does not pay provider latency.
type CacheWarmer struct {
	fetcher MoonFetcher
	clock   clockwork.Clock
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher MoonFetcher, clock clockwork.Clock, logger *zap.Logger) *CacheWarmer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, clock: clock, logger: logger}
}

// Warm fetches the current lunar result for each point concurrently.
// A point only answered by the offline default counts as a failure.
func (w *CacheWarmer) Warm(ctx context.Context, points []TrackedPoint) error {
	start := w.clock.Now()
	w.logger.Info("warming lunar cache", zap.Int("points", len(points)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(points))
	for _, p := range points {
		wg.Add(1)
		go func(p TrackedPoint) {
			defer wg.Done()
			sig := w.fetcher.Acquire(ctx, p.Coord, start)
			if sig.Provider == models.ProviderOffline {
				observability.CacheWarmingTotal.WithLabelValues("failure").Inc()
				errCh <- fmt.Errorf("warm %s: no lunar provider answered", p.Name)
				return
			}
			observability.CacheWarmingTotal.WithLabelValues("success").Inc()
		}(p)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Info("lunar cache warming complete",
		zap.Int("points", len(points)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", w.clock.Since(start)))
	return errors.Join(errs...)
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, points []TrackedPoint, interval time.Duration) error {
	if err := w.Warm(ctx, points); err != nil {
		w.logger.Warn("initial lunar cache warm failed", zap.Error(err))
	}
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.Warm(ctx, points); err != nil {
				w.logger.Warn("periodic lunar cache warm failed", zap.Error(err))
			}
		}
	}
}
