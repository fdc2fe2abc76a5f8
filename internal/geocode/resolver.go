// Package geocode resolves free-text place queries to coordinates through a
// durable cache in front of an address-search provider.
package geocode

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/kjstillabower/risk-signal-service/internal/client"
	"github.com/kjstillabower/risk-signal-service/internal/models"
	"github.com/kjstillabower/risk-signal-service/internal/observability"
)

// Provider looks a place up upstream. ok is false when the place is unknown.
type Provider interface {
	Lookup(ctx context.Context, query string) (models.Coordinate, bool, error)
}

// Store persists resolved coordinates across restarts.
type Store interface {
	Get(ctx context.Context, key string) (models.Coordinate, bool, error)
	Put(ctx context.Context, key string, c models.Coordinate) error
	Close() error
}

// Resolver is the contract consumed by the service layer.
type Resolver interface {
	Resolve(ctx context.Context, query string) (models.Coordinate, bool)
}

// CachedResolver consults the store before the provider and writes back hits.
type CachedResolver struct {
	provider Provider
	store    Store
	logger   *zap.Logger
}

// NewCachedResolver wraps provider with store.
func NewCachedResolver(provider Provider, store Store, logger *zap.Logger) *CachedResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedResolver{provider: provider, store: store, logger: logger}
}

// Key normalizes a query so that width and case variants share one entry.
func Key(query string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(query)))
}

// Resolve returns the coordinate of query. ok is false for blank queries,
// unknown places and provider failures; none of those are cached.
func (r *CachedResolver) Resolve(ctx context.Context, query string) (models.Coordinate, bool) {
	key := Key(query)
	if key == "" {
		return models.Coordinate{}, false
	}
	logger := observability.LoggerFrom(ctx, r.logger)

	c, ok, err := r.store.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("geocode", "get").Inc()
		logger.Warn("geocode store read failed", zap.String("key", key), zap.Error(err))
	case ok:
		observability.CacheHitsTotal.WithLabelValues("geocode").Inc()
		return c, true
	default:
		observability.CacheMissesTotal.WithLabelValues("geocode").Inc()
	}

	c, ok, err = r.provider.Lookup(ctx, key)
	if err != nil {
		logger.Warn("geocode lookup failed",
			zap.String("query", key),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return models.Coordinate{}, false
	}
	if !ok {
		logger.Debug("geocode lookup found nothing", zap.String("query", key))
		return models.Coordinate{}, false
	}

	if err := r.store.Put(ctx, key, c); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("geocode", "set").Inc()
		logger.Warn("geocode store write failed", zap.String("key", key), zap.Error(err))
	}
	return c, true
}
