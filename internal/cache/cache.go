// Package cache memoizes lunar provider results for a short window.
package cache

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

const (
	// DefaultTTL is how long a lunar result stays fresh.
	DefaultTTL = 30 * time.Minute
	// BucketWidth is the time granularity of cache keys.
	BucketWidth = 30 * time.Minute
)

// MoonCache defines the interface for lunar result caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type MoonCache interface {
	Get(ctx context.Context, key string) (models.MoonSignal, bool, error)
	Set(ctx context.Context, key string, value models.MoonSignal, ttl time.Duration) error
}

// MoonKey builds the cache key for a coordinate rounded to two decimals and
// the 30-minute bucket containing t.
func MoonKey(c models.Coordinate, t time.Time) string {
	return fmt.Sprintf("%.2f,%.2f@%s", round2(c.Lat), round2(c.Lon), t.UTC().Truncate(BucketWidth).Format(time.RFC3339))
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0 // avoid "-0.00"
	}
	return r
}

// InMemoryCache implements MoonCache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	clock clockwork.Clock

	mu   sync.Mutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     models.MoonSignal
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance. A nil clock uses wall time.
func NewInMemoryCache(clock clockwork.Clock) *InMemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryCache{
		clock: clock,
		data:  make(map[string]cacheEntry),
	}
}

// Get returns (data, true, nil) on hit and (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.MoonSignal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.MoonSignal{}, false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.data, key)
		return models.MoonSignal{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key until ttl elapses.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.MoonSignal, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
