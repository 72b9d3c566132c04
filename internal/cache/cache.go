package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/liutianyi617/weather-advisor/internal/models"
)

// Cache stores extracted forecasts by location.
// Get returns data only while the entry is younger than the TTL it was stored with.
type Cache interface {
	Get(ctx context.Context, key string) (models.Forecast, bool, error)
	Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error
}

// InMemoryCache implements Cache with a map guarded by a RWMutex.
// Expiry is evaluated lazily on Get; there is no background sweep.
type InMemoryCache struct {
	mu    sync.RWMutex
	data  map[string]cacheEntry
	clock clockwork.Clock
}

type cacheEntry struct {
	value     models.Forecast
	expiresAt time.Time
}

// NewInMemoryCache creates an empty cache on the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an empty cache that reads time from clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return &InMemoryCache{
		data:  make(map[string]cacheEntry),
		clock: clock,
	}
}

// Get returns (value, true, nil) on a live hit and (zero, false, nil) on a miss.
// An entry whose TTL has fully elapsed is treated as absent and removed.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.Forecast{}, false, nil
	}

	now := c.clock.Now()
	if !now.Before(entry.expiresAt) {
		c.mu.Lock()
		// another writer may have refreshed the key meanwhile
		if cur, ok := c.data[key]; ok && !now.Before(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.Forecast{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores value; it expires ttl after now.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// size returns the number of stored entries, expired ones included until their next Get.
func (c *InMemoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
