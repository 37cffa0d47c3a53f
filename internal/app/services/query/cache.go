package query

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
)

// responseCache memoizes strategy results per cache key with a TTL. A miss
// triggers at most one concurrent recomputation per key; concurrent callers
// share that computation's outcome, success or failure. Failures are never
// stored, so the next access retries. Expiry is lazy: stale entries are
// dropped when next looked up, never actively swept.
type responseCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value     datapackage.DataPackagesResponse
	expiresAt time.Time
}

func newResponseCache(ttl time.Duration, now func() time.Time) *responseCache {
	return &responseCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// getOrCompute returns the cached value for key, or runs compute under
// single-flight. The second return reports whether the value came from a
// fresh cache entry without entering the computation path.
func (c *responseCache) getOrCompute(key string, compute func() (datapackage.DataPackagesResponse, error)) (datapackage.DataPackagesResponse, bool, error) {
	if value, ok := c.lookup(key); ok {
		return value, true, nil
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A sibling may have filled the entry while this caller was queued.
		if value, ok := c.lookup(key); ok {
			return value, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return result.(datapackage.DataPackagesResponse), false, nil
}

func (c *responseCache) lookup(key string) (datapackage.DataPackagesResponse, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		if current, still := c.entries[key]; still && c.now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}
