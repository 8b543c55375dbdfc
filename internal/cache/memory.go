package cache

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ivf-outcome-server/internal/domain"
)

type memoryEntry struct {
	results domain.PredictionResults
	expires time.Time // zero means no expiry
}

// MemoryCache is a size-bounded in-process LRU. Expired entries are dropped when
// read, so the cache runs no background goroutine.
type MemoryCache struct {
	lru    *lru.Cache[string, memoryEntry]
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewMemoryCache creates an LRU holding at most size entries, each kept for ttl
// unless Set names its own. A zero ttl keeps entries until they are evicted.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1000
	}
	// only errors on a non-positive size
	l, _ := lru.New[string, memoryEntry](size)
	return &MemoryCache{lru: l, ttl: ttl, now: time.Now}
}

// Get returns a copy of the cached results.
func (c *MemoryCache) Get(_ context.Context, key string) (*domain.PredictionResults, bool, error) {
	e, ok := c.lru.Get(key)
	if ok && !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	res := e.results
	return &res, true, nil
}

// Set stores a copy of results for ttl, or the cache default when ttl is zero.
func (c *MemoryCache) Set(_ context.Context, key string, results *domain.PredictionResults, ttl time.Duration) error {
	if results == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	e := memoryEntry{results: *results}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Purge drops every entry.
func (c *MemoryCache) Purge() {
	c.lru.Purge()
}

// Stats returns hit and miss counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.lru.Len(),
	}
}

// Close is a no-op; the cache holds no goroutines or handles.
func (c *MemoryCache) Close() error {
	return nil
}
