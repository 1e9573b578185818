package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/openlibro/backend/cache"
)

// MemCache is an in-memory cache.Cache. TTLs are recorded but not enforced;
// tests assert invalidation behavior, not expiry timing.
type MemCache struct {
	mu            sync.Mutex
	entries       map[string][]byte
	invalidations int
}

func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string][]byte)}
}

func (c *MemCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	return nil, cache.ErrMiss
}

func (c *MemCache) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = val
	return nil
}

func (c *MemCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]byte)
	c.invalidations++
	return nil
}

// Invalidations reports how many times the whole cache was flushed.
func (c *MemCache) Invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations
}

// Len reports the number of live entries.
func (c *MemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Put stores a raw entry directly, for staleness tests.
func (c *MemCache) Put(key string, val []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = val
}
