// Package cache provides a small keyed in-process cache with optional
// per-entry expiry. It backs the workload snapshot and area lookup
// caches; both are best-effort accelerators, never sources of truth.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a concurrency-safe keyed store. A zero TTL disables expiry;
// such caches must be invalidated explicitly by the surrounding system.
type Cache[V any] struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]entry[V]
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{TTL: ttl, Now: time.Now}
}

func (c *Cache[V]) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.TTL > 0 && c.now().Sub(e.storedAt) >= c.TTL {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]entry[V]{}
	}
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
}

// Update applies fn to the cached value under the cache lock, so
// concurrent adjustments to the same key cannot lose writes. The entry
// keeps its original timestamp: an adjustment does not make a stale
// snapshot fresh again. No-op when the key is absent or expired.
func (c *Cache[V]) Update(key string, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.TTL > 0 && c.now().Sub(e.storedAt) >= c.TTL {
		delete(c.entries, key)
		return false
	}
	e.value = fn(e.value)
	c.entries[key] = e
	return true
}

func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache[V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

// Len reports the number of entries, including any not yet evicted.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
