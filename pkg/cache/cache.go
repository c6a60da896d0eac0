// Package cache provides a TTL-keyed in-memory store shared across the
// concurrent fetchers of one archive job. Values are either directory
// listings or file bytes; the cache does not care which.
package cache

import (
	"sync"
	"time"
)

const DefaultTTL = 300 * time.Second

type entry struct {
	value      any
	insertedAt time.Time
}

// Cache maps a request signature to a previously fetched value. Expiry is
// checked lazily on read, there is no sweeper. Same-key write races are
// last-writer-wins.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	// test seam, defaults to time.Now
	now func() time.Time
}

// New creates a cache with the given TTL. ttl <= 0 falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key. An entry older than the TTL is
// treated as absent and evicted.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	en, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(en.insertedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check under the write lock, a concurrent Put may have refreshed it.
		if cur, still := c.entries[key]; still && c.now().Sub(cur.insertedAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return en.value, true
}

// Put stores value under key, stamping it with the current time.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, insertedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
