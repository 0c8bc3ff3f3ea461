package cache

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
)

// MemoryCache is an in-memory ValueCache implementation.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	merge   MergeFunc

	hits   atomic.Int64
	misses atomic.Int64
	merges atomic.Int64
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMerge sets the merge strategy. Default: ReplaceMerge.
func WithMerge(fn MergeFunc) MemoryOption {
	return func(c *MemoryCache) {
		if fn != nil {
			c.merge = fn
		}
	}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits    int64
	Misses  int64
	Merges  int64
	Entries int
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string][]byte),
		merge:   ReplaceMerge,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the entry under key. Returns (nil, false) on miss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	value, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return bytes.Clone(value), true
}

// MergeValue merges value into the entry under key. The merge runs under the
// write lock, so concurrent merges on one key are serialized. The entry never
// shares memory with value or with the returned slice.
func (c *MemoryCache) MergeValue(_ context.Context, key string, value []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	merged, err := c.merge(c.entries[key], value)
	if err != nil {
		return nil, err
	}
	stored := bytes.Clone(merged)
	c.entries[key] = stored
	c.merges.Add(1)
	return bytes.Clone(stored), nil
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit, miss and merge counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Merges:  c.merges.Load(),
		Entries: c.Len(),
	}
}

// Ensure MemoryCache implements ValueCache
var _ ValueCache = (*MemoryCache)(nil)
