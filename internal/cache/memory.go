package cache

import (
	"context"
	"sync"
	"time"

	"pagesentry/internal/metrics"
)

// MemoryCache is a process-lifetime key->entry map. The owner of the
// pipeline constructs it and passes it to the schema generator.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache returns an empty cache. ttl <= 0 uses DefaultTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

func (c *MemoryCache) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	entry, ok := c.entries[k]
	if !ok {
		metrics.RecordCacheLookup("memory", false)
		return nil, false
	}
	if c.now().Sub(entry.Timestamp) > c.ttl {
		delete(c.entries, k)
		metrics.RecordCacheLookup("memory", false)
		return nil, false
	}
	metrics.RecordCacheLookup("memory", true)
	return entry.Data, true
}

func (c *MemoryCache) Set(_ context.Context, key Key, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key.String()
	c.entries[k] = Entry{
		Key:       k,
		URL:       key.URL,
		Data:      append([]byte(nil), data...),
		Timestamp: c.now(),
	}
}

func (c *MemoryCache) ClearByPattern(_ context.Context, p Pattern) int {
	p = p.normalized()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, entry := range c.entries {
		if p.matches(k, entry.URL) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *MemoryCache) ClearExpired(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, entry := range c.entries {
		if now.Sub(entry.Timestamp) > c.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
