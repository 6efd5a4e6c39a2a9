package usecase

import (
	"context"
	"encoding/json"
	"itinerary-core/internal/domain/entity"
	"itinerary-core/internal/observability"
	"sync"
	"time"
)

// MemoryCache is an in-process ResponseCache. Entries expire lazily on read;
// there is no size bound since keys are itinerary-scoped.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entity.CacheEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entity.CacheEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (json.RawMessage, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && entry.Expired(c.now()) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the key.
		if cur, still := c.entries[key]; still && cur.Expired(c.now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		ok = false
	}

	if !ok {
		observability.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	observability.CacheRequests.WithLabelValues("hit").Inc()
	return entry.Value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entity.CacheEntry{
		Value:    value,
		StoredAt: c.now(),
		TTL:      ttl,
	}
}

// Sweep drops every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if entry.Expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
