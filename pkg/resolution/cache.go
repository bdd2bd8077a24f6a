package resolution

import (
	"context"
	"sync"
	"time"
)

// CacheEntry is one resolved query: ranked citations with their
// confidence scores, length-matched and confidence-descending.
type CacheEntry struct {
	Citations   []string  `json:"citations"`
	Confidences []int     `json:"confidences"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Cache stores resolution entries keyed by (principal, query). Entries
// are freely readable; writes are role-gated by the engine before they
// reach the cache.
type Cache interface {
	Get(ctx context.Context, principal, query string) (CacheEntry, bool, error)
	Put(ctx context.Context, principal, query string, e CacheEntry) error
}

// MemoryCache is the in-process Cache used by default and in tests.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]CacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, principal, query string) (CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[principal+"\x00"+query]
	return e, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, principal, query string, e CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[principal+"\x00"+query] = e
	return nil
}
