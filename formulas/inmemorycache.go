package formulas

import (
	"sync"
	"time"
)

// InMemoryActiveCache is a map-backed ActiveCache, safe for concurrent access
type InMemoryActiveCache struct {
	entries    map[string]cacheEntry
	generation uint64
	config     CacheConfig
	now        func() time.Time
	mu         sync.RWMutex
}

type cacheEntry struct {
	cfg      *FormulaConfig
	cachedAt time.Time
}

// NewInMemoryActiveCache creates an empty cache
func NewInMemoryActiveCache(config CacheConfig) *InMemoryActiveCache {
	return &InMemoryActiveCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

// Get returns a copy of the cached config for scope
func (c *InMemoryActiveCache) Get(scope Scope) (*FormulaConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[scope.Key()]
	if !ok || c.expired(e) {
		return nil, false
	}
	// Return copy to prevent external modifications
	return e.cfg.Clone(), true
}

// Generation returns the number of invalidations so far
func (c *InMemoryActiveCache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.generation
}

// Set stores a copy of cfg for scope unless the cache was invalidated after generation
func (c *InMemoryActiveCache) Set(scope Scope, cfg *FormulaConfig, generation uint64) bool {
	if cfg == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.entries[scope.Key()] = cacheEntry{cfg: cfg.Clone(), cachedAt: c.now()}
	return true
}

// Invalidate clears the cache
func (c *InMemoryActiveCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
	c.generation++
}

// Len counts entries that have not expired
func (c *InMemoryActiveCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}

func (c *InMemoryActiveCache) expired(e cacheEntry) bool {
	return c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL
}
