package formulas

import "time"

// ActiveCache caches resolved formulas keyed by the requested scope.
// This allows swapping between in-memory, Redis, or other caching implementations.
type ActiveCache interface {
	// Get returns the cached resolution for scope, false on miss or expiry
	Get(scope Scope) (*FormulaConfig, bool)

	// Generation identifies the current contents. Every Invalidate advances it.
	Generation() uint64

	// Set stores the resolution for scope if the cache is still at generation,
	// the value Generation returned before the store was read. It reports
	// whether the entry was kept; a resolution read across an Invalidate is dropped.
	Set(scope Scope, cfg *FormulaConfig, generation uint64) bool

	// Invalidate drops every entry and advances the generation. Any activation
	// can change the outcome of resolutions for other scopes, so there is no
	// per-key invalidation.
	Invalidate()

	// Len returns the number of live entries
	Len() int
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

// DefaultCacheConfig returns sensible defaults for resolution caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // No TTL - only invalidate on mutations
	}
}
