// Package cache provides the process-wide TTL/LRU result cache. Entries
// expire by age and are evicted by capacity; all bookkeeping happens under
// a single mutex held only long enough to touch the ordered structure.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"
)

// Config configures a Cache.
type Config struct {
	// Capacity bounds the number of entries (default: 1024).
	Capacity int

	// TTL bounds entry staleness (default: 5m).
	TTL time.Duration

	// SlidingTTL refreshes an entry's age on every hit, so entries stay
	// alive while they are being used. DefaultConfig enables it; disable
	// for absolute expiry measured from the write.
	SlidingTTL bool
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:   1024,
		TTL:        5 * time.Minute,
		SlidingTTL: true,
	}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size        int
	Hits        uint64
	Misses      uint64
	HitRate     float64
	Evictions   uint64
	Expirations uint64
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache is a TTL-bounded LRU cache safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *entry[V]]
	ttl     time.Duration
	sliding bool
	now     func() time.Time

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	group singleflight.Group
}

// New creates a cache with cfg. Non-positive capacity or TTL fall back to
// the defaults.
func New[V any](cfg Config) *Cache[V] {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}

	// Errors only on non-positive size, which is excluded above.
	lru, _ := simplelru.NewLRU[string, *entry[V]](cfg.Capacity, nil)

	return &Cache[V]{
		lru:     lru,
		ttl:     cfg.TTL,
		sliding: cfg.SlidingTTL,
		now:     time.Now,
	}
}

// Get returns the live value for key. An expired entry is removed and
// counted as both a miss and an expiration. A hit refreshes recency, and
// age too when sliding TTL is enabled.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}

	now := c.now()
	if now.Sub(e.createdAt) > c.ttl {
		c.lru.Remove(key)
		c.expirations++
		c.misses++
		return zero, false
	}

	if c.sliding {
		e.createdAt = now
	}
	c.hits++
	return e.value, true
}

// Set inserts or overwrites key. At capacity the least-recently-used
// entry is evicted first.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, &entry[V]{value: value, createdAt: c.now()}); evicted {
		c.evictions++
	}
}

// Delete removes key, reporting whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear drops every entry. Counters are kept; use ResetStats to zero them.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// ResetStats zeroes the hit/miss/eviction/expiration counters.
func (c *Cache[V]) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

// Len returns the number of entries, expired ones included until they are
// touched.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats snapshots the counters under the lock and derives the hit rate
// after releasing it.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		Size:        c.lru.Len(),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	c.mu.Unlock()

	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// GetOrCompute returns the cached value for key, or runs compute once for
// all concurrent callers of the same key and caches its result. The bool
// reports whether the value came from the cache. Errors are returned to
// every waiting caller and never cached.
func (c *Cache[V]) GetOrCompute(key string, compute func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have filled the entry between our miss and
		// this call.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return v.(V), false, nil
}
