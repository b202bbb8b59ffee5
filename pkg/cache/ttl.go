// Package cache provides the in-memory TTL caches fronting the forecast API
// and the reference-comment store, plus the process-wide manager that
// registers them and sheds entries under memory pressure.
package cache

import (
	"sync"
	"time"
)

// Store is the type-erased view the Manager has of a cache.
type Store interface {
	Len() int
	Clear()
	EvictLRU(n int) int
	ShedMemoryPressure(n int) int
	RemoveExpired() int
	Stats() Stats
}

// Stats is a point-in-time snapshot of cache counters.
// Counters are monotonic; HitRate is hits/(hits+misses), 0 when idle.
type Stats struct {
	Size            int     `json:"size"`
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Evictions       uint64  `json:"evictions"`
	EvictionsTTL    uint64  `json:"evictions_ttl"`
	EvictionsLRU    uint64  `json:"evictions_lru"`
	EvictionsMemory uint64  `json:"evictions_by_memory_pressure"`
	HitRate         float64 `json:"hit_rate"`
	OldestEntryAgeS float64 `json:"oldest_entry_age_s,omitempty"`
	NewestEntryAgeS float64 `json:"newest_entry_age_s,omitempty"`
}

// Options configures a Cache.
type Options struct {
	DefaultTTL time.Duration
	MaxSize    int
}

type entry[V any] struct {
	value        V
	expireAt     time.Time
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
}

// Cache is a TTL + LRU bounded key/value store. A single mutex guards all
// operations; hit rate, not throughput, is the scaling axis here.
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	opts    Options
	entries map[K]*entry[V]

	hits, misses          uint64
	evTTL, evLRU, evMem   uint64
	now                   func() time.Time
}

// New creates a Cache with the given options.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	return &Cache[K, V]{
		opts:    opts,
		entries: make(map[K]*entry[V]),
		now:     time.Now,
	}
}

// SetClock replaces the cache clock. Test hook.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the stored value iff the entry exists and has not expired.
// A present-but-expired entry is removed and reported as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	now := c.now()
	if !now.Before(e.expireAt) {
		delete(c.entries, key)
		c.evTTL++
		c.misses++
		return zero, false
	}
	e.lastAccessed = now
	e.accessCount++
	c.hits++
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetTTL(key, value, c.opts.DefaultTTL)
}

// SetTTL stores a value with an explicit TTL, evicting LRU entries when the
// size bound is exceeded.
func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &entry[V]{
		value:        value,
		expireAt:     now.Add(ttl),
		createdAt:    now,
		lastAccessed: now,
	}

	if c.opts.MaxSize > 0 {
		for len(c.entries) > c.opts.MaxSize {
			if !c.evictOldestLocked(&c.evLRU) {
				break
			}
		}
	}
}

// Clear removes all entries without touching counters.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

// Len returns the current entry count.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictLRU removes up to n least-recently-accessed entries and returns the
// number removed.
func (c *Cache[K, V]) EvictLRU(n int) int {
	return c.evictN(n, &c.evLRU)
}

// ShedMemoryPressure removes up to n LRU entries, counted separately as
// memory-pressure evictions. Called by the Manager's monitor.
func (c *Cache[K, V]) ShedMemoryPressure(n int) int {
	return c.evictN(n, &c.evMem)
}

func (c *Cache[K, V]) evictN(n int, counter *uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for i := 0; i < n; i++ {
		if !c.evictOldestLocked(counter) {
			break
		}
		removed++
	}
	return removed
}

// evictOldestLocked removes the least-recently-accessed entry, breaking ties
// on oldest createdAt. Linear scan; cache sizes here are small.
func (c *Cache[K, V]) evictOldestLocked(counter *uint64) bool {
	var victim K
	var victimEntry *entry[V]
	for k, e := range c.entries {
		if victimEntry == nil ||
			e.lastAccessed.Before(victimEntry.lastAccessed) ||
			(e.lastAccessed.Equal(victimEntry.lastAccessed) && e.createdAt.Before(victimEntry.createdAt)) {
			victim = k
			victimEntry = e
		}
	}
	if victimEntry == nil {
		return false
	}
	delete(c.entries, victim)
	*counter++
	return true
}

// RemoveExpired drops all expired entries and returns the number removed.
func (c *Cache[K, V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expireAt) {
			delete(c.entries, k)
			c.evTTL++
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:            len(c.entries),
		Hits:            c.hits,
		Misses:          c.misses,
		EvictionsTTL:    c.evTTL,
		EvictionsLRU:    c.evLRU,
		EvictionsMemory: c.evMem,
	}
	s.Evictions = s.EvictionsTTL + s.EvictionsLRU + s.EvictionsMemory
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}

	now := c.now()
	var oldest, newest time.Time
	for _, e := range c.entries {
		if oldest.IsZero() || e.createdAt.Before(oldest) {
			oldest = e.createdAt
		}
		if newest.IsZero() || e.createdAt.After(newest) {
			newest = e.createdAt
		}
	}
	if !oldest.IsZero() {
		s.OldestEntryAgeS = now.Sub(oldest).Seconds()
		s.NewestEntryAgeS = now.Sub(newest).Seconds()
	}
	return s
}
