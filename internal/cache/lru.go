package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Expiring is a size-bounded LRU map whose entries carry their own
// deadline. It backs the in-memory pending-decision ledger, where each value
// must be consumed at most once.
type Expiring[K comparable, V any] struct {
	mu      sync.Mutex
	cache   *lru.Cache[K, entry[V]]
	ttl     time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
	expired uint64
	evicted uint64
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

func (e entry[V]) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// NewExpiring creates a cache holding at most size entries. ttl is the
// default lifetime used by Set; 0 disables expiry.
func NewExpiring[K comparable, V any](size int, ttl time.Duration) (*Expiring[K, V], error) {
	inner, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &Expiring[K, V]{cache: inner, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source; used by tests.
func (c *Expiring[K, V]) WithClock(now func() time.Time) *Expiring[K, V] {
	c.now = now
	return c
}

func (c *Expiring[K, V]) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// Set stores value under key with the default TTL, replacing any entry.
func (c *Expiring[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.add(key, value, c.ttl)
}

// SetIfAbsent stores value under key unless a live entry already exists.
// A non-positive ttl falls back to the default. It reports whether the
// value was stored.
func (c *Expiring[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache.Peek(key); ok && e.live(c.now()) {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.add(key, value, ttl)
	return true
}

func (c *Expiring[K, V]) add(key K, value V, ttl time.Duration) {
	if c.cache.Add(key, entry[V]{value: value, expiresAt: c.deadline(ttl)}) {
		c.evicted++
	}
}

// Get returns the live value for key.
func (c *Expiring[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lookup(key, false)
}

// Take returns the live value for key and removes it, so a second Take for
// the same key misses.
func (c *Expiring[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lookup(key, true)
}

func (c *Expiring[K, V]) lookup(key K, remove bool) (V, bool) {
	var zero V
	e, ok := c.cache.Get(key)
	if !ok {
		c.misses++
		return zero, false
	}
	if !e.live(c.now()) {
		c.cache.Remove(key)
		c.expired++
		c.misses++
		return zero, false
	}
	if remove {
		c.cache.Remove(key)
	}
	c.hits++
	return e.value, true
}

// Delete removes a key from the cache.
func (c *Expiring[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(key)
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Expiring[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Len()
}

// Stats returns cache statistics for observability.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Expired uint64  `json:"expired"`
	Evicted uint64  `json:"evicted"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

func (c *Expiring[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Expired: c.expired,
		Evicted: c.evicted,
		Size:    c.cache.Len(),
		HitRate: hitRate,
	}
}

// Close drops every entry.
func (c *Expiring[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
	return nil
}

// CleanupExpired sweeps expired entries and returns how many were removed.
// It is O(n) and meant for a periodic background goroutine.
func (c *Expiring[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.cache.Keys() {
		if e, ok := c.cache.Peek(key); ok && !e.live(now) {
			c.cache.Remove(key)
			removed++
		}
	}
	c.expired += uint64(removed)
	return removed
}
