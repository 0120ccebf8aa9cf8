// Package cache holds rendered article content in memory.
//
// Entries are evicted by a combined LRU and TTL policy:
//   - LRU eviction when the cache is at capacity and a new key is inserted
//   - lazy TTL expiration on Get, plus an eager sweep via Cleanup
//   - explicit invalidation by key or key prefix
//
// The cache is independent of persistence. Losing it only costs a trip to
// the storage backend.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
)

// entryOverhead approximates per-entry bookkeeping (map slot, list element,
// entry struct) for the memory estimate.
const entryOverhead = 96

// Config holds cache configuration.
type Config struct {
	// MaxEntries caps the number of cached items (LRU eviction beyond it).
	MaxEntries int

	// DefaultTTL applies when Put is called with ttl <= 0.
	// Zero means entries never expire by age.
	DefaultTTL time.Duration
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxEntries: 1000,
		DefaultTTL: time.Hour,
	}
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits         uint64  `yaml:"hits"`
	Misses       uint64  `yaml:"misses"`
	Evictions    uint64  `yaml:"evictions"`
	Expirations  uint64  `yaml:"expirations"`
	Entries      int     `yaml:"entries"`
	Capacity     int     `yaml:"capacity"`
	ApproxMemory int64   `yaml:"approx_memory"`
	HitRate      float64 `yaml:"hit_rate"`
}

type entry struct {
	key        string
	content    []byte
	size       int64
	lastAccess time.Time
	expires    time.Time // zero: no expiry
	elem       *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Cache is an LRU+TTL content cache.
//
// Thread Safety:
// Every operation takes the single mutex. Get mutates recency, so there is
// no read-only fast path.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lru        *list.List // front = most recently used
	maxEntries int
	defaultTTL time.Duration
	bytes      int64

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64

	metrics Metrics
	now     func() time.Time
}

// New creates a cache. A nil metrics uses a no-op implementation.
func New(cfg Config, metrics Metrics) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	logger.Debug("Content cache: max_entries=%d default_ttl=%v", cfg.MaxEntries, cfg.DefaultTTL)

	return &Cache{
		entries:    make(map[string]*entry),
		lru:        list.New(),
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Get returns the content for key and marks it most recently used.
// An expired entry counts as a miss and is removed.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.metrics.RecordMiss()
		return nil, false
	}

	now := c.now()
	if e.expired(now) {
		c.removeLocked(e)
		c.expirations++
		c.misses++
		c.metrics.RecordMiss()
		c.metrics.RecordEviction("expired")
		c.metrics.RecordSize(len(c.entries), c.bytes)
		return nil, false
	}

	e.lastAccess = now
	c.lru.MoveToFront(e.elem)
	c.hits++
	c.metrics.RecordHit()
	return e.content, true
}

// Put stores content under key with the given ttl (DefaultTTL when ttl <= 0)
// and marks it most recently used. Inserting a new key into a full cache
// evicts the least recently used entry first.
//
// The cache keeps a reference to content; callers must not modify it.
func (c *Cache) Put(key string, content []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	size := int64(len(content)+len(key)) + entryOverhead

	if existing, ok := c.entries[key]; ok {
		c.bytes += size - existing.size
		existing.content = content
		existing.size = size
		existing.lastAccess = now
		existing.expires = expires
		c.lru.MoveToFront(existing.elem)
		c.metrics.RecordSize(len(c.entries), c.bytes)
		return
	}

	for len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	e := &entry{
		key:        key,
		content:    content,
		size:       size,
		lastAccess: now,
		expires:    expires,
	}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.bytes += size
	c.metrics.RecordSize(len(c.entries), c.bytes)
}

// Remove invalidates key. It reports whether an entry was present.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	c.metrics.RecordSize(len(c.entries), c.bytes)
	logger.Debug("Invalidated cache entry: %s", key)
	return true
}

// RemovePrefix invalidates every key starting with prefix and returns how
// many were removed.
func (c *Cache) RemovePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeLocked(e)
			removed++
		}
	}
	if removed > 0 {
		c.metrics.RecordSize(len(c.entries), c.bytes)
		logger.Debug("Invalidated %d cache entries with prefix %q", removed, prefix)
	}
	return removed
}

// Clear drops every entry. Hit and miss counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.bytes = 0
	c.metrics.RecordSize(0, 0)

	logger.Debug("Cleared content cache")
}

// Cleanup removes every expired entry and returns the count.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.expired(now) {
			c.removeLocked(e)
			c.expirations++
			c.metrics.RecordEviction("expired")
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		c.metrics.RecordSize(len(c.entries), c.bytes)
		logger.Debug("Cache cleanup removed %d expired entries", removed)
	}
	return removed
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit/miss counters and size figures.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		Evictions:    c.evictions,
		Expirations:  c.expirations,
		Entries:      len(c.entries),
		Capacity:     c.maxEntries,
		ApproxMemory: c.bytes,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// evictOldest removes the least recently used entry.
// Must be called with c.mu held.
func (c *Cache) evictOldest() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.removeLocked(e)
	c.evictions++
	c.metrics.RecordEviction("capacity")

	logger.Debug("Evicted cache entry: %s", e.key)
}

// removeLocked must be called with c.mu held.
func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
	c.bytes -= e.size
}
