package extractor

import (
	"strings"
	"sync"
	"time"

	"storymill/internal/core"
)

// MaxCacheEntries bounds the process-wide extraction cache.
const MaxCacheEntries = 512

const cacheSweepInterval = 50

// Cache stores extracted articles between runs. Implementations must be safe
// for concurrent use and must isolate stored values from caller mutation.
type Cache interface {
	Get(url string) (*core.NormalizedArticle, bool)
	Put(url string, article *core.NormalizedArticle)
}

// NopCache satisfies Cache without storing anything.
type NopCache struct{}

func (NopCache) Get(string) (*core.NormalizedArticle, bool) { return nil, false }
func (NopCache) Put(string, *core.NormalizedArticle)        {}

type cacheEntry struct {
	article  core.NormalizedArticle
	storedAt time.Time
}

// MemoryCache is a bounded TTL cache keyed by lowercased URL. Entries are
// cloned on both write and read so callers can never corrupt cached state.
// Expired entries are swept out every 50th write; when the bound is hit the
// oldest entries are evicted first.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]cacheEntry
	puts    int
}

// NewMemoryCache creates a cache with the given TTL. A non-positive ttl
// means entries never expire; maxEntries falls back to MaxCacheEntries when
// non-positive.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = MaxCacheEntries
	}
	return &MemoryCache{
		ttl:     ttl,
		max:     maxEntries,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns a clone of the cached article for the URL, if present and
// fresh.
func (c *MemoryCache) Get(url string) (*core.NormalizedArticle, bool) {
	key := cacheKey(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	clone := entry.article
	return &clone, true
}

// Put stores a clone of the article under the URL.
func (c *MemoryCache) Put(url string, article *core.NormalizedArticle) {
	if article == nil || url == "" {
		return
	}
	key := cacheKey(url)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.puts++
	if c.puts%cacheSweepInterval == 0 {
		c.sweepLocked()
	}
	if len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{article: *article, storedAt: time.Now()}
}

// Len reports the current entry count.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) sweepLocked() {
	if c.ttl <= 0 {
		return
	}
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

func (c *MemoryCache) evictOldestLocked() {
	for len(c.entries) >= c.max {
		var oldestKey string
		var oldestAt time.Time
		for key, entry := range c.entries {
			if oldestKey == "" || entry.storedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.storedAt
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

func cacheKey(url string) string {
	return strings.ToLower(Canonicalize(url))
}
