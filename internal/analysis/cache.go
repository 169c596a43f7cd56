package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Fingerprint derives the deterministic cache key for a call: a digest of
// the exact payload bytes, the instruction text, and the model identifier.
func Fingerprint(payload []byte, prompt, model string) string {
	h := sha256.New()
	h.Write(payload)
	h.Write([]byte(prompt))
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	result  *Result
	addedAt time.Time
	expires time.Time
}

// Cache holds prior call results keyed by fingerprint. A hit bypasses the
// rate limiter, the cost ledger, and the external call entirely.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*cacheEntry
	hits       int
	misses     int

	now func() time.Time
}

// NewCache creates a cache with the given TTL and entry ceiling.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
		now:        time.Now,
	}
}

// Get returns the stored result for key if present and not expired.
func (c *Cache) Get(key string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expires) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.result, true
}

// Has reports whether key is present and live, without touching the
// hit/miss counters.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && !c.now().After(entry.expires)
}

// Set stores a result, evicting the oldest live entry when at capacity.
func (c *Cache) Set(key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[key] = &cacheEntry{
		result:  result,
		addedAt: now,
		expires: now.Add(c.ttl),
	}
}

// evict drops expired entries, then the oldest entry if still at capacity.
// Callers must hold mu.
func (c *Cache) evict(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldestAdded time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.addedAt.Before(oldestAdded) {
			oldestKey = key
			oldestAdded = entry.addedAt
		}
	}
	delete(c.entries, oldestKey)
}

// CacheStats reports cache occupancy and effectiveness.
type CacheStats struct {
	Entries    int           `json:"entries"`
	MaxEntries int           `json:"max_entries"`
	Hits       int           `json:"hits"`
	Misses     int           `json:"misses"`
	TTL        time.Duration `json:"ttl"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Entries:    len(c.entries),
		MaxEntries: c.maxEntries,
		Hits:       c.hits,
		Misses:     c.misses,
		TTL:        c.ttl,
	}
}
