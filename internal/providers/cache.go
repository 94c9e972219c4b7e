package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// responseCache is a content-addressed completion cache with a fixed TTL.
// Eviction is a generational sweep: once the cache exceeds its size cap, all
// expired entries are dropped in one pass. It deliberately does not track
// recency, so it is cheaper than LRU and good enough for prompt reuse.
type responseCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	payload string
	expires time.Time
}

func newResponseCache(ttl time.Duration, maxEntries int) *responseCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &responseCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// CacheKey derives the content address for a completion request.
func CacheKey(task, model, systemPrompt, userPrompt string) string {
	h := sha256.New()
	for _, part := range []string{task, model, systemPrompt, userPrompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *responseCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return "", false
	}
	return entry.payload, true
}

func (c *responseCache) put(key, payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
	}
	c.entries[key] = cacheEntry{payload: payload, expires: c.now().Add(c.ttl)}
}

func (c *responseCache) sweepLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
