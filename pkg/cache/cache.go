// Package cache provides the in-memory TTL response cache used by the
// request executor to short-circuit repeat fetches.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the expiry window for cached response bodies. Quote and
// chart data goes stale quickly; ten minutes matches how long a repeat
// fetch is considered equivalent.
const DefaultTTL = 10 * time.Minute

// entry is an immutable cached response. Entries are replaced wholesale on
// refresh, never partially updated.
type entry struct {
	body      []byte
	expiresAt time.Time
}

// Cache is a mutation-tolerant key-value store with per-entry expiry.
// Writes are whole-entry replacements, so concurrent writers for the same
// key are last-write-wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
}

// New creates a cache with the given TTL. A non-positive TTL falls back to
// DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

// Key builds the canonical cache key for an endpoint and its query
// parameters: the endpoint followed by the parameters sorted by name and
// joined as key=value pairs with "&". Two requests with the same parameters
// in different insertion order always collide on the same key.
func Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// Get returns the cached body for key, or false if absent or expired.
// The returned slice is a copy; mutating it cannot corrupt the stored
// entry for later readers.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	body := make([]byte, len(e.body))
	copy(body, e.body)
	return body, true
}

// Set stores a response body under key, replacing any existing entry.
func (c *Cache) Set(key string, body []byte) {
	c.mu.Lock()
	c.entries[key] = entry{
		body:      body,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Remove deletes the entry for key if present.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, including any not yet evicted
// expired ones.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
