package perception

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a parsed observation may be reused.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	obs     *Observation
	expires time.Time
}

// Cache holds parsed observations keyed by URL and screenshot hash.
// A screenshot identical to a cached one yields the cached elements
// without another parser round trip.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates a cache with the given TTL. A non-positive TTL falls
// back to DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(url, screenshotHash string) string {
	return url + "|" + screenshotHash
}

// Get returns a cached observation if present and fresh.
func (c *Cache) Get(url, screenshotHash string) (*Observation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(url, screenshotHash)]
	if !ok || c.now().After(e.expires) {
		delete(c.entries, cacheKey(url, screenshotHash))
		return nil, false
	}
	return e.obs, true
}

// Put stores an observation.
func (c *Cache) Put(obs *Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(obs.URL, obs.ScreenshotHash)] = cacheEntry{
		obs:     obs,
		expires: c.now().Add(c.ttl),
	}
}

// InvalidateURL drops every entry for the given URL. Called after a
// mutating action, which may have changed the page without changing
// its address.
func (c *Cache) InvalidateURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.obs.URL == url {
			delete(c.entries, k)
		}
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}
