package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores chat responses for cacheable calls (planner and classifier
// prompts; never stateful per-thread decision calls).
type Cache interface {
	Get(ctx context.Context, key string) (*ChatResponse, bool)
	Set(ctx context.Context, key string, resp *ChatResponse)
}

// CacheKey derives a stable key from the request content.
func CacheKey(req *ChatRequest) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(req)
	return "llm:" + hex.EncodeToString(h.Sum(nil))
}

type memoryEntry struct {
	resp      *ChatResponse
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryCache creates an in-memory cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.resp, true
}

func (c *MemoryCache) Set(_ context.Context, key string, resp *ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{resp: resp, expiresAt: time.Now().Add(c.ttl)}
}

// RedisCache stores responses in redis, for sharing across processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a redis-backed cache.
func NewRedisCache(addr string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*ChatResponse, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var resp ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *RedisCache) Set(ctx context.Context, key string, resp *ChatResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	// Best effort; a cache write failure must not fail the request.
	_ = c.client.Set(ctx, key, data, c.ttl).Err()
}

// Close releases the redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

type cacheBypassKey struct{}

// WithoutCache marks the context so CachingProvider forwards the request
// to the underlying provider. Verification and supervisor decision calls
// use it: their verdicts depend on live page state the request text does
// not capture.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(cacheBypassKey{}).(bool)
	return v
}

// CachingProvider wraps a provider with a response cache. Requests that
// carry tools are passed through uncached: tool decisions depend on live
// page state.
type CachingProvider struct {
	inner Provider
	cache Cache
}

// NewCachingProvider wraps the provider.
func NewCachingProvider(inner Provider, cache Cache) *CachingProvider {
	return &CachingProvider{inner: inner, cache: cache}
}

func (p *CachingProvider) Name() string { return p.inner.Name() }

func (p *CachingProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(req.Tools) > 0 || cacheBypassed(ctx) {
		return p.inner.Chat(ctx, req)
	}
	key := CacheKey(req)
	if resp, ok := p.cache.Get(ctx, key); ok {
		return resp, nil
	}
	resp, err := p.inner.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, key, resp)
	return resp, nil
}
