package sitemap

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/catalogops/sitemap-publisher/pkg/redis"
)

// Cache stores rendered sitemap documents keyed by site origin and logical
// path. Implementations are soft-failing: a broken backend degrades to cache
// misses and skipped writes, never to request failures.
type Cache interface {
	// Get returns the cached document, or "" and false on miss or expiry.
	Get(ctx context.Context, siteURL, path string) (string, bool)
	// Set stores a freshly rendered document with the cache's TTL.
	Set(ctx context.Context, siteURL, path, xml string)
	// Clear drops every entry regardless of key. The publishing pipeline
	// calls this after any successful mutation; stale sitemaps are worse
	// than a cold cache.
	Clear(ctx context.Context)
}

func cacheKey(siteURL, path string) string {
	return siteURL + path
}

// ---------- In-memory cache ----------

type memoryEntry struct {
	xml       string
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

// NewMemoryCache creates a process-local cache with the given TTL.
func NewMemoryCache(ttl time.Duration) Cache {
	return &memoryCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (c *memoryCache) Get(_ context.Context, siteURL, path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(siteURL, path)
	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	// Lazy eviction: expired entries are removed on access, not by a sweep.
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.xml, true
}

func (c *memoryCache) Set(_ context.Context, siteURL, path, xml string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(siteURL, path)] = memoryEntry{
		xml:       xml,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *memoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
}

// ---------- Redis-backed cache ----------

const redisKeyPrefix = "sitemap:"

// blobStore is the slice of the Redis client the cache needs. Kept narrow so
// tests can substitute a map-backed fake with switchable failures.
type blobStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type redisCache struct {
	rdb    blobStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisCache creates a cache shared across instances through Redis.
// Expiry is delegated to Redis key TTLs.
func NewRedisCache(rdb blobStore, ttl time.Duration) Cache {
	return &redisCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: slog.Default().With("component", "sitemap-cache"),
	}
}

func (c *redisCache) Get(ctx context.Context, siteURL, path string) (string, bool) {
	xml, err := c.rdb.Get(ctx, redisKeyPrefix+cacheKey(siteURL, path))
	if err != nil {
		if !redis.IsNilError(err) {
			c.logger.Warn("cache read failed, treating as miss", "path", path, "error", err)
		}
		return "", false
	}
	return xml, true
}

func (c *redisCache) Set(ctx context.Context, siteURL, path, xml string) {
	if err := c.rdb.Set(ctx, redisKeyPrefix+cacheKey(siteURL, path), xml, c.ttl); err != nil {
		c.logger.Warn("cache write failed, serving uncached", "path", path, "error", err)
	}
}

func (c *redisCache) Clear(ctx context.Context) {
	deleted, err := c.rdb.FlushByPattern(ctx, redisKeyPrefix+"*")
	if err != nil {
		c.logger.Warn("cache clear failed", "error", err)
		return
	}
	c.logger.Debug("sitemap cache cleared", "deleted", deleted)
}
