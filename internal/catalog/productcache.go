package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/catalogops/sitemap-publisher/pkg/redis"
)

// ProductCache drops cached product snapshots (detail pages, API responses)
// after a publish batch changes their visibility. With no Redis configured
// every call is a no-op, matching single-process deployments where pages are
// rendered fresh.
type ProductCache struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewProductCache creates a ProductCache. rdb may be nil.
func NewProductCache(rdb *redis.Client) *ProductCache {
	return &ProductCache{
		rdb:    rdb,
		logger: slog.Default().With("component", "product-cache"),
	}
}

// Invalidate removes the cached snapshots for the given slugs.
func (c *ProductCache) Invalidate(ctx context.Context, slugs ...string) error {
	if c.rdb == nil || len(slugs) == 0 {
		return nil
	}
	keys := make([]string, len(slugs))
	for i, slug := range slugs {
		keys[i] = productKey(slug)
	}
	if err := c.rdb.Del(ctx, keys...); err != nil {
		return fmt.Errorf("invalidating %d product keys: %w", len(keys), err)
	}
	c.logger.Debug("product cache invalidated", "count", len(keys))
	return nil
}

// InvalidateAll removes every cached product snapshot.
func (c *ProductCache) InvalidateAll(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}
	deleted, err := c.rdb.FlushByPattern(ctx, "product:*")
	if err != nil {
		return fmt.Errorf("flushing product keys: %w", err)
	}
	c.logger.Debug("product cache flushed", "deleted", deleted)
	return nil
}

func productKey(slug string) string {
	return "product:" + slug
}
