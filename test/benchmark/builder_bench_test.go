// Package benchmark contains Go benchmarks for the sitemap renderer, the
// builder and its cache, and the publishing pipeline, measuring throughput
// and allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
)

// benchCatalog serves a fixed in-memory product set with the same paging
// contract as the real store: 1-based disjoint pages, empty page past the end.
type benchCatalog struct {
	products []catalog.Product
	posts    []catalog.BlogPost
}

func newBenchCatalog(products, posts int) *benchCatalog {
	c := &benchCatalog{
		products: make([]catalog.Product, products),
		posts:    make([]catalog.BlogPost, posts),
	}
	for i := range c.products {
		c.products[i] = catalog.Product{
			ID:        int64(i + 1),
			Slug:      fmt.Sprintf("product-%05d", i+1),
			Name:      fmt.Sprintf("Product %d", i+1),
			UpdatedAt: "2024-03-01T00:00:00Z",
		}
	}
	for i := range c.posts {
		c.posts[i] = catalog.BlogPost{
			ID:          int64(i + 1),
			Slug:        fmt.Sprintf("post-%04d", i+1),
			Title:       fmt.Sprintf("Post %d", i+1),
			PublishedAt: "2024-02-20T12:00:00Z",
		}
	}
	return c
}

func pageSlice[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func collectPages[T any](items []T, pageSize int) [][]T {
	var pages [][]T
	for page := 1; ; page++ {
		batch := pageSlice(items, page, pageSize)
		if len(batch) == 0 {
			return pages
		}
		pages = append(pages, batch)
	}
}

func (c *benchCatalog) ProductPage(ctx context.Context, page, pageSize int) ([]catalog.Product, error) {
	return pageSlice(c.products, page, pageSize), nil
}

func (c *benchCatalog) BlogPage(ctx context.Context, page, pageSize int) ([]catalog.BlogPost, error) {
	return pageSlice(c.posts, page, pageSize), nil
}

func (c *benchCatalog) CollectProducts(ctx context.Context, pageSize int) ([][]catalog.Product, int, error) {
	return collectPages(c.products, pageSize), len(c.products), nil
}

func (c *benchCatalog) CollectBlogPosts(ctx context.Context, pageSize int) ([][]catalog.BlogPost, int, error) {
	return collectPages(c.posts, pageSize), len(c.posts), nil
}

func (c *benchCatalog) BlogCategories(ctx context.Context) ([]catalog.BlogCategory, error) {
	return []catalog.BlogCategory{
		{Slug: "guides", UpdatedAt: "2024-02-01T00:00:00Z"},
		{Slug: "news", UpdatedAt: "2024-03-01T00:00:00Z"},
	}, nil
}

func newBenchBuilder(products, posts int) (*sitemap.Builder, sitemap.Cache) {
	cache := sitemap.NewMemoryCache(time.Hour)
	builder := sitemap.NewBuilder("https://shop.example.com", 1000, newBenchCatalog(products, posts), cache, nil)
	return builder, cache
}

// BenchmarkBuilderIndexCold measures a full index build (catalog walk plus
// render) at various catalog sizes, clearing the cache every iteration.
func BenchmarkBuilderIndexCold(b *testing.B) {
	sizes := []int{100, 1000, 10000}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("products_%d", size), func(b *testing.B) {
			builder, cache := newBenchBuilder(size, 50)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				cache.Clear(ctx)
				doc, err := builder.Index(ctx)
				if err != nil {
					b.Fatal(err)
				}
				_ = doc
			}
		})
	}
}

// BenchmarkBuilderIndexCached measures the cache-hit path every public
// request takes between publishes.
func BenchmarkBuilderIndexCached(b *testing.B) {
	builder, _ := newBenchBuilder(10000, 50)
	ctx := context.Background()
	if _, err := builder.Index(ctx); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doc, err := builder.Index(ctx)
		if err != nil {
			b.Fatal(err)
		}
		_ = doc
	}
}

// BenchmarkBuilderIndexCachedParallel measures concurrent cached reads, the
// steady state under crawler load.
func BenchmarkBuilderIndexCachedParallel(b *testing.B) {
	builder, _ := newBenchBuilder(10000, 50)
	ctx := context.Background()
	if _, err := builder.Index(ctx); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			doc, err := builder.Index(ctx)
			if err != nil {
				b.Fatal(err)
			}
			_ = doc
		}
	})
}

// BenchmarkBuilderProductChunk measures building one full-page product chunk.
func BenchmarkBuilderProductChunk(b *testing.B) {
	builder, cache := newBenchBuilder(5000, 0)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Clear(ctx)
		doc, err := builder.ProductChunk(ctx, 1)
		if err != nil {
			b.Fatal(err)
		}
		_ = doc
	}
}

// BenchmarkMemoryCache measures the raw set/get cost of the in-process
// document cache with a typical chunk-sized payload.
func BenchmarkMemoryCache(b *testing.B) {
	cache := sitemap.NewMemoryCache(time.Hour)
	ctx := context.Background()
	entries := sampleEntries(1000)
	doc, err := sitemap.RenderURLSet(entries)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(doc)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Set(ctx, "https://shop.example.com", "/sitemaps/sitemap-1.xml", doc)
		got, ok := cache.Get(ctx, "https://shop.example.com", "/sitemaps/sitemap-1.xml")
		if !ok {
			b.Fatal("expected cache hit")
		}
		_ = got
	}
}
