package sitemap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	pkgerrors "github.com/catalogops/sitemap-publisher/pkg/errors"
	"github.com/catalogops/sitemap-publisher/pkg/metrics"
)

// Catalog is the slice of the catalog store the builder reads from.
type Catalog interface {
	ProductPage(ctx context.Context, page, pageSize int) ([]catalog.Product, error)
	BlogPage(ctx context.Context, page, pageSize int) ([]catalog.BlogPost, error)
	CollectProducts(ctx context.Context, pageSize int) ([][]catalog.Product, int, error)
	CollectBlogPosts(ctx context.Context, pageSize int) ([][]catalog.BlogPost, int, error)
	BlogCategories(ctx context.Context) ([]catalog.BlogCategory, error)
}

// staticPaths are the hand-maintained storefront routes listed in the static
// chunk. They carry no lastmod; the tag is omitted for them.
var staticPaths = []string{
	"/",
	"/products",
	"/categories",
	"/blog",
	"/about",
	"/contact",
}

// Builder renders sitemap documents on cache miss and serves them from the
// shared cache otherwise. Concurrent misses for the same document collapse
// into a single render.
type Builder struct {
	siteURL  string
	pageSize int
	store    Catalog
	cache    Cache
	metrics  *metrics.Metrics
	group    singleflight.Group
	logger   *slog.Logger
}

// NewBuilder creates a Builder. pageSize is shared between index generation
// and chunk rendering; m may be nil.
func NewBuilder(siteURL string, pageSize int, store Catalog, cache Cache, m *metrics.Metrics) *Builder {
	return &Builder{
		siteURL:  siteURL,
		pageSize: pageSize,
		store:    store,
		cache:    cache,
		metrics:  m,
		logger:   slog.Default().With("component", "sitemap-builder"),
	}
}

// Index returns the sitemap index listing every chunk document.
func (b *Builder) Index(ctx context.Context) (string, error) {
	return b.document(ctx, "/sitemap.xml", "index", func() (string, error) {
		return b.buildIndex(ctx)
	})
}

// ProductChunk returns product chunk number page. A page past the end of the
// published set fails with a not-found error for the handler to map to 404.
func (b *Builder) ProductChunk(ctx context.Context, page int) (string, error) {
	path := fmt.Sprintf("/sitemaps/sitemap-%d.xml", page)
	return b.document(ctx, path, "product_chunk", func() (string, error) {
		return b.buildProductChunk(ctx, page)
	})
}

// BlogChunk returns blog chunk number page.
func (b *Builder) BlogChunk(ctx context.Context, page int) (string, error) {
	path := fmt.Sprintf("/sitemaps/blog-%d.xml", page)
	return b.document(ctx, path, "blog_chunk", func() (string, error) {
		return b.buildBlogChunk(ctx, page)
	})
}

// Static returns the urlset of hand-maintained storefront routes.
func (b *Builder) Static(ctx context.Context) (string, error) {
	return b.document(ctx, "/sitemaps/static.xml", "static", func() (string, error) {
		return b.buildStatic()
	})
}

// BlogCategories returns the urlset of blog category pages.
func (b *Builder) BlogCategories(ctx context.Context) (string, error) {
	return b.document(ctx, "/sitemaps/blog-categories.xml", "blog_categories", func() (string, error) {
		return b.buildBlogCategories(ctx)
	})
}

// document is the shared cache-or-render path. Errors are never cached, so a
// 404 page or a failed query is retried on the next request.
func (b *Builder) document(ctx context.Context, path, kind string, build func() (string, error)) (string, error) {
	if xml, ok := b.cache.Get(ctx, b.siteURL, path); ok {
		b.observeHit(kind)
		return xml, nil
	}
	b.observeMiss(kind)

	val, err, _ := b.group.Do(cacheKey(b.siteURL, path), func() (interface{}, error) {
		if xml, ok := b.cache.Get(ctx, b.siteURL, path); ok {
			return xml, nil
		}
		start := time.Now()
		xml, err := build()
		if err != nil {
			return nil, err
		}
		b.observeRender(kind, time.Since(start))
		b.cache.Set(ctx, b.siteURL, path, xml)
		return xml, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

// buildIndex walks both collections and lists one entry per chunk. Product
// and blog collections touch disjoint tables, so they load concurrently;
// the index is rendered only after both finish.
func (b *Builder) buildIndex(ctx context.Context) (string, error) {
	var (
		productPages [][]catalog.Product
		blogPages    [][]catalog.BlogPost
		categories   []catalog.BlogCategory
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, total, err := b.store.CollectProducts(gctx, b.pageSize)
		if err != nil {
			return fmt.Errorf("collecting products: %w", err)
		}
		productPages = pages
		b.logger.Debug("collected products", "pages", len(pages), "total", total)
		return nil
	})
	g.Go(func() error {
		pages, total, err := b.store.CollectBlogPosts(gctx, b.pageSize)
		if err != nil {
			return fmt.Errorf("collecting blog posts: %w", err)
		}
		blogPages = pages
		b.logger.Debug("collected blog posts", "pages", len(pages), "total", total)
		return nil
	})
	g.Go(func() error {
		cats, err := b.store.BlogCategories(gctx)
		if err != nil {
			return fmt.Errorf("collecting blog categories: %w", err)
		}
		categories = cats
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	entries := []Entry{{Loc: b.siteURL + "/sitemaps/static.xml"}}
	for i, page := range productPages {
		entry := Entry{Loc: fmt.Sprintf("%s/sitemaps/sitemap-%d.xml", b.siteURL, i+1)}
		stamps := make([]string, len(page))
		for j, p := range page {
			stamps[j] = p.UpdatedAt
		}
		if lastmod, ok := LastModified(stamps...); ok {
			entry.LastMod = lastmod
		}
		entries = append(entries, entry)
	}
	for i, page := range blogPages {
		entry := Entry{Loc: fmt.Sprintf("%s/sitemaps/blog-%d.xml", b.siteURL, i+1)}
		stamps := make([]string, len(page))
		for j, p := range page {
			stamps[j] = p.PublishedAt
		}
		if lastmod, ok := LastModified(stamps...); ok {
			entry.LastMod = lastmod
		}
		entries = append(entries, entry)
	}
	catEntry := Entry{Loc: b.siteURL + "/sitemaps/blog-categories.xml"}
	catStamps := make([]string, len(categories))
	for i, c := range categories {
		catStamps[i] = c.UpdatedAt
	}
	if lastmod, ok := LastModified(catStamps...); ok {
		catEntry.LastMod = lastmod
	}
	entries = append(entries, catEntry)

	b.observeURLCount("index", len(entries))
	return RenderIndex(entries)
}

func (b *Builder) buildProductChunk(ctx context.Context, page int) (string, error) {
	products, err := b.store.ProductPage(ctx, page, b.pageSize)
	if err != nil {
		return "", fmt.Errorf("fetching product page %d: %w", page, err)
	}
	if len(products) == 0 {
		return "", pkgerrors.Newf(pkgerrors.ErrNotFound, 404, "product sitemap page %d is past the end", page)
	}
	entries := make([]Entry, len(products))
	for i, p := range products {
		entries[i] = Entry{Loc: b.siteURL + "/products/" + p.Slug}
		if lastmod, ok := LastModified(p.UpdatedAt); ok {
			entries[i].LastMod = lastmod
		}
	}
	b.observeURLCount("product_chunk", len(entries))
	return RenderURLSet(entries)
}

func (b *Builder) buildBlogChunk(ctx context.Context, page int) (string, error) {
	posts, err := b.store.BlogPage(ctx, page, b.pageSize)
	if err != nil {
		return "", fmt.Errorf("fetching blog page %d: %w", page, err)
	}
	if len(posts) == 0 {
		return "", pkgerrors.Newf(pkgerrors.ErrNotFound, 404, "blog sitemap page %d is past the end", page)
	}
	entries := make([]Entry, len(posts))
	for i, p := range posts {
		entries[i] = Entry{Loc: b.siteURL + "/blog/" + p.Slug}
		if lastmod, ok := LastModified(p.PublishedAt); ok {
			entries[i].LastMod = lastmod
		}
	}
	b.observeURLCount("blog_chunk", len(entries))
	return RenderURLSet(entries)
}

func (b *Builder) buildStatic() (string, error) {
	entries := make([]Entry, len(staticPaths))
	for i, path := range staticPaths {
		entries[i] = Entry{Loc: b.siteURL + path}
	}
	b.observeURLCount("static", len(entries))
	return RenderURLSet(entries)
}

func (b *Builder) buildBlogCategories(ctx context.Context) (string, error) {
	categories, err := b.store.BlogCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching blog categories: %w", err)
	}
	entries := make([]Entry, len(categories))
	for i, c := range categories {
		entries[i] = Entry{Loc: b.siteURL + "/blog/category/" + c.Slug}
		if lastmod, ok := LastModified(c.UpdatedAt); ok {
			entries[i].LastMod = lastmod
		}
	}
	b.observeURLCount("blog_categories", len(entries))
	return RenderURLSet(entries)
}

func (b *Builder) observeHit(kind string) {
	if b.metrics != nil {
		b.metrics.SitemapCacheHits.WithLabelValues(kind).Inc()
	}
}

func (b *Builder) observeMiss(kind string) {
	if b.metrics != nil {
		b.metrics.SitemapCacheMisses.WithLabelValues(kind).Inc()
	}
}

func (b *Builder) observeRender(kind string, d time.Duration) {
	if b.metrics != nil {
		b.metrics.SitemapRenderDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (b *Builder) observeURLCount(kind string, n int) {
	if b.metrics != nil {
		b.metrics.SitemapURLCount.WithLabelValues(kind).Set(float64(n))
	}
}
