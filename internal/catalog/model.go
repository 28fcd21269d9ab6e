// Package catalog reads and mutates the storefront's product and blog tables.
// It exposes paginated fetchers for sitemap chunking, candidate selection and
// the bulk publish update for the publishing pipeline, and a per-product
// cache invalidator.
package catalog

// Product is a catalog row as consumed by sitemaps, publishing, and search
// sync. UpdatedAt carries the row's timestamp as RFC 3339 text; it is empty
// when the column is NULL.
type Product struct {
	ID          int64   `json:"id"`
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Price       float64 `json:"price"`
	IsPublished bool    `json:"is_published"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// BlogPost is a published blog row used for blog sitemap chunks.
type BlogPost struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	PublishedAt string `json:"published_at,omitempty"`
}

// BlogCategory is a distinct blog category slug with the most recent post
// timestamp in that category.
type BlogCategory struct {
	Slug      string `json:"slug"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Candidate is an unpublished product selected for a publish batch. The
// orchestrator reads candidates once per run and never caches them.
type Candidate struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
}
