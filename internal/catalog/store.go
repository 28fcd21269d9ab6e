package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/catalogops/sitemap-publisher/pkg/postgres"
)

// Store runs parameterized queries against the products and blog tables.
//
// It expects the following schema:
//
//	CREATE TABLE products (
//	    id           BIGSERIAL PRIMARY KEY,
//	    slug         TEXT NOT NULL UNIQUE,
//	    name         TEXT NOT NULL,
//	    category     TEXT NOT NULL DEFAULT '',
//	    price        NUMERIC(10,2) NOT NULL DEFAULT 0,
//	    is_published BOOLEAN NOT NULL DEFAULT FALSE,
//	    updated_at   TIMESTAMPTZ
//	);
//
//	CREATE TABLE blog_posts (
//	    id           BIGSERIAL PRIMARY KEY,
//	    slug         TEXT NOT NULL UNIQUE,
//	    title        TEXT NOT NULL,
//	    category     TEXT NOT NULL DEFAULT '',
//	    is_published BOOLEAN NOT NULL DEFAULT FALSE,
//	    published_at TIMESTAMPTZ
//	);
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a catalog store backed by the given Postgres client.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "catalog-store"),
	}
}

// ProductPage returns page number page (1-based) of published products,
// ordered by id ascending. Pages cover disjoint id ranges so chunk k of the
// sitemap index always matches the kth page fetched here. A page past the
// end returns an empty slice, not an error.
func (s *Store) ProductPage(ctx context.Context, page, pageSize int) ([]Product, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, slug, name, category, price, updated_at
		 FROM products
		 WHERE is_published
		 ORDER BY id ASC
		 LIMIT $1 OFFSET $2`,
		pageSize, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying product page %d: %w", page, err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var (
			p       Product
			updated sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.Name, &p.Category, &p.Price, &updated); err != nil {
			return nil, fmt.Errorf("scanning product row: %w", err)
		}
		p.IsPublished = true
		p.UpdatedAt = updated.String
		products = append(products, p)
	}
	return products, rows.Err()
}

// BlogPage returns page number page (1-based) of published blog posts,
// ordered by id ascending.
func (s *Store) BlogPage(ctx context.Context, page, pageSize int) ([]BlogPost, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, slug, title, published_at
		 FROM blog_posts
		 WHERE is_published
		 ORDER BY id ASC
		 LIMIT $1 OFFSET $2`,
		pageSize, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying blog page %d: %w", page, err)
	}
	defer rows.Close()

	var posts []BlogPost
	for rows.Next() {
		var (
			p         BlogPost
			published sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title, &published); err != nil {
			return nil, fmt.Errorf("scanning blog row: %w", err)
		}
		p.PublishedAt = published.String
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CollectProducts pages through the entire published product set and returns
// the pages plus the total row count. An empty page ends the walk.
func (s *Store) CollectProducts(ctx context.Context, pageSize int) ([][]Product, int, error) {
	var (
		pages [][]Product
		total int
	)
	for page := 1; ; page++ {
		batch, err := s.ProductPage(ctx, page, pageSize)
		if err != nil {
			return nil, 0, err
		}
		if len(batch) == 0 {
			break
		}
		pages = append(pages, batch)
		total += len(batch)
	}
	return pages, total, nil
}

// CollectBlogPosts pages through the entire published blog set and returns
// the pages plus the total row count.
func (s *Store) CollectBlogPosts(ctx context.Context, pageSize int) ([][]BlogPost, int, error) {
	var (
		pages [][]BlogPost
		total int
	)
	for page := 1; ; page++ {
		batch, err := s.BlogPage(ctx, page, pageSize)
		if err != nil {
			return nil, 0, err
		}
		if len(batch) == 0 {
			break
		}
		pages = append(pages, batch)
		total += len(batch)
	}
	return pages, total, nil
}

// BlogCategories returns the distinct categories of published blog posts,
// each with the newest post timestamp in that category.
func (s *Store) BlogCategories(ctx context.Context) ([]BlogCategory, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT category, MAX(published_at)
		 FROM blog_posts
		 WHERE is_published AND category <> ''
		 GROUP BY category
		 ORDER BY category ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying blog categories: %w", err)
	}
	defer rows.Close()

	var categories []BlogCategory
	for rows.Next() {
		var (
			c       BlogCategory
			updated sql.NullString
		)
		if err := rows.Scan(&c.Slug, &updated); err != nil {
			return nil, fmt.Errorf("scanning blog category row: %w", err)
		}
		c.UpdatedAt = updated.String
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UnpublishedCandidates returns up to limit unpublished products ordered by
// ascending id, oldest rows first.
func (s *Store) UnpublishedCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, slug
		 FROM products
		 WHERE NOT is_published
		 ORDER BY id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unpublished candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Slug); err != nil {
			return nil, fmt.Errorf("scanning candidate row: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// PublishByID flips the given products to published inside tx and returns
// the number of rows actually changed. Rows already published by the time
// the update runs are skipped silently, which is why the affected count can
// trail the candidate count.
func (s *Store) PublishByID(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET is_published = TRUE, updated_at = NOW()
		 WHERE id = ANY($1) AND NOT is_published`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("publishing %d products: %w", len(ids), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return affected, nil
}

// InTx exposes the underlying transaction helper so the publishing
// orchestrator can wrap the bulk update without reaching into the client.
func (s *Store) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.db.InTx(ctx, fn)
}
