package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/catalogops/sitemap-publisher/pkg/config"
	"github.com/catalogops/sitemap-publisher/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
    id           BIGSERIAL PRIMARY KEY,
    slug         TEXT NOT NULL UNIQUE,
    name         TEXT NOT NULL,
    category     TEXT NOT NULL DEFAULT '',
    price        NUMERIC(10,2) NOT NULL DEFAULT 0,
    is_published BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS blog_posts (
    id           BIGSERIAL PRIMARY KEY,
    slug         TEXT NOT NULL UNIQUE,
    title        TEXT NOT NULL,
    category     TEXT NOT NULL DEFAULT '',
    is_published BOOLEAN NOT NULL DEFAULT FALSE,
    published_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_products_published ON products (is_published, id);
CREATE INDEX IF NOT EXISTS idx_blog_posts_published ON blog_posts (is_published, id);
`

var (
	productCategories = []string{"audio", "kitchen", "lighting", "outdoor", "office", "fitness"}
	productAdjectives = []string{"Compact", "Classic", "Modular", "Wireless", "Heavy-Duty", "Foldable", "Insulated", "Adjustable"}
	productNouns      = []string{"Speaker", "Kettle", "Desk Lamp", "Tent", "Monitor Stand", "Kettlebell", "Blender", "Headlamp"}
	blogCategories    = []string{"guides", "news", "reviews"}
	blogTopics        = []string{"Choosing Gear", "Care and Cleaning", "What Changed This Season", "Setup Walkthrough", "Field Notes"}
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	products := flag.Int("products", 250, "number of products to seed")
	blogPosts := flag.Int("blog", 40, "number of blog posts to seed")
	publishedPct := flag.Int("published", 70, "percentage of rows seeded as already published")
	reset := flag.Bool("reset", false, "truncate tables before seeding")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("=== Catalog Seeder ===")
	fmt.Printf("Database:   %s@%s/%s\n", cfg.Postgres.User, cfg.Postgres.Host, cfg.Postgres.Database)
	fmt.Printf("Products:   %d (%d%% published)\n", *products, *publishedPct)
	fmt.Printf("Blog posts: %d\n", *blogPosts)
	fmt.Println()

	if _, err := pg.DB.ExecContext(ctx, schema); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create schema: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Schema ready.")

	if *reset {
		if _, err := pg.DB.ExecContext(ctx, `TRUNCATE products, blog_posts RESTART IDENTITY`); err != nil {
			fmt.Fprintf(os.Stderr, "failed to truncate tables: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Tables truncated.")
	}

	inserted, err := seedProducts(ctx, pg, *products, *publishedPct)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed products: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Products inserted:   %d\n", inserted)

	inserted, err = seedBlogPosts(ctx, pg, *blogPosts, *publishedPct)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed blog posts: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Blog posts inserted: %d\n", inserted)

	fmt.Println()
	fmt.Println("Done. Run the server and fetch /sitemap.xml, or POST to")
	fmt.Println("/api/admin/publishing/sitemap to publish the pending rows.")
}

// seedProducts inserts n deterministic products. A slice of rows stays
// unpublished so the publish pipeline has candidates to work on, and a few
// published rows get a NULL updated_at to exercise lastmod omission.
func seedProducts(ctx context.Context, pg *postgres.Client, n, publishedPct int) (int64, error) {
	var total int64
	err := pg.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO products (slug, name, category, price, is_published, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (slug) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := 0; i < n; i++ {
			category := productCategories[i%len(productCategories)]
			name := fmt.Sprintf("%s %s %d",
				productAdjectives[i%len(productAdjectives)],
				productNouns[i%len(productNouns)],
				i+1,
			)
			slug := fmt.Sprintf("%s-product-%04d", category, i+1)
			price := 9.99 + float64(i%200)
			published := i%100 < publishedPct

			var updatedAt any
			if published && i%17 != 0 {
				updatedAt = now.Add(-time.Duration(i) * 6 * time.Hour)
			}

			res, err := stmt.ExecContext(ctx, slug, name, category, price, published, updatedAt)
			if err != nil {
				return fmt.Errorf("inserting product %s: %w", slug, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += affected
		}
		return nil
	})
	return total, err
}

func seedBlogPosts(ctx context.Context, pg *postgres.Client, n, publishedPct int) (int64, error) {
	var total int64
	err := pg.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO blog_posts (slug, title, category, is_published, published_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (slug) DO NOTHING`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := 0; i < n; i++ {
			category := blogCategories[i%len(blogCategories)]
			title := fmt.Sprintf("%s, Part %d", blogTopics[i%len(blogTopics)], i/len(blogTopics)+1)
			slug := fmt.Sprintf("%s-post-%03d", category, i+1)
			published := i%100 < publishedPct

			var publishedAt any
			if published {
				publishedAt = now.Add(-time.Duration(i) * 24 * time.Hour)
			}

			res, err := stmt.ExecContext(ctx, slug, title, category, published, publishedAt)
			if err != nil {
				return fmt.Errorf("inserting blog post %s: %w", slug, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += affected
		}
		return nil
	})
	return total, err
}
