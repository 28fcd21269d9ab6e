// Package integration contains tests that verify the storefront HTTP surface
// end to end: real router, sitemap builder, and publishing pipeline over a
// real PostgreSQL database, with CDN and search left unconfigured.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/publish"
	"github.com/catalogops/sitemap-publisher/internal/server"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
	"github.com/catalogops/sitemap-publisher/pkg/config"
	"github.com/catalogops/sitemap-publisher/pkg/health"
	"github.com/catalogops/sitemap-publisher/pkg/postgres"
)

const (
	testSiteURL    = "https://shop.example.com"
	testAdminToken = "integration-admin-token"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const testSchema = `
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
`

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := t.Context()
	if _, err := db.DB.ExecContext(ctx, testSchema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	if _, err := db.DB.ExecContext(ctx, `TRUNCATE products, blog_posts RESTART IDENTITY`); err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "storefront_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "storefront"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// newStorefrontServer wires the production router over the given database:
// in-memory sitemap cache and activity ledger, no CDN, no search index.
func newStorefrontServer(t *testing.T, db *postgres.Client, pageSize int) *httptest.Server {
	t.Helper()

	store := catalog.NewStore(db)
	cache := sitemap.NewMemoryCache(5 * time.Minute)
	builder := sitemap.NewBuilder(testSiteURL, pageSize, store, cache, nil)
	sm := sitemap.NewHandler(builder, 5*time.Minute)

	activity := publish.NewMemoryLog(nil)
	orch := publish.NewOrchestrator(
		publish.OrchestratorConfig{SiteURL: testSiteURL, DefaultBatchSize: 1000, MaxBatchSize: 5000},
		store, cache, catalog.NewProductCache(nil), nil, activity, publish.NewLock(), nil, nil,
	)
	ph := publish.NewHandler(orch, nil, activity, nil)

	checker := health.NewChecker()
	checker.Register("postgres", health.Probe(db.Ping, false))

	srv := httptest.NewServer(server.New(sm, ph, checker, nil, testAdminToken, testSiteURL))
	t.Cleanup(srv.Close)
	return srv
}

func insertProduct(t *testing.T, db *postgres.Client, slug string, published bool, updatedAt any) {
	t.Helper()
	_, err := db.DB.ExecContext(t.Context(),
		`INSERT INTO products (slug, name, is_published, updated_at) VALUES ($1, $2, $3, $4)`,
		slug, "Product "+slug, published, updatedAt,
	)
	if err != nil {
		t.Fatalf("inserting product %s: %v", slug, err)
	}
}

func insertBlogPost(t *testing.T, db *postgres.Client, slug, category string, publishedAt any) {
	t.Helper()
	_, err := db.DB.ExecContext(t.Context(),
		`INSERT INTO blog_posts (slug, title, category, is_published, published_at) VALUES ($1, $2, $3, TRUE, $4)`,
		slug, "Post "+slug, category, publishedAt,
	)
	if err != nil {
		t.Fatalf("inserting blog post %s: %v", slug, err)
	}
}

func getBody(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func adminRequest(t *testing.T, method, url, token string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshaling payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestSitemapReflectsCatalog verifies the index lists one chunk per product
// page plus the fixed chunks, and chunks serve the seeded URLs.
func TestSitemapReflectsCatalog(t *testing.T) {
	db := skipIfNoPostgres(t)
	for _, slug := range []string{"widget-1", "widget-2", "widget-3", "widget-4"} {
		insertProduct(t, db, slug, true, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	}
	insertBlogPost(t, db, "choosing-headphones", "guides", time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC))

	srv := newStorefrontServer(t, db, 3)

	status, index := getBody(t, srv.URL+"/sitemap.xml")
	if status != http.StatusOK {
		t.Fatalf("index: expected 200, got %d", status)
	}
	for _, loc := range []string{
		testSiteURL + "/sitemaps/static.xml",
		testSiteURL + "/sitemaps/sitemap-1.xml",
		testSiteURL + "/sitemaps/sitemap-2.xml",
		testSiteURL + "/sitemaps/blog-1.xml",
		testSiteURL + "/sitemaps/blog-categories.xml",
	} {
		if !strings.Contains(index, loc) {
			t.Errorf("index missing %s", loc)
		}
	}
	if strings.Contains(index, "/sitemaps/sitemap-3.xml") {
		t.Error("index lists a chunk past the last page")
	}

	status, chunk := getBody(t, srv.URL+"/sitemaps/sitemap-1.xml")
	if status != http.StatusOK {
		t.Fatalf("chunk 1: expected 200, got %d", status)
	}
	if !strings.Contains(chunk, testSiteURL+"/products/widget-1") {
		t.Error("chunk 1 missing first product")
	}
	if strings.Contains(chunk, "widget-4") {
		t.Error("chunk 1 leaked a second-page product")
	}

	status, body := getBody(t, srv.URL+"/sitemaps/sitemap-9.xml")
	if status != http.StatusNotFound || body != "Not Found" {
		t.Errorf("expected plain 404 for a chunk past the end, got %d %q", status, body)
	}
}

// TestPublishLifecycle runs a batch through the real pipeline and verifies
// the report, sitemap invalidation, and the activity ledger.
func TestPublishLifecycle(t *testing.T) {
	db := skipIfNoPostgres(t)
	insertProduct(t, db, "widget-1", true, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	for _, slug := range []string{"draft-1", "draft-2", "draft-3"} {
		insertProduct(t, db, slug, false, nil)
	}

	srv := newStorefrontServer(t, db, 10)

	// Warm the sitemap cache so the run has something to invalidate.
	status, chunk := getBody(t, srv.URL+"/sitemaps/sitemap-1.xml")
	if status != http.StatusOK {
		t.Fatalf("chunk: expected 200, got %d", status)
	}
	if strings.Contains(chunk, "draft-1") {
		t.Fatal("draft visible before publishing")
	}

	resp, report := adminRequest(t, http.MethodPost, srv.URL+"/api/admin/publishing/sitemap", testAdminToken, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d", resp.StatusCode)
	}
	if report["ok"] != true {
		t.Errorf("expected ok report, got %v", report)
	}
	if report["processed"] != float64(3) || report["success"] != float64(3) || report["skipped"] != float64(0) {
		t.Errorf("unexpected counts in %v", report)
	}
	if report["activity_id"] != "run-1" {
		t.Errorf("expected activity_id run-1, got %v", report["activity_id"])
	}

	// The cached chunk was dropped, so drafts are visible immediately.
	_, chunk = getBody(t, srv.URL+"/sitemaps/sitemap-1.xml")
	for _, slug := range []string{"draft-1", "draft-2", "draft-3"} {
		if !strings.Contains(chunk, testSiteURL+"/products/"+slug) {
			t.Errorf("chunk missing freshly published %s", slug)
		}
	}

	// Nothing left to publish.
	resp, report = adminRequest(t, http.MethodPost, srv.URL+"/api/admin/publishing/sitemap", testAdminToken, map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second publish: expected 200, got %d", resp.StatusCode)
	}
	if report["ok"] != true || report["processed"] != float64(0) {
		t.Errorf("expected empty second run, got %v", report)
	}

	// Ledger holds both runs, newest first.
	resp, list := adminRequest(t, http.MethodGet, srv.URL+"/api/admin/publishing/activity", testAdminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activity list: expected 200, got %d", resp.StatusCode)
	}
	entries, _ := list["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	first, _ := entries[0].(map[string]any)
	if first["id"] != "run-2" {
		t.Errorf("expected newest entry first, got %v", first["id"])
	}

	resp, detail := adminRequest(t, http.MethodGet, srv.URL+"/api/admin/publishing/activity/run-1", testAdminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activity detail: expected 200, got %d", resp.StatusCode)
	}
	entry, _ := detail["entry"].(map[string]any)
	if entry["success"] != float64(3) {
		t.Errorf("expected success 3 in run-1, got %v", entry["success"])
	}

	resp, _ = adminRequest(t, http.MethodDelete, srv.URL+"/api/admin/publishing/activity", testAdminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activity clear: expected 200, got %d", resp.StatusCode)
	}
	_, list = adminRequest(t, http.MethodGet, srv.URL+"/api/admin/publishing/activity", testAdminToken, nil)
	entries, _ = list["entries"].([]any)
	if len(entries) != 0 {
		t.Errorf("expected empty ledger after clear, got %d entries", len(entries))
	}
}

// TestPublishRejectsBadToken verifies a rejected request leaves no trace in
// the ledger.
func TestPublishRejectsBadToken(t *testing.T) {
	db := skipIfNoPostgres(t)
	insertProduct(t, db, "draft-1", false, nil)

	srv := newStorefrontServer(t, db, 10)

	resp, body := adminRequest(t, http.MethodPost, srv.URL+"/api/admin/publishing/sitemap", "wrong-token", map[string]any{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["error_code"] != "unauthorized" {
		t.Errorf("expected unauthorized, got %v", body["error_code"])
	}

	_, list := adminRequest(t, http.MethodGet, srv.URL+"/api/admin/publishing/activity", testAdminToken, nil)
	entries, _ := list["entries"].([]any)
	if len(entries) != 0 {
		t.Errorf("expected no ledger entries after rejected request, got %d", len(entries))
	}
}

// TestReadyProbeReportsPostgres verifies readiness aggregates the database
// check.
func TestReadyProbeReportsPostgres(t *testing.T) {
	db := skipIfNoPostgres(t)
	srv := newStorefrontServer(t, db, 10)

	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("ready request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var report struct {
		Status     string `json:"status"`
		Components map[string]struct {
			Status string `json:"status"`
		} `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Status != "up" {
		t.Errorf("expected up, got %q", report.Status)
	}
	if report.Components["postgres"].Status != "up" {
		t.Errorf("expected postgres up, got %q", report.Components["postgres"].Status)
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
