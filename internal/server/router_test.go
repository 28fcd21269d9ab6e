package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/publish"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
	"github.com/catalogops/sitemap-publisher/pkg/health"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// emptyCatalog serves a storefront with nothing published.
type emptyCatalog struct{}

func (emptyCatalog) ProductPage(ctx context.Context, page, pageSize int) ([]catalog.Product, error) {
	return nil, nil
}

func (emptyCatalog) BlogPage(ctx context.Context, page, pageSize int) ([]catalog.BlogPost, error) {
	return nil, nil
}

func (emptyCatalog) CollectProducts(ctx context.Context, pageSize int) ([][]catalog.Product, int, error) {
	return nil, 0, nil
}

func (emptyCatalog) CollectBlogPosts(ctx context.Context, pageSize int) ([][]catalog.BlogPost, int, error) {
	return nil, 0, nil
}

func (emptyCatalog) BlogCategories(ctx context.Context) ([]catalog.BlogCategory, error) {
	return nil, nil
}

// emptyStore has no pending products to publish.
type emptyStore struct{}

func (emptyStore) UnpublishedCandidates(ctx context.Context, limit int) ([]catalog.Candidate, error) {
	return nil, nil
}

func (emptyStore) PublishByID(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	return 0, nil
}

func (emptyStore) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// newTestServer wires the full router over empty backends.
func newTestServer(t *testing.T, adminToken string) *httptest.Server {
	t.Helper()

	cache := sitemap.NewMemoryCache(time.Minute)
	builder := sitemap.NewBuilder("https://shop.example.com", 100, emptyCatalog{}, cache, nil)
	sm := sitemap.NewHandler(builder, 5*time.Minute)

	activity := publish.NewMemoryLog(nil)
	orch := publish.NewOrchestrator(
		publish.OrchestratorConfig{SiteURL: "https://shop.example.com", DefaultBatchSize: 1000, MaxBatchSize: 5000},
		emptyStore{}, cache, catalog.NewProductCache(nil), nil, activity, publish.NewLock(), nil, nil,
	)
	ph := publish.NewHandler(orch, nil, activity, nil)

	srv := httptest.NewServer(New(sm, ph, health.NewChecker(), nil, adminToken, "https://admin.example.com"))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestPublicRoutesOpen verifies the sitemap surface needs no credentials.
func TestPublicRoutesOpen(t *testing.T) {
	srv := newTestServer(t, "secret")

	for _, path := range []string{"/sitemap.xml", "/sitemaps/static.xml", "/sitemaps/blog-categories.xml"} {
		resp := do(t, http.MethodGet, srv.URL+path, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "application/xml; charset=utf-8" {
			t.Errorf("%s: unexpected content type %q", path, ct)
		}
	}
}

// TestHealthRoutesOpen verifies probes bypass admin auth.
func TestHealthRoutesOpen(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := do(t, http.MethodGet, srv.URL+"/health/live", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live: expected 200, got %d", resp.StatusCode)
	}
	var live map[string]string
	json.NewDecoder(resp.Body).Decode(&live)
	if live["status"] != "alive" {
		t.Errorf("live: unexpected body %v", live)
	}

	resp = do(t, http.MethodGet, srv.URL+"/health/ready", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", resp.StatusCode)
	}
}

// TestAdminRoutesRequireToken verifies every admin route rejects missing
// credentials and accepts the configured token.
func TestAdminRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, "secret")

	routes := []struct {
		method     string
		path       string
		authedCode int
	}{
		{http.MethodPost, "/api/admin/publishing/sitemap", http.StatusOK},
		{http.MethodPost, "/api/admin/publishing/algolia", http.StatusServiceUnavailable},
		{http.MethodGet, "/api/admin/publishing/activity", http.StatusOK},
		{http.MethodDelete, "/api/admin/publishing/activity", http.StatusOK},
		{http.MethodGet, "/api/admin/publishing/activity/run-99", http.StatusNotFound},
		{http.MethodGet, "/api/admin/publishing/activity/run-99/errors.csv", http.StatusNotFound},
		{http.MethodPost, "/api/admin/cdn/purge-all", http.StatusServiceUnavailable},
	}

	for _, route := range routes {
		resp := do(t, route.method, srv.URL+route.path, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 without token, got %d", route.method, route.path, resp.StatusCode)
		}

		resp = do(t, route.method, srv.URL+route.path, "wrong")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401 with bad token, got %d", route.method, route.path, resp.StatusCode)
		}

		resp = do(t, route.method, srv.URL+route.path, "secret")
		if resp.StatusCode != route.authedCode {
			t.Errorf("%s %s: expected %d with token, got %d", route.method, route.path, route.authedCode, resp.StatusCode)
		}
	}
}

// TestAdminDisabledWithoutToken verifies an instance with no token configured
// refuses the admin surface even to callers presenting credentials.
func TestAdminDisabledWithoutToken(t *testing.T) {
	srv := newTestServer(t, "")

	resp := do(t, http.MethodPost, srv.URL+"/api/admin/publishing/sitemap", "anything")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error_code"] != "missing_env" {
		t.Errorf("expected missing_env, got %v", body["error_code"])
	}
}

// TestRequestIDEchoed verifies the middleware stamps every response and
// reuses caller-supplied ids.
func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t, "secret")

	resp := do(t, http.MethodGet, srv.URL+"/sitemap.xml", "")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/sitemap.xml", nil)
	req.Header.Set("X-Request-ID", "req-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "req-123" {
		t.Errorf("expected echoed id req-123, got %q", got)
	}
}

// TestCORSPreflight verifies the admin UI origin can preflight the API while
// unknown origins get no CORS headers.
func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, "secret")

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/admin/publishing/sitemap", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Errorf("expected allowed origin echoed, got %q", got)
	}
	if allow := resp.Header.Get("Access-Control-Allow-Methods"); allow == "" {
		t.Error("expected allowed methods advertised")
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/sitemap.xml", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK {
		t.Errorf("expected request to pass through, got %d", resp2.StatusCode)
	}
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no CORS headers for unknown origin, got %q", got)
	}
}
