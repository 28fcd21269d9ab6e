package sitemap

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
)

func newTestServer(t *testing.T, store Catalog) *httptest.Server {
	t.Helper()
	builder := NewBuilder("https://shop.example.com", 2, store, NewMemoryCache(5*time.Minute), nil)
	h := NewHandler(builder, 5*time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sitemap.xml", h.Index)
	mux.HandleFunc("GET /sitemaps/{file}", h.Chunk)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading body of %s: %v", url, err)
	}
	return resp, string(body)
}

// TestIndexEndpoint verifies GET /sitemap.xml answers XML with the shared
// cache window.
func TestIndexEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeCatalog{products: testProducts()})

	resp, body := get(t, srv.URL+"/sitemap.xml")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/xml; charset=utf-8" {
		t.Errorf("expected application/xml content type, got %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("expected public, max-age=300, got %q", cc)
	}
	if !strings.Contains(body, "<sitemapindex") {
		t.Errorf("expected sitemapindex document, got:\n%s", body)
	}
}

// TestChunkEndpoints verifies the file-name dispatch for every chunk family.
func TestChunkEndpoints(t *testing.T) {
	store := &fakeCatalog{
		products: testProducts(),
		blogPosts: []catalog.BlogPost{
			{ID: 1, Slug: "first-post", PublishedAt: "2024-01-01T00:00:00Z"},
		},
		categories: []catalog.BlogCategory{
			{Slug: "guides", UpdatedAt: "2024-01-01T00:00:00Z"},
		},
	}
	srv := newTestServer(t, store)

	cases := []struct {
		path string
		want string
	}{
		{"/sitemaps/static.xml", "https://shop.example.com/about"},
		{"/sitemaps/blog-categories.xml", "/blog/category/guides"},
		{"/sitemaps/sitemap-1.xml", "/products/widget-1"},
		{"/sitemaps/blog-1.xml", "/blog/first-post"},
	}
	for _, tc := range cases {
		resp, body := get(t, srv.URL+tc.path)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tc.path, resp.StatusCode)
			continue
		}
		if !strings.Contains(body, tc.want) {
			t.Errorf("%s: expected body to contain %q:\n%s", tc.path, tc.want, body)
		}
	}
}

// TestChunkNotFound verifies unknown files, malformed numbers, and pages
// past the end all answer a plain-text 404.
func TestChunkNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeCatalog{products: testProducts()})

	paths := []string{
		"/sitemaps/unknown.xml",
		"/sitemaps/sitemap-.xml",
		"/sitemaps/sitemap-abc.xml",
		"/sitemaps/sitemap-0.xml",
		"/sitemaps/sitemap-99.xml",
		"/sitemaps/blog-1.xml", // no blog posts in store
		"/sitemaps/sitemap-1",
	}
	for _, path := range paths {
		resp, body := get(t, srv.URL+path)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
			continue
		}
		if body != "Not Found" {
			t.Errorf("%s: expected plain Not Found body, got %q", path, body)
		}
		if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Errorf("%s: expected text/plain content type, got %q", path, ct)
		}
	}
}

// TestBuildFailureAnswers500 verifies store failures surface as the JSON
// sitemap_error body, not as a broken XML document.
func TestBuildFailureAnswers500(t *testing.T) {
	store := &fakeCatalog{failWith: errors.New("connection refused")}
	srv := newTestServer(t, store)

	resp, body := get(t, srv.URL+"/sitemap.xml")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}
	if body != `{"error":"sitemap_error"}` {
		t.Errorf("expected sitemap_error body, got %q", body)
	}
}

// TestChunkNumberParsing exercises the file-name grammar directly.
func TestChunkNumberParsing(t *testing.T) {
	cases := []struct {
		file   string
		prefix string
		page   int
		ok     bool
	}{
		{"sitemap-1.xml", "sitemap-", 1, true},
		{"sitemap-42.xml", "sitemap-", 42, true},
		{"blog-7.xml", "blog-", 7, true},
		{"sitemap-.xml", "sitemap-", 0, false},
		{"sitemap-0.xml", "sitemap-", 0, false},
		{"sitemap--1.xml", "sitemap-", 0, false},
		{"sitemap-two.xml", "sitemap-", 0, false},
		{"sitemap-3", "sitemap-", 0, false},
		{"sitemap-3.xml.gz", "sitemap-", 0, false},
	}
	for _, tc := range cases {
		page, ok := chunkNumber(tc.file, tc.prefix)
		if ok != tc.ok || page != tc.page {
			t.Errorf("chunkNumber(%q): expected (%d, %v), got (%d, %v)",
				tc.file, tc.page, tc.ok, page, ok)
		}
	}
}
