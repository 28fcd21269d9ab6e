// Package server wires the HTTP surface: public sitemap routes, the
// token-guarded admin publishing API, and health probes, with the middleware
// chain (RequestID → Metrics) around everything.
package server

import (
	"net/http"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/publish"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
	"github.com/catalogops/sitemap-publisher/pkg/health"
	"github.com/catalogops/sitemap-publisher/pkg/metrics"
	"github.com/catalogops/sitemap-publisher/pkg/middleware"
)

// sitemapTimeout bounds public sitemap requests. Admin publish runs are
// deliberately unbounded; a started batch is expected to finish.
const sitemapTimeout = 30 * time.Second

// New builds the full HTTP handler. siteOrigin is the storefront origin the
// admin UI is served from, allowed to call the API cross-origin.
//
// Route table:
//
//	GET    /sitemap.xml                                  → sitemap index
//	GET    /sitemaps/{file}                              → chunk documents
//	POST   /api/admin/publishing/sitemap                 → publish batch
//	POST   /api/admin/publishing/algolia                 → search sync
//	GET    /api/admin/publishing/activity                → run ledger
//	DELETE /api/admin/publishing/activity                → clear ledger
//	GET    /api/admin/publishing/activity/{id}           → one run
//	GET    /api/admin/publishing/activity/{id}/errors.csv → error export
//	POST   /api/admin/cdn/purge-all                      → full zone purge
//	GET    /health/live, /health/ready                   → probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → handler
func New(sm *sitemap.Handler, ph *publish.Handler, checker *health.Checker, m *metrics.Metrics, adminToken, siteOrigin string) http.Handler {
	mux := http.NewServeMux()
	admin := AdminAuth(adminToken)
	bounded := middleware.Timeout(sitemapTimeout)

	// Public sitemap surface, bounded per request.
	mux.Handle("GET /sitemap.xml", bounded(http.HandlerFunc(sm.Index)))
	mux.Handle("GET /sitemaps/{file}", bounded(http.HandlerFunc(sm.Chunk)))

	// Admin publishing API.
	mux.HandleFunc("POST /api/admin/publishing/sitemap", admin(ph.PublishSitemap))
	mux.HandleFunc("POST /api/admin/publishing/algolia", admin(ph.SyncAlgolia))
	mux.HandleFunc("GET /api/admin/publishing/activity", admin(ph.ListActivity))
	mux.HandleFunc("DELETE /api/admin/publishing/activity", admin(ph.ClearActivity))
	mux.HandleFunc("GET /api/admin/publishing/activity/{id}", admin(ph.GetActivity))
	mux.HandleFunc("GET /api/admin/publishing/activity/{id}/errors.csv", admin(ph.ExportErrors))
	mux.HandleFunc("POST /api/admin/cdn/purge-all", admin(ph.PurgeAll))

	// Health (unauthenticated)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Chain applied inside-out: request → RequestID → CORS → Metrics → mux.
	var chain http.Handler = mux
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.CORS(middleware.CORSConfig{
		AllowOrigins: []string{siteOrigin},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		MaxAge:       86400,
	})(chain)
	chain = middleware.RequestID(chain)

	return chain
}
