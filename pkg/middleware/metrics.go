// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, and request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/catalogops/sitemap-publisher/pkg/metrics"
)

// Metrics returns middleware that records request count, latency, and an
// in-flight gauge for every route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := normalizePath(r.URL.Path)
			rw := &recordingWriter{ResponseWriter: w}

			m.HTTPRequestsInFlight.Inc()
			start := time.Now()
			defer func() {
				m.HTTPRequestsInFlight.Dec()
				m.HTTPRequestDuration.WithLabelValues(r.Method, route).
					Observe(time.Since(start).Seconds())
				m.HTTPRequestsTotal.WithLabelValues(r.Method, route,
					strconv.Itoa(rw.statusCode())).Inc()
			}()

			next.ServeHTTP(rw, r)
		})
	}
}

// recordingWriter captures the first status code written so the request count
// can be labeled by outcome. Later WriteHeader calls pass through untouched.
type recordingWriter struct {
	http.ResponseWriter
	code int
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.code == 0 {
		rw.code = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.code == 0 {
		rw.code = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// statusCode returns the captured code, or 200 for a handler that wrote a
// body without an explicit header.
func (rw *recordingWriter) statusCode() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

// normalizePath collapses per-resource segments so metric label cardinality
// stays bounded: numbered sitemap chunks become one series, and activity
// detail and CSV routes collapse to a placeholder id.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/sitemaps/") {
		rest := strings.TrimPrefix(path, "/sitemaps/")
		switch {
		case rest == "static.xml" || rest == "blog-categories.xml":
			return path
		case strings.HasSuffix(rest, ".xml") && !strings.Contains(rest, "/"):
			return "/sitemaps/{page}.xml"
		}
		return path
	}
	if strings.HasPrefix(path, "/api/admin/publishing/activity/") {
		rest := strings.TrimPrefix(path, "/api/admin/publishing/activity/")
		if strings.HasSuffix(rest, "/errors.csv") {
			return "/api/admin/publishing/activity/{id}/errors.csv"
		}
		if rest != "" && !strings.Contains(rest, "/") {
			return "/api/admin/publishing/activity/{id}"
		}
	}
	return path
}
