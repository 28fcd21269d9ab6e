// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	SitemapCacheHits      *prometheus.CounterVec
	SitemapCacheMisses    *prometheus.CounterVec
	SitemapRenderDuration *prometheus.HistogramVec
	SitemapURLCount       *prometheus.GaugeVec
	PublishRunsTotal      *prometheus.CounterVec
	PublishRunDuration    *prometheus.HistogramVec
	ProductsPublished     prometheus.Counter
	PublishLockContention prometheus.Counter
	CDNPurgesTotal        *prometheus.CounterVec
	SearchSyncObjects     *prometheus.CounterVec
	PublishEventsTotal    *prometheus.CounterVec
	ActivityEntries       prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SitemapCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_cache_hits_total",
				Help: "Sitemap cache hits by document kind.",
			},
			[]string{"kind"},
		),
		SitemapCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_cache_misses_total",
				Help: "Sitemap cache misses by document kind.",
			},
			[]string{"kind"},
		),
		SitemapRenderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitemap_render_duration_seconds",
				Help:    "Time spent building a sitemap document on cache miss.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"kind"},
		),
		SitemapURLCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sitemap_url_count",
				Help: "Number of URL entries in the most recently built document.",
			},
			[]string{"kind"},
		),
		PublishRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publish_runs_total",
				Help: "Publish batch runs by kind and outcome.",
			},
			[]string{"kind", "status"},
		),
		PublishRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "publish_run_duration_seconds",
				Help:    "End-to-end publish batch duration in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		ProductsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "products_published_total",
				Help: "Total products flipped to published across all runs.",
			},
		),
		PublishLockContention: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "publish_lock_contention_total",
				Help: "Publish requests rejected because a run was already in progress.",
			},
		),
		CDNPurgesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdn_purges_total",
				Help: "CDN purge attempts by outcome (ok, failed, skipped).",
			},
			[]string{"status"},
		),
		SearchSyncObjects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_sync_objects_total",
				Help: "Objects pushed to the search index by outcome.",
			},
			[]string{"status"},
		),
		PublishEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publish_events_total",
				Help: "Publish events emitted to the event stream by outcome.",
			},
			[]string{"status"},
		),
		ActivityEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "publishing_activity_entries",
				Help: "Number of entries currently retained in the activity log.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SitemapCacheHits,
		m.SitemapCacheMisses,
		m.SitemapRenderDuration,
		m.SitemapURLCount,
		m.PublishRunsTotal,
		m.PublishRunDuration,
		m.ProductsPublished,
		m.PublishLockContention,
		m.CDNPurgesTotal,
		m.SearchSyncObjects,
		m.PublishEventsTotal,
		m.ActivityEntries,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
