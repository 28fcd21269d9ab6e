package publish

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/cdn"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
	pkgerrors "github.com/catalogops/sitemap-publisher/pkg/errors"
	"github.com/catalogops/sitemap-publisher/pkg/kafka"
	"github.com/catalogops/sitemap-publisher/pkg/logger"
	"github.com/catalogops/sitemap-publisher/pkg/metrics"
	"github.com/catalogops/sitemap-publisher/pkg/middleware"
	"github.com/catalogops/sitemap-publisher/pkg/tracing"
)

// CatalogStore is the catalog slice the orchestrator mutates.
type CatalogStore interface {
	UnpublishedCandidates(ctx context.Context, limit int) ([]catalog.Candidate, error)
	PublishByID(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error)
	InTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// Purger is the CDN purge surface consumed by the pipeline.
type Purger interface {
	Configured() bool
	PurgeFiles(ctx context.Context, files []string) (*cdn.PurgeResult, error)
}

// EventSink receives best-effort publish events. A nil sink disables
// emission entirely.
type EventSink interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Report is the JSON envelope returned by the admin publish endpoints.
type Report struct {
	OK         bool             `json:"ok"`
	Requested  int              `json:"requested"`
	Processed  int              `json:"processed"`
	Success    int              `json:"success"`
	Skipped    int              `json:"skipped"`
	Errors     int              `json:"errors"`
	DurationMS int64            `json:"duration_ms"`
	FinishedAt string           `json:"finished_at"`
	Message    string           `json:"message"`
	Slugs      []string         `json:"slugs,omitempty"`
	Cloudflare *cdn.PurgeResult `json:"cloudflare,omitempty"`
	ActivityID string           `json:"activity_id,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
}

// OrchestratorConfig carries the tunables of the publish pipeline.
type OrchestratorConfig struct {
	SiteURL          string
	DefaultBatchSize int
	MaxBatchSize     int
}

// Orchestrator runs the sitemap publish batch: select unpublished products,
// flip them inside a transaction, invalidate caches, purge the CDN, record
// the run. One run at a time per kind, enforced by the Lock.
type Orchestrator struct {
	cfg      OrchestratorConfig
	store    CatalogStore
	cache    sitemap.Cache
	products *catalog.ProductCache
	purger   Purger
	activity ActivityLog
	lock     *Lock
	events   EventSink
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewOrchestrator wires the publish pipeline. events and m may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	store CatalogStore,
	cache sitemap.Cache,
	products *catalog.ProductCache,
	purger Purger,
	activity ActivityLog,
	lock *Lock,
	events EventSink,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		cache:    cache,
		products: products,
		purger:   purger,
		activity: activity,
		lock:     lock,
		events:   events,
		metrics:  m,
		logger:   slog.Default().With("component", "publish-orchestrator"),
	}
}

// PublishBatch executes one run. The returned Report is always usable; err
// carries the sentinel for HTTP status mapping when the run was rejected or
// failed.
func (o *Orchestrator) PublishBatch(ctx context.Context, requested int) (*Report, error) {
	size := o.clampBatchSize(requested)

	if !o.lock.TryAcquire(KindSitemap) {
		o.observeContention()
		return &Report{
			OK:         false,
			Requested:  size,
			FinishedAt: time.Now().UTC().Format(time.RFC3339),
			Message:    "a publishing job is already in progress",
			ErrorCode:  "job_in_progress",
		}, pkgerrors.ErrJobInProgress
	}
	defer o.lock.Release(KindSitemap)

	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "publish-batch", middleware.GetRequestID(ctx))
	defer func() {
		span.End()
		span.Log()
	}()
	span.SetAttr("requested", size)
	log := logger.FromContext(ctx)

	selectCtx, selectSpan := tracing.StartChildSpan(ctx, "select-candidates")
	candidates, err := o.store.UnpublishedCandidates(selectCtx, size)
	selectSpan.End()
	if err != nil {
		return o.fail(ctx, size, 0, start, fmt.Errorf("%w: selecting candidates: %s", pkgerrors.ErrSQL, err))
	}

	processed := len(candidates)
	span.SetAttr("processed", processed)
	if processed == 0 {
		entry := o.activity.Record(ctx, Entry{
			Type:       KindSitemap,
			Requested:  size,
			DurationMS: time.Since(start).Milliseconds(),
			Message:    "no pending products",
		})
		o.observeRun(KindSitemap, "completed", time.Since(start))
		log.Info("publish batch finished", "requested", size, "processed", 0)
		return &Report{
			OK:         true,
			Requested:  size,
			DurationMS: entry.DurationMS,
			FinishedAt: entry.FinishedAt,
			Message:    "no pending products",
			ActivityID: entry.ID,
		}, nil
	}

	ids := make([]int64, processed)
	slugs := make([]string, processed)
	for i, c := range candidates {
		ids[i] = c.ID
		slugs[i] = c.Slug
	}

	// The transaction wraps only the update; the candidate select above runs
	// outside it. The Lock already rules out overlapping runs, so rows
	// changing between select and update surface as skips, not errors.
	var affected int64
	updateCtx, updateSpan := tracing.StartChildSpan(ctx, "bulk-update")
	err = o.store.InTx(updateCtx, func(tx *sql.Tx) error {
		n, err := o.store.PublishByID(updateCtx, tx, ids)
		affected = n
		return err
	})
	updateSpan.End()
	if err != nil {
		return o.fail(ctx, size, processed, start, fmt.Errorf("%w: publishing batch: %s", pkgerrors.ErrSQL, err))
	}

	success := int(affected)
	skipped := processed - success
	span.SetAttr("success", success)

	// Post-commit invalidation is unconditional, even for an all-skip batch:
	// the select proved the pre-update state was stale-prone.
	o.cache.Clear(ctx)
	if err := o.products.Invalidate(ctx, slugs...); err != nil {
		log.Warn("product cache invalidation failed", "error", err)
	}

	errCount := 0
	var purge *cdn.PurgeResult
	if o.purger != nil && o.purger.Configured() {
		purgeCtx, purgeSpan := tracing.StartChildSpan(ctx, "cdn-purge")
		purge, err = o.purger.PurgeFiles(purgeCtx, o.purgeTargets(slugs))
		purgeSpan.End()
		if err != nil {
			// Soft-fail: the publish is committed, the purge outcome only
			// degrades the report.
			errCount++
			log.Warn("cdn purge failed", "error", err)
		}
	} else {
		o.observePurgeSkipped()
	}

	o.emitEvents(ctx, slugs, success)

	message := fmt.Sprintf("published %d of %d products", success, processed)
	entry := o.activity.Record(ctx, Entry{
		Type:       KindSitemap,
		Requested:  size,
		Processed:  processed,
		Success:    success,
		Skipped:    skipped,
		Errors:     errCount,
		DurationMS: time.Since(start).Milliseconds(),
		Message:    message,
		Metadata:   purgeMetadata(purge),
	})

	o.observeRun(KindSitemap, "completed", time.Since(start))
	o.observePublished(success)
	log.Info("publish batch finished",
		"requested", size,
		"processed", processed,
		"success", success,
		"skipped", skipped,
		"errors", errCount,
		"activity_id", entry.ID,
	)

	return &Report{
		OK:         true,
		Requested:  size,
		Processed:  processed,
		Success:    success,
		Skipped:    skipped,
		Errors:     errCount,
		DurationMS: entry.DurationMS,
		FinishedAt: entry.FinishedAt,
		Message:    message,
		Slugs:      slugs,
		Cloudflare: purge,
		ActivityID: entry.ID,
	}, nil
}

// fail records a failure entry and builds the matching error report.
func (o *Orchestrator) fail(ctx context.Context, size, processed int, start time.Time, err error) (*Report, error) {
	logger.FromContext(ctx).Error("publish batch failed", "requested", size, "processed", processed, "error", err)
	entry := o.activity.Record(ctx, Entry{
		Type:       KindSitemap,
		Requested:  size,
		Processed:  processed,
		Errors:     1,
		DurationMS: time.Since(start).Milliseconds(),
		Message:    err.Error(),
	})
	o.observeRun(KindSitemap, "failed", time.Since(start))
	return &Report{
		OK:         false,
		Requested:  size,
		Processed:  processed,
		Errors:     1,
		DurationMS: entry.DurationMS,
		FinishedAt: entry.FinishedAt,
		Message:    err.Error(),
		ActivityID: entry.ID,
		ErrorCode:  pkgerrors.Code(err),
	}, err
}

func (o *Orchestrator) clampBatchSize(requested int) int {
	if requested <= 0 {
		return o.cfg.DefaultBatchSize
	}
	if requested > o.cfg.MaxBatchSize {
		return o.cfg.MaxBatchSize
	}
	return requested
}

// purgeTargets lists the URLs whose cached copies went stale: the sitemap
// index plus every product page in the batch.
func (o *Orchestrator) purgeTargets(slugs []string) []string {
	files := make([]string, 0, len(slugs)+1)
	files = append(files, o.cfg.SiteURL+"/sitemap.xml")
	for _, slug := range slugs {
		files = append(files, o.cfg.SiteURL+"/products/"+slug)
	}
	return files
}

// emitEvents streams one event per product plus a run summary. Emission is
// best effort; the stream is informational.
func (o *Orchestrator) emitEvents(ctx context.Context, slugs []string, success int) {
	if o.events == nil {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	events := make([]kafka.Event, len(slugs))
	for i, slug := range slugs {
		events[i] = kafka.Event{
			Key: slug,
			Value: map[string]any{
				"type":         "product.published",
				"slug":         slug,
				"published_at": now,
			},
		}
	}
	if err := o.events.PublishBatch(ctx, events); err != nil {
		o.observeEvents("failed")
		o.logger.Warn("publish events not emitted", "count", len(events), "error", err)
		return
	}
	summary := kafka.Event{
		Key: "publish-run",
		Value: map[string]any{
			"type":        "publish.completed",
			"success":     success,
			"batch_size":  len(slugs),
			"finished_at": now,
		},
	}
	if err := o.events.Publish(ctx, summary); err != nil {
		o.observeEvents("failed")
		o.logger.Warn("publish summary event not emitted", "error", err)
		return
	}
	o.observeEvents("ok")
}

func purgeMetadata(purge *cdn.PurgeResult) map[string]any {
	if purge == nil {
		return nil
	}
	meta := map[string]any{"cloudflare_ok": purge.OK}
	if purge.TraceID != "" {
		meta["cloudflare_trace_id"] = purge.TraceID
	}
	if purge.Error != "" {
		meta["cloudflare_error"] = purge.Error
	}
	return meta
}

func (o *Orchestrator) observeRun(kind, status string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.PublishRunsTotal.WithLabelValues(kind, status).Inc()
		o.metrics.PublishRunDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (o *Orchestrator) observePublished(n int) {
	if o.metrics != nil && n > 0 {
		o.metrics.ProductsPublished.Add(float64(n))
	}
}

func (o *Orchestrator) observeContention() {
	if o.metrics != nil {
		o.metrics.PublishLockContention.Inc()
	}
}

func (o *Orchestrator) observePurgeSkipped() {
	if o.metrics != nil {
		o.metrics.CDNPurgesTotal.WithLabelValues("skipped").Inc()
	}
}

func (o *Orchestrator) observeEvents(status string) {
	if o.metrics != nil {
		o.metrics.PublishEventsTotal.WithLabelValues(status).Inc()
	}
}
