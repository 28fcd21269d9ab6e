package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/search"
	pkgerrors "github.com/catalogops/sitemap-publisher/pkg/errors"
	"github.com/catalogops/sitemap-publisher/pkg/logger"
	"github.com/catalogops/sitemap-publisher/pkg/metrics"
)

// syncBatchSize is the number of products pushed per index call. Index
// batches are far smaller than sitemap chunks; the index API prefers many
// medium batches over one huge payload.
const syncBatchSize = 1000

// SyncSource is the catalog slice the search sync reads.
type SyncSource interface {
	CollectProducts(ctx context.Context, pageSize int) ([][]catalog.Product, int, error)
}

// Index is the search-index surface consumed by the sync.
type Index interface {
	Configured() bool
	SaveObjects(ctx context.Context, objects []search.Object) (*search.SaveResult, error)
}

// Syncer mirrors the published catalog into the search index. It shares the
// publishing lock under its own kind, so a sync and a sitemap batch may
// overlap but two syncs may not.
type Syncer struct {
	siteURL  string
	store    SyncSource
	index    Index
	activity ActivityLog
	lock     *Lock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSyncer wires the search sync. m may be nil.
func NewSyncer(siteURL string, store SyncSource, index Index, activity ActivityLog, lock *Lock, m *metrics.Metrics) *Syncer {
	return &Syncer{
		siteURL:  siteURL,
		store:    store,
		index:    index,
		activity: activity,
		lock:     lock,
		metrics:  m,
		logger:   slog.Default().With("component", "search-sync"),
	}
}

// Sync pushes every published product to the index. Failed batches are
// reported per object and do not stop the remaining batches.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	if s.index == nil || !s.index.Configured() {
		return &Report{
			OK:         false,
			FinishedAt: time.Now().UTC().Format(time.RFC3339),
			Message:    "search index credentials are not configured",
			ErrorCode:  "missing_env",
		}, pkgerrors.ErrMissingEnv
	}

	if !s.lock.TryAcquire(KindAlgolia) {
		s.observeContention()
		return &Report{
			OK:         false,
			FinishedAt: time.Now().UTC().Format(time.RFC3339),
			Message:    "a search sync is already in progress",
			ErrorCode:  "job_in_progress",
		}, pkgerrors.ErrJobInProgress
	}
	defer s.lock.Release(KindAlgolia)

	start := time.Now()
	log := logger.FromContext(ctx)

	pages, total, err := s.store.CollectProducts(ctx, syncBatchSize)
	if err != nil {
		return s.fail(ctx, start, fmt.Errorf("%w: collecting products for sync: %s", pkgerrors.ErrSQL, err))
	}

	var (
		success    int
		errorItems []ErrorItem
	)
	for _, page := range pages {
		objects := s.toObjects(page)
		if _, err := s.index.SaveObjects(ctx, objects); err != nil {
			log.Warn("index batch failed", "objects", len(objects), "error", err)
			code := saveErrorCode(err)
			for _, obj := range objects {
				errorItems = append(errorItems, ErrorItem{
					Slug:       obj.Slug,
					Message:    err.Error(),
					Code:       code,
					Identifier: obj.ObjectID,
				})
			}
			s.observeObjects("failed", len(objects))
			continue
		}
		success += len(objects)
		s.observeObjects("ok", len(objects))
	}

	message := fmt.Sprintf("synced %d of %d products", success, total)
	entry := s.activity.Record(ctx, Entry{
		Type:       KindAlgolia,
		Requested:  total,
		Processed:  total,
		Success:    success,
		Errors:     len(errorItems),
		DurationMS: time.Since(start).Milliseconds(),
		Message:    message,
		ErrorItems: errorItems,
	})

	report := &Report{
		OK:         true,
		Requested:  total,
		Processed:  total,
		Success:    success,
		Errors:     len(errorItems),
		DurationMS: entry.DurationMS,
		FinishedAt: entry.FinishedAt,
		Message:    message,
		ActivityID: entry.ID,
	}
	log.Info("search sync finished", "total", total, "success", success, "errors", len(errorItems), "activity_id", entry.ID)

	if success == 0 && len(errorItems) > 0 {
		s.observeRun("failed", time.Since(start))
		report.OK = false
		report.ErrorCode = "search_sync_failed"
		return report, pkgerrors.ErrSearchSync
	}
	s.observeRun("completed", time.Since(start))
	return report, nil
}

func (s *Syncer) fail(ctx context.Context, start time.Time, err error) (*Report, error) {
	logger.FromContext(ctx).Error("search sync failed", "error", err)
	entry := s.activity.Record(ctx, Entry{
		Type:       KindAlgolia,
		Errors:     1,
		DurationMS: time.Since(start).Milliseconds(),
		Message:    err.Error(),
	})
	s.observeRun("failed", time.Since(start))
	return &Report{
		OK:         false,
		Errors:     1,
		DurationMS: entry.DurationMS,
		FinishedAt: entry.FinishedAt,
		Message:    err.Error(),
		ActivityID: entry.ID,
		ErrorCode:  pkgerrors.Code(err),
	}, err
}

func (s *Syncer) toObjects(products []catalog.Product) []search.Object {
	objects := make([]search.Object, len(products))
	for i, p := range products {
		objects[i] = search.Object{
			ObjectID: p.Slug,
			Slug:     p.Slug,
			Name:     p.Name,
			Category: p.Category,
			Price:    p.Price,
			URL:      s.siteURL + "/products/" + p.Slug,
		}
	}
	return objects
}

// saveErrorCode keeps timeouts distinguishable from other index failures in
// the per-object error rows.
func saveErrorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return pkgerrors.Code(err)
}

func (s *Syncer) observeRun(status string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.PublishRunsTotal.WithLabelValues(KindAlgolia, status).Inc()
		s.metrics.PublishRunDuration.WithLabelValues(KindAlgolia).Observe(d.Seconds())
	}
}

func (s *Syncer) observeObjects(status string, n int) {
	if s.metrics != nil {
		s.metrics.SearchSyncObjects.WithLabelValues(status).Add(float64(n))
	}
}

func (s *Syncer) observeContention() {
	if s.metrics != nil {
		s.metrics.PublishLockContention.Inc()
	}
}
