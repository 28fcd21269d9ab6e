package benchmark

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/catalogops/sitemap-publisher/internal/catalog"
	"github.com/catalogops/sitemap-publisher/internal/publish"
	"github.com/catalogops/sitemap-publisher/internal/sitemap"
)

// benchStore hands out the same candidate set on every call so each
// iteration runs an identical batch.
type benchStore struct {
	candidates []catalog.Candidate
}

func newBenchStore(n int) *benchStore {
	s := &benchStore{candidates: make([]catalog.Candidate, n)}
	for i := range s.candidates {
		s.candidates[i] = catalog.Candidate{
			ID:   int64(i + 1),
			Slug: fmt.Sprintf("product-%05d", i+1),
		}
	}
	return s
}

func (s *benchStore) UnpublishedCandidates(ctx context.Context, limit int) ([]catalog.Candidate, error) {
	if limit > len(s.candidates) {
		limit = len(s.candidates)
	}
	return s.candidates[:limit], nil
}

func (s *benchStore) PublishByID(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	return int64(len(ids)), nil
}

func (s *benchStore) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return fn(nil)
}

// BenchmarkPublishBatch measures a full pipeline run (lock, select, update,
// cache clear, activity record) at several batch sizes, without CDN or event
// emission.
func BenchmarkPublishBatch(b *testing.B) {
	sizes := []int{10, 100, 1000}
	for _, size := range sizes {
		b.Run(fmt.Sprintf("batch_%d", size), func(b *testing.B) {
			orch := publish.NewOrchestrator(
				publish.OrchestratorConfig{SiteURL: "https://shop.example.com", DefaultBatchSize: 1000, MaxBatchSize: 5000},
				newBenchStore(size),
				sitemap.NewMemoryCache(time.Hour),
				catalog.NewProductCache(nil),
				nil,
				publish.NewMemoryLog(nil),
				publish.NewLock(),
				nil,
				nil,
			)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				report, err := orch.PublishBatch(ctx, size)
				if err != nil {
					b.Fatal(err)
				}
				_ = report
			}
		})
	}
}

// BenchmarkActivityRecord measures appending to a ledger that is constantly
// rolling past its capacity.
func BenchmarkActivityRecord(b *testing.B) {
	log := publish.NewMemoryLog(nil)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		entry := log.Record(ctx, publish.Entry{
			Type:      publish.KindSitemap,
			Requested: 1000,
			Processed: 250,
			Success:   248,
			Skipped:   2,
			Message:   "published 248 of 250 products",
			Metadata:  map[string]any{"cloudflare_ok": true},
			ErrorItems: []publish.ErrorItem{
				{Slug: "product-1", Message: "timed out", Code: "timeout", Identifier: "product-1"},
			},
		})
		_ = entry
	}
}

// BenchmarkActivityList measures cloning a full ledger, the admin list
// endpoint's hot path.
func BenchmarkActivityList(b *testing.B) {
	log := publish.NewMemoryLog(nil)
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		log.Record(ctx, publish.Entry{
			Type:      publish.KindSitemap,
			Requested: 1000,
			Processed: 250,
			Success:   250,
			Message:   "published 250 of 250 products",
			Metadata:  map[string]any{"cloudflare_ok": true},
		})
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		entries := log.List(ctx)
		_ = entries
	}
}

// BenchmarkLockContention measures the non-blocking acquire under concurrent
// callers racing for the same kind.
func BenchmarkLockContention(b *testing.B) {
	lock := publish.NewLock()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if lock.TryAcquire(publish.KindSitemap) {
				lock.Release(publish.KindSitemap)
			}
		}
	})
}
