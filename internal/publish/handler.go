package publish

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/catalogops/sitemap-publisher/internal/cdn"
	pkgerrors "github.com/catalogops/sitemap-publisher/pkg/errors"
	"github.com/catalogops/sitemap-publisher/pkg/logger"
)

// FullPurger is the full-zone purge surface used by the manual admin action.
type FullPurger interface {
	Configured() bool
	PurgeEverything(ctx context.Context) (*cdn.PurgeResult, error)
}

// Handler serves the admin publishing API: batch runs, search sync, the
// activity ledger, and the manual CDN purge.
type Handler struct {
	orchestrator *Orchestrator
	syncer       *Syncer
	activity     ActivityLog
	purger       FullPurger
	logger       *slog.Logger
}

// NewHandler creates the admin handler. syncer and purger may be nil when
// the matching credentials are absent.
func NewHandler(orchestrator *Orchestrator, syncer *Syncer, activity ActivityLog, purger FullPurger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		syncer:       syncer,
		activity:     activity,
		purger:       purger,
		logger:       slog.Default().With("component", "publish-handler"),
	}
}

type publishRequest struct {
	BatchSize *int `json:"batchSize"`
}

// PublishSitemap handles POST /api/admin/publishing/sitemap. The body is an
// optional JSON object carrying batchSize; a missing or unusable body falls
// back to the default batch size.
func (h *Handler) PublishSitemap(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.FromContext(r.Context()).Warn("unusable publish body, using default batch size", "error", err)
	}
	batchSize := 0
	if req.BatchSize != nil {
		batchSize = *req.BatchSize
	}

	report, err := h.orchestrator.PublishBatch(r.Context(), batchSize)
	h.writeReport(w, report, err)
}

// SyncAlgolia handles POST /api/admin/publishing/algolia.
func (h *Handler) SyncAlgolia(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		h.writeErrorCode(w, http.StatusServiceUnavailable, "missing_env", "search index credentials are not configured")
		return
	}
	report, err := h.syncer.Sync(r.Context())
	h.writeReport(w, report, err)
}

// ListActivity handles GET /api/admin/publishing/activity, newest first.
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	entries := h.activity.List(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"entries": entries,
	})
}

// GetActivity handles GET /api/admin/publishing/activity/{id}.
func (h *Handler) GetActivity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := h.activity.Get(r.Context(), id)
	if !ok {
		h.writeErrorCode(w, http.StatusNotFound, "not_found", fmt.Sprintf("no activity entry %q", id))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"entry": entry,
	})
}

// ExportErrors handles GET /api/admin/publishing/activity/{id}/errors.csv,
// one row per failed object of the run.
func (h *Handler) ExportErrors(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok := h.activity.Get(r.Context(), id)
	if !ok {
		h.writeErrorCode(w, http.StatusNotFound, "not_found", fmt.Sprintf("no activity entry %q", id))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "publishing-errors-"+entry.ID+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"slug", "message", "code", "identifier"})
	for _, item := range entry.ErrorItems {
		_ = cw.Write([]string{item.Slug, item.Message, item.Code, item.Identifier})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Error("csv export failed", "activity_id", id, "error", err)
	}
}

// ClearActivity handles DELETE /api/admin/publishing/activity.
func (h *Handler) ClearActivity(w http.ResponseWriter, r *http.Request) {
	h.activity.Clear(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// PurgeAll handles POST /api/admin/cdn/purge-all, dropping the entire zone
// cache outside any publish run.
func (h *Handler) PurgeAll(w http.ResponseWriter, r *http.Request) {
	if h.purger == nil || !h.purger.Configured() {
		h.writeErrorCode(w, http.StatusServiceUnavailable, "missing_env", "cdn credentials are not configured")
		return
	}
	result, err := h.purger.PurgeEverything(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("full purge failed", "error", err)
		h.writeJSON(w, pkgerrors.HTTPStatusCode(err), map[string]any{
			"ok":         false,
			"error_code": result.Code,
			"message":    result.Error,
			"cloudflare": result,
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"cloudflare": result,
	})
}

// writeReport writes a run report with the status derived from err.
func (h *Handler) writeReport(w http.ResponseWriter, report *Report, err error) {
	status := http.StatusOK
	if err != nil {
		status = pkgerrors.HTTPStatusCode(err)
	}
	h.writeJSON(w, status, report)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]any{
		"ok":         false,
		"error_code": code,
		"message":    message,
	})
}
