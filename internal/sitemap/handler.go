package sitemap

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/catalogops/sitemap-publisher/pkg/errors"
	"github.com/catalogops/sitemap-publisher/pkg/logger"
)

// Handler serves the public sitemap surface. Every successful response is
// cacheable by intermediaries for the same window the server-side cache uses.
type Handler struct {
	builder *Builder
	maxAge  int
	logger  *slog.Logger
}

// NewHandler creates a Handler. ttl controls the Cache-Control max-age.
func NewHandler(builder *Builder, ttl time.Duration) *Handler {
	return &Handler{
		builder: builder,
		maxAge:  int(ttl.Seconds()),
		logger:  slog.Default().With("component", "sitemap-handler"),
	}
}

// Index handles GET /sitemap.xml.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	xml, err := h.builder.Index(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeXML(w, xml)
}

// Chunk handles GET /sitemaps/{file} and dispatches on the file name:
// static.xml, blog-categories.xml, sitemap-N.xml, or blog-N.xml. Anything
// else is a 404, the same answer as a numbered page past the end.
func (h *Handler) Chunk(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")

	var (
		xml string
		err error
	)
	switch {
	case file == "static.xml":
		xml, err = h.builder.Static(r.Context())
	case file == "blog-categories.xml":
		xml, err = h.builder.BlogCategories(r.Context())
	case strings.HasPrefix(file, "sitemap-"):
		page, ok := chunkNumber(file, "sitemap-")
		if !ok {
			h.writeNotFound(w)
			return
		}
		xml, err = h.builder.ProductChunk(r.Context(), page)
	case strings.HasPrefix(file, "blog-"):
		page, ok := chunkNumber(file, "blog-")
		if !ok {
			h.writeNotFound(w)
			return
		}
		xml, err = h.builder.BlogChunk(r.Context(), page)
	default:
		h.writeNotFound(w)
		return
	}

	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	h.writeXML(w, xml)
}

// chunkNumber extracts the 1-based page number from names like
// "sitemap-3.xml".
func chunkNumber(file, prefix string) (int, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(file, prefix), ".xml")
	if raw == "" || !strings.HasSuffix(file, ".xml") {
		return 0, false
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, false
	}
	return page, true
}

func (h *Handler) writeXML(w http.ResponseWriter, xml string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.maxAge))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(xml)); err != nil {
		h.logger.Error("failed to write sitemap response", "error", err)
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, pkgerrors.ErrNotFound) {
		h.writeNotFound(w)
		return
	}
	logger.FromContext(r.Context()).Error("sitemap build failed", "path", r.URL.Path, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	if _, werr := w.Write([]byte(`{"error":"sitemap_error"}`)); werr != nil {
		h.logger.Error("failed to write error response", "error", werr)
	}
}

func (h *Handler) writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if _, err := w.Write([]byte("Not Found")); err != nil {
		h.logger.Error("failed to write not-found response", "error", err)
	}
}
