// Package cdn talks to the Cloudflare cache purge API. Purges are best
// effort from the publishing pipeline's point of view: a failed purge
// degrades the batch report, never the batch itself.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/catalogops/sitemap-publisher/pkg/config"
	pkgerrors "github.com/catalogops/sitemap-publisher/pkg/errors"
	"github.com/catalogops/sitemap-publisher/pkg/metrics"
	"github.com/catalogops/sitemap-publisher/pkg/resilience"
)

// maxFilesPerCall is Cloudflare's cap on purge-by-URL requests; larger sets
// are split into sequential calls.
const maxFilesPerCall = 30

// PurgeResult is the structured sub-report embedded in publish responses.
type PurgeResult struct {
	OK      bool   `json:"ok"`
	Files   int    `json:"files,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Client purges cached URLs from a Cloudflare zone. Calls run under a
// bounded timeout and a circuit breaker so a struggling edge API cannot
// stall or hammer the publish path.
type Client struct {
	http    *http.Client
	cfg     config.CloudflareConfig
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClient creates a purge client. m may be nil.
func NewClient(cfg config.CloudflareConfig, m *metrics.Metrics) *Client {
	c := &Client{
		http:    &http.Client{},
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker("cloudflare-purge", resilience.CircuitBreakerConfig{}),
		metrics: m,
		logger:  slog.Default().With("component", "cdn"),
	}
	if m != nil {
		c.breaker.OnStateChange(func(name string, state resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
		})
	}
	return c
}

// Configured reports whether purge credentials are present. Unconfigured
// clients skip purging rather than failing.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// PurgeFiles removes the given absolute URLs from the zone cache, splitting
// the set into API-sized calls. The returned PurgeResult always describes
// the outcome, also when err is non-nil.
func (c *Client) PurgeFiles(ctx context.Context, files []string) (*PurgeResult, error) {
	if !c.Configured() {
		return &PurgeResult{OK: false, Code: "missing_env"}, pkgerrors.ErrMissingEnv
	}
	if len(files) == 0 {
		return &PurgeResult{OK: true}, nil
	}

	var traceID string
	for start := 0; start < len(files); start += maxFilesPerCall {
		end := start + maxFilesPerCall
		if end > len(files) {
			end = len(files)
		}
		id, err := c.purge(ctx, map[string]any{"files": files[start:end]})
		if err != nil {
			c.observe("failed")
			return &PurgeResult{
				OK:      false,
				Files:   start,
				TraceID: traceID,
				Error:   err.Error(),
				Code:    purgeErrorCode(err),
			}, err
		}
		traceID = id
	}
	c.observe("ok")
	c.logger.Info("cdn purge completed", "files", len(files), "trace_id", traceID)
	return &PurgeResult{OK: true, Files: len(files), TraceID: traceID}, nil
}

// PurgeEverything drops the entire zone cache.
func (c *Client) PurgeEverything(ctx context.Context) (*PurgeResult, error) {
	if !c.Configured() {
		return &PurgeResult{OK: false, Code: "missing_env"}, pkgerrors.ErrMissingEnv
	}
	id, err := c.purge(ctx, map[string]any{"purge_everything": true})
	if err != nil {
		c.observe("failed")
		return &PurgeResult{OK: false, Error: err.Error(), Code: purgeErrorCode(err)}, err
	}
	c.observe("ok")
	c.logger.Info("cdn full purge completed", "trace_id", id)
	return &PurgeResult{OK: true, TraceID: id}, nil
}

// purge issues one purge_cache call and returns Cloudflare's trace id.
func (c *Client) purge(ctx context.Context, payload map[string]any) (string, error) {
	var traceID string
	err := c.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, c.cfg.Timeout, "cdn-purge", func(ctx context.Context) error {
			id, err := c.doPurge(ctx, payload)
			traceID = id
			return err
		})
	})
	return traceID, err
}

func (c *Client) doPurge(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling purge payload: %w", err)
	}
	url := fmt.Sprintf("%s/client/v4/zones/%s/purge_cache", c.cfg.BaseURL, c.cfg.ZoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building purge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling purge api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading purge response: %w", err)
	}

	var parsed struct {
		Success bool `json:"success"`
		Errors  []struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"errors"`
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		// Edge errors arrive as HTML, not API JSON.
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("%w: undecodable response (status %d)", pkgerrors.ErrPurgeFailed, resp.StatusCode)
		}
		return "", fmt.Errorf("decoding purge response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed.Success {
		msg := "purge rejected"
		if len(parsed.Errors) > 0 {
			msg = fmt.Sprintf("purge rejected: %d %s", parsed.Errors[0].Code, parsed.Errors[0].Message)
		}
		return "", fmt.Errorf("%w: %s (status %d)", pkgerrors.ErrPurgeFailed, msg, resp.StatusCode)
	}
	return parsed.Result.ID, nil
}

// purgeErrorCode distinguishes timeouts from other purge failures so callers
// can tell retry-worthy conditions apart.
func purgeErrorCode(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "purge_failed"
}

func (c *Client) observe(status string) {
	if c.metrics != nil {
		c.metrics.CDNPurgesTotal.WithLabelValues(status).Inc()
	}
}
