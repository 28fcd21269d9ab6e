// Package search pushes product records to the hosted search index. The
// index is an external collaborator; this client covers only the batch save
// surface the publishing pipeline needs.
package search

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
	"github.com/catalogops/sitemap-publisher/pkg/resilience"
)

// Object is one search record. ObjectID doubles as the upsert key.
type Object struct {
	ObjectID string  `json:"objectID"`
	Slug     string  `json:"slug"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	URL      string  `json:"url"`
}

// SaveResult is the index's acknowledgement of a batch save.
type SaveResult struct {
	TaskID    int64    `json:"taskID"`
	ObjectIDs []string `json:"objectIDs"`
}

// errPermanent marks responses that retrying cannot fix (4xx).
var errPermanent = errors.New("permanent search index error")

// Client is a minimal Algolia-compatible HTTP client. Batch saves retry
// transport failures and 5xx answers with backoff; 4xx answers fail fast.
type Client struct {
	http   *http.Client
	cfg    config.AlgoliaConfig
	logger *slog.Logger
}

// NewClient creates a search index client.
func NewClient(cfg config.AlgoliaConfig) *Client {
	return &Client{
		http:   &http.Client{},
		cfg:    cfg,
		logger: slog.Default().With("component", "search-index"),
	}
}

// Configured reports whether index credentials are present.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// SaveObjects upserts the given objects in one batch call.
func (c *Client) SaveObjects(ctx context.Context, objects []Object) (*SaveResult, error) {
	if !c.Configured() {
		return nil, pkgerrors.ErrMissingEnv
	}
	if len(objects) == 0 {
		return &SaveResult{}, nil
	}

	type batchRequest struct {
		Action string `json:"action"`
		Body   Object `json:"body"`
	}
	payload := struct {
		Requests []batchRequest `json:"requests"`
	}{Requests: make([]batchRequest, len(objects))}
	for i, obj := range objects {
		payload.Requests[i] = batchRequest{Action: "updateObject", Body: obj}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling batch payload: %w", err)
	}

	var result SaveResult
	err = resilience.RetryIf(ctx, "search-save-objects", resilience.RetryConfig{}, func() error {
		return resilience.WithTimeout(ctx, c.cfg.Timeout, "search-save-objects", func(ctx context.Context) error {
			return c.doSave(ctx, body, &result)
		})
	}, func(err error) bool {
		return !errors.Is(err, errPermanent)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrSearchSync, err)
	}

	c.logger.Debug("batch saved", "objects", len(objects), "task_id", result.TaskID)
	return &result, nil
}

func (c *Client) doSave(ctx context.Context, body []byte, result *SaveResult) error {
	url := fmt.Sprintf("%s/1/indexes/%s/batch", c.baseURL(), c.cfg.IndexName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building batch request: %w", err)
	}
	req.Header.Set("X-Algolia-Application-Id", c.cfg.AppID)
	req.Header.Set("X-Algolia-API-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling search index: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading index response: %w", err)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: index answered %d: %s", errPermanent, resp.StatusCode, truncate(data, 200))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("index answered %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding index response: %w", err)
	}
	return nil
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return fmt.Sprintf("https://%s.algolia.net", c.cfg.AppID)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
