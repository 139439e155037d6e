// Package client is the Go client for the AmanRAG server: a typed REST
// client for the search, research, document and status surfaces, plus a
// reconnecting WebSocket subscriber for the live event stream.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 60 * time.Second

// APIError is a non-2xx reply decoded from the server's error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	Suggestion string
	Details    map[string]string
	// RetryAfter is the parsed Retry-After header in seconds, when sent.
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 reply.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether err is a reply the server marked retryable.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger attaches a logger for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client talks to one AmanRAG server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health probes GET /health. A degraded server answers 503 with a
// body; that body is still returned alongside the error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
			out.Status = "degraded"
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// Search runs a hybrid search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.do(ctx, http.MethodPost, "/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Research asks the citation-enforcing research endpoint.
func (c *Client) Research(ctx context.Context, req ResearchRequest) (*ResearchResult, error) {
	var out ResearchResult
	if err := c.do(ctx, http.MethodPost, "/api/research/ask", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Document fetches a document's metadata.
func (c *Client) Document(ctx context.Context, docID string) (*DocumentMetadata, error) {
	var out DocumentMetadata
	path := "/documents/" + url.PathEscape(docID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a document end to end and returns the
// per-stage report.
func (c *Client) DeleteDocument(ctx context.Context, docID string) (*DeletionReport, error) {
	var out DeletionReport
	path := "/documents/" + url.PathEscape(docID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Markdown fetches a document's markdown sidecar. With markers, chunk
// boundary comments are inlined for viewer highlighting.
func (c *Client) Markdown(ctx context.Context, docID string, includeMarkers bool) (*Markdown, error) {
	var out Markdown
	path := "/documents/" + url.PathEscape(docID) + "/markdown"
	if includeMarkers {
		path += "?include_markers=true"
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PageStructure fetches a page's layout payload. The shape follows the
// structure metadata schema; callers decode the parts they need.
func (c *Client) PageStructure(ctx context.Context, docID string, page int) (json.RawMessage, error) {
	var out json.RawMessage
	path := fmt.Sprintf("/documents/%s/pages/%d/structure", url.PathEscape(docID), page)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chunk fetches one chunk record.
func (c *Client) Chunk(ctx context.Context, docID, chunkID string) (json.RawMessage, error) {
	var out json.RawMessage
	path := "/documents/" + url.PathEscape(docID) + "/chunks/" + url.PathEscape(chunkID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches queue statistics, job snapshots and metric summaries.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelJob cancels a queued or running ingestion job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}

// PresignUpload requests a presigned PUT URL for a direct upload.
func (c *Client) PresignUpload(ctx context.Context, filename, contentType string, size int64) (*PresignedUpload, error) {
	req := map[string]any{
		"filename":    filename,
		"contentType": contentType,
		"size":        size,
	}
	var out PresignedUpload
	if err := c.do(ctx, http.MethodPost, "/upload/presign", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one request and decodes the reply into out (when non-nil).
// Non-2xx replies decode into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("request complete",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
		var eb struct {
			Error      string            `json:"error"`
			Code       string            `json:"code"`
			Retryable  bool              `json:"retryable"`
			Suggestion string            `json:"suggestion"`
			Details    map[string]string `json:"details"`
		}
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			apiErr.Message = eb.Error
			apiErr.Code = eb.Code
			apiErr.Retryable = eb.Retryable
			apiErr.Suggestion = eb.Suggestion
			apiErr.Details = eb.Details
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if n, convErr := strconv.Atoi(ra); convErr == nil {
				apiErr.RetryAfter = n
			}
		}
		// Degraded health still carries a decodable body.
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
