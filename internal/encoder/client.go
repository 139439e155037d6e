package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Config configures the HTTP encoder client.
type Config struct {
	// BaseURL is the encoder sidecar's base URL.
	BaseURL string

	// Device is the requested compute device. The client falls back to
	// CPU when the sidecar reports the accelerated device unavailable.
	Device Device

	// BatchSizeVisual is the page-image batch size.
	BatchSizeVisual int

	// BatchSizeText is the chunk batch size.
	BatchSizeText int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// SkipHealthCheck skips the startup probe (used in tests).
	SkipHealthCheck bool
}

// Client talks to the encoder sidecar over HTTP. A single mutex
// serialises embedding calls: the GPU cannot safely host two batches at
// once, and the sidecar makes no attempt to queue.
type Client struct {
	client  *http.Client
	baseURL string
	config  Config
	logger  *slog.Logger

	// callMu is the encoder serialisation lock.
	callMu sync.Mutex

	mu       sync.RWMutex
	device   Device
	degraded bool // logged once when GPU falls back to CPU
	closed   bool
}

var _ Encoder = (*Client)(nil)

// embedRequest is the sidecar's embed API request body. Inputs are file
// paths or raw text; the sidecar shares the worker's filesystem.
type embedRequest struct {
	Kind       string   `json:"kind"` // "pages" | "chunks" | "query"
	ImagePaths []string `json:"image_paths,omitempty"`
	Texts      []string `json:"texts,omitempty"`
	Device     string   `json:"device"`
}

// embedResponse is the sidecar's embed API response body.
type embedResponse struct {
	Embeddings [][][]float32 `json:"embeddings"`
	Dim        int           `json:"dim"`
	Model      string        `json:"model"`
	Device     string        `json:"device"`
	Error      string        `json:"error,omitempty"`
}

// healthResponse is the sidecar's health probe response.
type healthResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// NewClient creates an encoder client and probes the sidecar once to
// settle device selection.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "encoder base URL is required", nil)
	}
	if cfg.Device == "" {
		cfg.Device = DeviceGPU
	}
	if cfg.BatchSizeVisual <= 0 {
		cfg.BatchSizeVisual = DefaultVisualBatchSize
	}
	if cfg.BatchSizeText <= 0 {
		cfg.BatchSizeText = DefaultTextBatchSize
	}
	if cfg.BatchSizeVisual > MaxBatchSize {
		cfg.BatchSizeVisual = MaxBatchSize
	}
	if cfg.BatchSizeText > MaxBatchSize {
		cfg.BatchSizeText = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		config:  cfg,
		logger:  logger.With("component", "encoder"),
		device:  cfg.Device,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := c.probe(checkCtx); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeEncoderUnavailable,
				"encoder sidecar is not reachable", err).
				WithDetail("base_url", c.baseURL).
				WithSuggestion("Start the encoder sidecar or set AMANRAG_ENCODER_URL")
		}
	}

	return c, nil
}

// probe checks sidecar health and downgrades the device when the
// accelerated one is not served. The downgrade is logged once.
func (c *Client) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("encoder health returned %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == DeviceGPU && Device(health.Device) == DeviceCPU {
		if !c.degraded {
			c.logger.Warn("accelerated device unavailable, encoder running on cpu")
			c.degraded = true
		}
		c.device = DeviceCPU
	}
	return nil
}

// Device returns the device the client settled on.
func (c *Client) Device() Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// Available checks if the encoder sidecar is reachable.
func (c *Client) Available(ctx context.Context) bool {
	return c.probe(ctx) == nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// EmbedPages embeds page renders in visual-sized batches.
func (c *Client) EmbedPages(ctx context.Context, imagePaths []string) ([]MultiVector, error) {
	return c.embedBatched(ctx, "pages", imagePaths, c.config.BatchSizeVisual)
}

// EmbedChunks embeds text chunks in text-sized batches.
func (c *Client) EmbedChunks(ctx context.Context, texts []string) ([]MultiVector, error) {
	return c.embedBatched(ctx, "chunks", texts, c.config.BatchSizeText)
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) (MultiVector, error) {
	out, err := c.embedBatched(ctx, "query", []string{text}, 1)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("encoder returned %d embeddings for one query", len(out)), nil)
	}
	return out[0], nil
}

// embedBatched splits inputs into batches and embeds each under the
// serialisation lock. Cancellation is checked between batches only; a
// batch already submitted to the GPU runs to completion.
func (c *Client) embedBatched(ctx context.Context, kind string, inputs []string, batchSize int) ([]MultiVector, error) {
	if len(inputs) == 0 {
		return []MultiVector{}, nil
	}
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}

	results := make([]MultiVector, 0, len(inputs))
	for start := 0; start < len(inputs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + batchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		batch, err := c.embedBatch(ctx, kind, inputs[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// embedBatch runs one batch, retrying once at half size when the
// sidecar reports GPU memory exhaustion.
func (c *Client) embedBatch(ctx context.Context, kind string, inputs []string) ([]MultiVector, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	out, err := c.doEmbed(ctx, kind, inputs)
	if err == nil {
		return out, nil
	}
	if !isOOM(err) || len(inputs) < 2 {
		return nil, err
	}

	// One automatic retry at half batch. A second failure is fatal for
	// the job.
	half := len(inputs) / 2
	c.logger.Warn("encoder out of memory, retrying at half batch",
		slog.String("kind", kind),
		slog.Int("batch", len(inputs)),
		slog.Int("retry_batch", half))

	first, err := c.doEmbed(ctx, kind, inputs[:half])
	if err != nil {
		return nil, fatalOOM(err)
	}
	second, err := c.doEmbed(ctx, kind, inputs[half:])
	if err != nil {
		return nil, fatalOOM(err)
	}
	return append(first, second...), nil
}

// doEmbed performs a single HTTP embed call.
func (c *Client) doEmbed(ctx context.Context, kind string, inputs []string) ([]MultiVector, error) {
	reqBody := embedRequest{Kind: kind, Device: string(c.Device())}
	if kind == "pages" {
		reqBody.ImagePaths = inputs
	} else {
		reqBody.Texts = inputs
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEncoderUnavailable, "encoder request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<30))
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEncoderUnavailable, "reading encoder response failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if oomMarker(msg) {
			return nil, amerrors.New(amerrors.ErrCodeEncoderOOM, "encoder reported out of memory", nil).
				WithDetail("response", truncate(msg, 200))
		}
		return nil, amerrors.New(amerrors.ErrCodeEncoderUnavailable,
			fmt.Sprintf("encoder returned status %d", resp.StatusCode), nil).
			WithDetail("response", truncate(msg, 200))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, "malformed encoder response", err)
	}
	if parsed.Error != "" {
		if oomMarker(parsed.Error) {
			return nil, amerrors.New(amerrors.ErrCodeEncoderOOM, "encoder reported out of memory", nil).
				WithDetail("error", parsed.Error)
		}
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed, parsed.Error, nil)
	}
	if len(parsed.Embeddings) != len(inputs) {
		return nil, amerrors.New(amerrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("encoder returned %d embeddings for %d inputs", len(parsed.Embeddings), len(inputs)), nil)
	}

	out := make([]MultiVector, len(parsed.Embeddings))
	for i, emb := range parsed.Embeddings {
		out[i] = MultiVector(emb)
	}
	return out, nil
}

// isOOM reports whether an error is the retryable GPU memory condition.
func isOOM(err error) bool {
	return amerrors.GetCode(err) == amerrors.ErrCodeEncoderOOM
}

// fatalOOM rewraps a persistent OOM so its fatal severity surfaces
// unchanged while other errors pass through.
func fatalOOM(err error) error {
	if isOOM(err) {
		return amerrors.New(amerrors.ErrCodeEncoderOOM,
			"encoder out of memory after half-batch retry", err)
	}
	return err
}

// oomMarker detects out-of-memory markers in sidecar error strings.
func oomMarker(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "oom")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
