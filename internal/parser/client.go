package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Client talks to the parser sidecar over HTTP. The sidecar shares the
// worker's filesystem, so requests and responses carry file paths.
type Client struct {
	client        *http.Client
	baseURL       string
	timeout       time.Duration
	wantStructure bool
	asr           config.ASRConfig
	logger        *slog.Logger
}

// ClientConfig configures the parser client.
type ClientConfig struct {
	BaseURL       string
	Timeout       time.Duration
	WantStructure bool
	ASR           config.ASRConfig
}

// parseRequest is the sidecar's parse API request body.
type parseRequest struct {
	FilePath      string      `json:"file_path"`
	OutputDir     string      `json:"output_dir"`
	WantStructure bool        `json:"want_structure"`
	ASR           *asrOptions `json:"asr,omitempty"`
}

// asrOptions mirrors the ASR settings the transcriber honours.
type asrOptions struct {
	Model          string  `json:"model"`
	Language       string  `json:"language"`
	Device         string  `json:"device"`
	WordTimestamps bool    `json:"word_timestamps"`
	Temperature    float64 `json:"temperature"`
	MaxTimeChunkS  int     `json:"max_time_chunk_s"`
}

// parseResponse is the sidecar's parse API response body. Its shape is
// ParsedDoc minus the router-owned Format field.
type parseResponse struct {
	ParsedDoc
	Error string `json:"error,omitempty"`
}

// NewClient creates a parser client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "parser base URL is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		timeout:       cfg.Timeout,
		wantStructure: cfg.WantStructure,
		asr:           cfg.ASR,
		logger:        logger.With("component", "parser"),
	}, nil
}

// Parse submits one file and returns the sidecar's parse result. The
// caller classifies the format; audio settings are attached only for
// audio files so the sidecar skips loading the ASR model otherwise.
func (c *Client) Parse(ctx context.Context, filePath, outputDir string, format FormatType) (*ParsedDoc, error) {
	reqBody := parseRequest{
		FilePath:      filePath,
		OutputDir:     outputDir,
		WantStructure: c.wantStructure && format == FormatVisual,
	}
	if format == FormatAudio && c.asr.Enabled {
		reqBody.ASR = &asrOptions{
			Model:          c.asr.Model,
			Language:       c.asr.Language,
			Device:         c.asr.Device,
			WordTimestamps: c.asr.WordTimestamps,
			Temperature:    c.asr.Temperature,
			MaxTimeChunkS:  c.asr.MaxTimeChunkS,
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/parse", bytes.NewReader(payload))
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeParserUnavailable, "parser request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<30))
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeParserUnavailable, "reading parser response failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, amerrors.New(amerrors.ErrCodeParseFailed,
			fmt.Sprintf("parser returned status %d", resp.StatusCode), nil).
			WithDetail("response", truncate(string(body), 200)).
			WithDetail("file_path", filePath)
	}

	var parsed parseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeParseFailed, "malformed parser response", err)
	}
	if parsed.Error != "" {
		return nil, amerrors.New(amerrors.ErrCodeParseFailed, parsed.Error, nil).
			WithDetail("file_path", filePath)
	}

	doc := parsed.ParsedDoc
	if doc.MarkdownError != "" {
		// Markdown extraction failure is non-fatal for the document.
		c.logger.Warn("markdown extraction failed",
			slog.String("file_path", filePath),
			slog.String("error", doc.MarkdownError))
	}
	return &doc, nil
}

// Available checks the parser sidecar's health probe.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (c *Client) Close() error {
	if t, ok := c.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
