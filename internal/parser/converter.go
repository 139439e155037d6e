package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Converter talks to the legacy Office converter sidecar, which turns
// .doc/.dot files into .docx for the parser.
type Converter struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
}

// ConverterConfig configures the converter client.
type ConverterConfig struct {
	BaseURL string
	Timeout time.Duration
}

type convertRequest struct {
	FilePath  string `json:"file_path"`
	OutputDir string `json:"output_dir"`
}

type convertResponse struct {
	OutputPath string `json:"output_path"`
	Error      string `json:"error,omitempty"`
}

// NewConverter creates a converter client.
func NewConverter(cfg ConverterConfig) (*Converter, error) {
	if cfg.BaseURL == "" {
		return nil, amerrors.New(amerrors.ErrCodeConfigInvalid, "converter base URL is required", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Converter{
		client:  &http.Client{},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
	}, nil
}

// Convert submits one legacy Office file and returns the converted
// .docx path under outputDir.
func (c *Converter) Convert(ctx context.Context, filePath, outputDir string) (string, error) {
	payload, err := json.Marshal(convertRequest{FilePath: filePath, OutputDir: outputDir})
	if err != nil {
		return "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(payload))
	if err != nil {
		return "", amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeConverterUnavailable, "converter request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeConverterUnavailable, "reading converter response failed", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", amerrors.New(amerrors.ErrCodeParseFailed,
			fmt.Sprintf("converter returned status %d", resp.StatusCode), nil).
			WithDetail("response", truncate(string(body), 200)).
			WithDetail("file_path", filePath)
	}

	var parsed convertResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", amerrors.New(amerrors.ErrCodeParseFailed, "malformed converter response", err)
	}
	if parsed.Error != "" {
		return "", amerrors.New(amerrors.ErrCodeParseFailed, parsed.Error, nil).
			WithDetail("file_path", filePath)
	}
	if parsed.OutputPath == "" {
		return "", amerrors.New(amerrors.ErrCodeParseFailed, "converter returned no output path", nil)
	}
	return parsed.OutputPath, nil
}

// Available checks the converter sidecar's health probe.
func (c *Converter) Available(ctx context.Context) bool {
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
