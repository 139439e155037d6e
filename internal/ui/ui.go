// Package ui provides terminal UI components for live job monitoring
// and status display.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// ConnState describes the WebSocket connection to the server.
type ConnState int

const (
	// ConnConnecting means the first dial has not succeeded yet.
	ConnConnecting ConnState = iota
	// ConnConnected means the event stream is live.
	ConnConnected
	// ConnReconnecting means the stream dropped and is being redialed.
	ConnReconnecting
)

// String returns the human-readable connection state.
func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StageLabel returns a short display label for a pipeline stage.
func StageLabel(stage string) string {
	switch stage {
	case "queued":
		return "Queued"
	case "parsing":
		return "Parse"
	case "embedding_visual":
		return "Embed-V"
	case "embedding_text":
		return "Embed-T"
	case "storing":
		return "Store"
	case "emitting_structure":
		return "Structure"
	case "completed":
		return "Done"
	case "failed":
		return "Failed"
	default:
		return stage
	}
}

// StageIcon returns the short stage icon for plain text output.
func StageIcon(stage string) string {
	switch stage {
	case "queued":
		return "QUEUE"
	case "parsing":
		return "PARSE"
	case "embedding_visual", "embedding_text":
		return "EMBED"
	case "storing":
		return "STORE"
	case "emitting_structure":
		return "STRUCT"
	case "completed":
		return "DONE"
	case "failed":
		return "FAIL"
	default:
		return "???"
	}
}

// stageDone reports whether a stage is terminal.
func stageDone(stage string) bool {
	return stage == "completed" || stage == "failed"
}

// JobUpdate represents a processing update for one document.
type JobUpdate struct {
	DocID    string    `json:"doc_id"`
	Filename string    `json:"filename"`
	Stage    string    `json:"stage"`
	Progress int       `json:"progress"` // 0-100
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at,omitempty"`
}

// Failed reports whether the job ended in failure.
func (j JobUpdate) Failed() bool {
	return j.Stage == "failed"
}

// QueueSnapshot is a point-in-time view of the processing queue.
type QueueSnapshot struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Renderer defines the interface for live status display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateJob records a processing update for a document.
	UpdateJob(job JobUpdate)

	// UpdateQueue records new queue counters.
	UpdateQueue(queue QueueSnapshot)

	// SetConnState records the event stream connection state.
	SetConnState(state ConnState)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	ServerURL  string // Server address to display in header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithServerURL sets the server address to display in the header.
func WithServerURL(url string) ConfigOption {
	return func(c *Config) {
		c.ServerURL = url
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output:     output,
		ForcePlain: false,
		NoColor:    false,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// It returns a TUI renderer for interactive terminals, and a plain text
// renderer for CI environments, pipes, or when --no-tui is specified.
func NewRenderer(cfg Config) Renderer {
	// Force plain mode if requested
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}

	// Use plain mode for non-TTY outputs
	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}

	// Use plain mode in CI environments
	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	// Try TUI mode, fall back to plain on failure
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}

	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	// Check if it's a file that's a terminal
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
