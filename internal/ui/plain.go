package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// PlainRenderer outputs plain text updates (for CI/pipes).
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	conn    ConnState
	queue   QueueSnapshot
	started bool
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
		conn:    ConnConnecting,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateJob implements Renderer.
func (r *PlainRenderer) UpdateJob(job JobUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Format: [STAGE] filename 60% - message
	switch {
	case job.Stage == "completed":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", StageIcon(job.Stage), job.Filename)
	case job.Failed():
		msg := job.Message
		if msg == "" {
			msg = "processing failed"
		}
		_, _ = fmt.Fprintf(r.out, "[%s] %s - %s\n", StageIcon(job.Stage), job.Filename, msg)
	case job.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s %d%% - %s\n", StageIcon(job.Stage), job.Filename, job.Progress, job.Message)
	default:
		_, _ = fmt.Fprintf(r.out, "[%s] %s %d%%\n", StageIcon(job.Stage), job.Filename, job.Progress)
	}
}

// UpdateQueue implements Renderer. Counters are only printed when they
// change so piped output stays readable.
func (r *PlainRenderer) UpdateQueue(queue QueueSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started && queue == r.queue {
		return
	}
	r.queue = queue
	r.started = true

	_, _ = fmt.Fprintf(r.out, "queue: active=%d queued=%d completed=%d failed=%d\n",
		queue.Active, queue.Queued, queue.Completed, queue.Failed)
}

// SetConnState implements Renderer.
func (r *PlainRenderer) SetConnState(state ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state == r.conn {
		return
	}
	r.conn = state
	_, _ = fmt.Fprintf(r.out, "stream: %s\n", state)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
