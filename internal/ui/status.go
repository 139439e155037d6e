package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// StageTiming is a per-stage latency aggregate for display.
type StageTiming struct {
	Stage string  `json:"stage"`
	Count int64   `json:"count"`
	AvgMS float64 `json:"avg_ms"`
}

// StatusInfo contains server health and queue information for the
// one-shot status view.
type StatusInfo struct {
	ServerURL string `json:"server_url"`
	Status    string `json:"status"` // "ok", "degraded"
	VectorDB  string `json:"vector_db"`
	Version   string `json:"version"`

	Queue QueueSnapshot `json:"queue"`
	Jobs  []JobUpdate   `json:"jobs,omitempty"`

	// Today's latency aggregates, when telemetry is enabled.
	SearchStages []StageTiming `json:"search_stages,omitempty"`
	JobStages    []StageTiming `json:"job_stages,omitempty"`
}

// StatusRenderer displays server status.
type StatusRenderer struct {
	out     io.Writer
	styles  Styles
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:     out,
		styles:  GetStyles(noColor),
		noColor: noColor,
	}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	// Header
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Server Status: "+info.ServerURL))

	// Health
	_, _ = fmt.Fprintf(r.out, "  Health:    %s\n", r.renderStatus(info.Status))
	_, _ = fmt.Fprintf(r.out, "  Vector DB: %s\n", r.renderStatus(info.VectorDB))
	if info.Version != "" {
		_, _ = fmt.Fprintf(r.out, "  Version:   %s\n", info.Version)
	}
	_, _ = fmt.Fprintln(r.out)

	// Queue counters
	_, _ = fmt.Fprintln(r.out, "  Queue:")
	_, _ = fmt.Fprintf(r.out, "    Active:    %d\n", info.Queue.Active)
	_, _ = fmt.Fprintf(r.out, "    Queued:    %d\n", info.Queue.Queued)
	_, _ = fmt.Fprintf(r.out, "    Completed: %d\n", info.Queue.Completed)
	_, _ = fmt.Fprintf(r.out, "    Failed:    %d\n", info.Queue.Failed)

	// In-flight jobs
	if len(info.Jobs) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Jobs:")
		for _, j := range info.Jobs {
			_, _ = fmt.Fprintf(r.out, "    %-30s %-10s %3d%%  %s\n",
				j.Filename, StageLabel(j.Stage), j.Progress, formatTime(j.At))
		}
	}

	// Latency aggregates
	if len(info.SearchStages) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Search latency (today):")
		for _, s := range info.SearchStages {
			_, _ = fmt.Fprintf(r.out, "    %-12s %.1fms avg (%d queries)\n", s.Stage, s.AvgMS, s.Count)
		}
	}
	if len(info.JobStages) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Pipeline latency (today):")
		for _, s := range info.JobStages {
			_, _ = fmt.Fprintf(r.out, "    %-18s %.1fms avg (%d jobs)\n", s.Stage, s.AvgMS, s.Count)
		}
	}

	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ok", "ready", "connected":
		return r.styles.Success.Render(status)
	case "degraded", "reconnecting":
		return r.styles.Warning.Render(status)
	case "error", "unreachable":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	now := time.Now()
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
