package cmd

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/ui"
	"github.com/Aman-CERP/amanrag/pkg/client"
)

// watchPingInterval is how often the watch mode probes the event
// stream to surface reconnects.
const watchPingInterval = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var (
		server     string
		jsonOutput bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server health and queue status",
		Long: `Display the running server's health, queue counters, in-flight
jobs, and today's latency aggregates.

With --watch, subscribe to the server's event stream and render a live
status board until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runStatusWatch(cmd.Context(), server)
			}
			return runStatus(cmd.Context(), cmd, server, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServerURL, "Server base URL")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the live event stream")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, server string, jsonOutput bool) error {
	c := client.New(server)

	info := ui.StatusInfo{ServerURL: server}

	health, err := c.Health(ctx)
	if err != nil {
		info.Status = "unreachable"
		info.VectorDB = "unknown"
	} else {
		info.Status = health.Status
		info.VectorDB = health.VectorDB
		info.Version = health.Version
	}

	if status, err := c.Status(ctx); err == nil {
		info.Queue = ui.QueueSnapshot{
			Active:    status.Queue.Active,
			Queued:    status.Queue.Queued,
			Completed: status.Queue.Completed,
			Failed:    status.Queue.Failed,
			Total:     status.Queue.Total,
		}
		for _, j := range status.Jobs {
			info.Jobs = append(info.Jobs, jobUpdateFrom(client.ProcessingUpdate{
				DocID:    j.DocID,
				Filename: j.Filename,
				Stage:    j.Stage,
				Progress: j.Progress,
				Message:  j.Message,
			}, j.UpdatedAt))
		}
		info.SearchStages = stageTimings(status.SearchStages)
		info.JobStages = stageTimings(status.JobStages)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// stageTimings decodes the status endpoint's telemetry aggregates;
// decode failures just drop the section.
func stageTimings(raw json.RawMessage) []ui.StageTiming {
	if len(raw) == 0 {
		return nil
	}
	var timings []ui.StageTiming
	if err := json.Unmarshal(raw, &timings); err != nil {
		return nil
	}
	return timings
}

func jobUpdateFrom(u client.ProcessingUpdate, updatedAt string) ui.JobUpdate {
	at, _ := time.Parse(time.RFC3339, updatedAt)
	return ui.JobUpdate{
		DocID:    u.DocID,
		Filename: u.Filename,
		Stage:    u.Stage,
		Progress: u.Progress,
		Message:  u.Message,
		At:       at,
	}
}

func runStatusWatch(ctx context.Context, server string) error {
	renderer := ui.NewRenderer(ui.NewConfig(os.Stdout, ui.WithServerURL(server)))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	// Seed the board from the one-shot endpoints before the stream
	// takes over.
	c := client.New(server)
	if status, err := c.Status(ctx); err == nil {
		renderer.UpdateQueue(ui.QueueSnapshot{
			Active:    status.Queue.Active,
			Queued:    status.Queue.Queued,
			Completed: status.Queue.Completed,
			Failed:    status.Queue.Failed,
			Total:     status.Queue.Total,
		})
		for _, j := range status.Jobs {
			renderer.UpdateJob(jobUpdateFrom(client.ProcessingUpdate{
				DocID:    j.DocID,
				Filename: j.Filename,
				Stage:    j.Stage,
				Progress: j.Progress,
				Message:  j.Message,
			}, j.UpdatedAt))
		}
	}

	sub := client.NewSubscriber(server)
	defer func() { _ = sub.Close() }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sub.Run(ctx) })
	g.Go(func() error { return pumpWatchEvents(ctx, sub, renderer) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func pumpWatchEvents(ctx context.Context, sub *client.Subscriber, renderer ui.Renderer) error {
	ticker := time.NewTicker(watchPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sub.Ping(ctx); err != nil {
				renderer.SetConnState(ui.ConnReconnecting)
			} else {
				renderer.SetConnState(ui.ConnConnected)
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			renderer.SetConnState(ui.ConnConnected)
			applyWatchEvent(ev, renderer)
		}
	}
}

func applyWatchEvent(ev client.Event, renderer ui.Renderer) {
	switch ev.Type {
	case "processing_update":
		var u client.ProcessingUpdate
		if err := json.Unmarshal(ev.Data, &u); err != nil {
			return
		}
		renderer.UpdateJob(jobUpdateFrom(u, ev.Timestamp))
	case "processing_complete":
		var u client.ProcessingUpdate
		if err := json.Unmarshal(ev.Data, &u); err != nil {
			return
		}
		u.Stage = "completed"
		u.Progress = 100
		renderer.UpdateJob(jobUpdateFrom(u, ev.Timestamp))
	case "processing_error":
		var u struct {
			DocID    string `json:"doc_id"`
			Filename string `json:"filename"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal(ev.Data, &u); err != nil {
			return
		}
		renderer.UpdateJob(jobUpdateFrom(client.ProcessingUpdate{
			DocID:    u.DocID,
			Filename: u.Filename,
			Stage:    "failed",
			Message:  u.Error,
		}, ev.Timestamp))
	case "stats":
		var s client.StatsEvent
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return
		}
		renderer.UpdateQueue(ui.QueueSnapshot{
			Active:    s.Active,
			Queued:    s.Queued,
			Completed: s.Completed,
			Failed:    s.Failed,
			Total:     s.Total,
		})
	}
}
