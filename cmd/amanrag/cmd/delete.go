package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/pkg/client"
)

func newDeleteCmd() *cobra.Command {
	var (
		server     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "delete <doc_id>",
		Short: "Delete a document and all its artifacts",
		Long: `Delete a document from a running server.

Removes the document's vectors, page images, thumbnails, cached
structures, registration, and source object. The per-stage report
shows what was removed and what failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, args[0], server, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&server, "server", defaultServerURL, "Server base URL")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDelete(ctx context.Context, cmd *cobra.Command, docID, server string, jsonOutput bool) error {
	c := client.New(server)

	report, err := c.DeleteDocument(ctx, docID)
	if err != nil {
		if client.IsNotFound(err) {
			return fmt.Errorf("document %s not found", docID)
		}
		return fmt.Errorf("delete failed: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := output.New(cmd.OutOrStdout())
	printStage(out, "vector store", report.VectorStore)
	printStage(out, "page images", report.PageImages)
	printStage(out, "covers", report.AlbumArt)
	printStage(out, "structure cache", report.StructureCache)
	printStage(out, "workspace", report.Workspace)
	printStage(out, "source object", report.SourceObject)
	out.Newline()

	if report.Complete {
		out.Success(fmt.Sprintf("Deleted %s", report.DocID))
		return nil
	}
	out.Warning(fmt.Sprintf("Partially deleted %s; some stages failed", report.DocID))
	return nil
}

func printStage(out *output.Writer, name string, stage client.StageReport) {
	switch stage.Status {
	case "deleted":
		msg := name
		if len(stage.Counts) > 0 {
			msg = fmt.Sprintf("%s %v", name, stage.Counts)
		}
		out.Statusf("✓", "%s", msg)
	case "skipped":
		out.Statusf("-", "%s (skipped)", name)
	default:
		out.Statusf("✗", "%s: %s", name, stage.Error)
	}
}
