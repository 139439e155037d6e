package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/pkg/client"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	server     string
	limit      int
	mode       string // "visual", "text", "hybrid"
	alpha      float64
	docID      string
	jsonOutput bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search the indexed documents on a running server.

Hybrid mode fuses visual (page image) and text scores; --alpha weights
the visual side. Visual and text modes query one collection only.

Examples:
  amanrag search "quarterly revenue by region"
  amanrag search "network diagram" --mode visual --limit 5
  amanrag search "refund policy" --doc-id 4f2a... --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", defaultServerURL, "Server base URL")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: server setting)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: visual, text, hybrid")
	cmd.Flags().Float64Var(&opts.alpha, "alpha", -1, "Visual weight for hybrid fusion (0.0-1.0)")
	cmd.Flags().StringVar(&opts.docID, "doc-id", "", "Restrict results to one document")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	c := client.New(opts.server)

	req := client.SearchRequest{
		Query:      query,
		NumResults: opts.limit,
		Mode:       opts.mode,
		DocID:      opts.docID,
	}
	if opts.alpha >= 0 {
		req.Alpha = &opts.alpha
	}

	resp, err := c.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	return formatSearchResults(output.New(cmd.OutOrStdout()), resp)
}

// formatSearchResults renders hits in human-readable form.
func formatSearchResults(out *output.Writer, resp *client.SearchResponse) error {
	if len(resp.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", resp.Query))
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q (%dms):", len(resp.Results), resp.Query, resp.LatencyMS)
	out.Newline()

	for i, r := range resp.Results {
		out.Statusf("", "%d. %s p.%d (score: %.3f, %s)", i+1, r.Filename, r.Page, r.Score, r.Type)
		if r.Preview != "" {
			for _, line := range previewLines(r.Preview, 3) {
				out.Status("", "   "+line)
			}
		}
		out.Newline()
	}
	return nil
}

// previewLines returns the first n non-empty-trailing lines of a preview.
func previewLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
