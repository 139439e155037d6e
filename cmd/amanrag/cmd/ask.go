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

// askOptions holds CLI flags for ask.
type askOptions struct {
	server     string
	sources    int
	model      string
	jsonOutput bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against the indexed documents",
		Long: `Ask a question and get a cited answer from a running server.

The server retrieves the most relevant pages, packs them into the
model's context, and returns an answer with numbered source citations.

Examples:
  amanrag ask "what were the Q4 revenue drivers?"
  amanrag ask "summarize the refund policy" --sources 5
  amanrag ask "who signed the contract?" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			return runAsk(cmd.Context(), cmd, question, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", defaultServerURL, "Server base URL")
	cmd.Flags().IntVarP(&opts.sources, "sources", "n", 0, "Number of sources to retrieve (default: server setting)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Override the answer model")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, question string, opts askOptions) error {
	c := client.New(opts.server)

	result, err := c.Research(ctx, client.ResearchRequest{
		Question:   question,
		NumSources: opts.sources,
		Model:      opts.model,
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	return formatAnswer(output.New(cmd.OutOrStdout()), result)
}

// formatAnswer renders the answer followed by its numbered sources.
func formatAnswer(out *output.Writer, result *client.ResearchResult) error {
	out.Status("", result.Answer)
	out.Newline()

	if len(result.Sources) > 0 {
		out.Status("", "Sources:")
		for _, s := range result.Sources {
			out.Statusf("", "  [%d] %s p.%d (score: %.3f)", s.CitationNumber, s.Filename, s.Page, s.Score)
		}
		out.Newline()
	}

	out.Statusf("", "%s · %d sources · %dms", result.ModelUsed, result.SourcesFound, result.ProcessingTimeMS)
	if result.ContextTruncated {
		out.Warning("Context was truncated to fit the token budget")
	}
	return nil
}
