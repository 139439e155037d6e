package research

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/config"
)

// PreprocessOutput is the result of preprocessing. When Narrative is
// non-empty it replaces the raw source texts in the prompt. Sources
// keep their original citation numbers; when filtering collapses the
// set, Mapping records old number to new contiguous number and the
// engine rewrites markers after the model call.
type PreprocessOutput struct {
	Sources   []Source
	Narrative string
	Mapping   map[int]int
	Meta      *PreprocessMetadata
}

// Preprocessor runs the optional local-model context reduction step.
// Failures never fail the research call: the unprocessed sources flow
// through with the error recorded in the metadata.
type Preprocessor struct {
	provider   Provider
	model      string
	threshold  int
	maxSources int
	logger     *slog.Logger
}

// NewPreprocessor creates a preprocessor backed by the given (local)
// provider.
func NewPreprocessor(provider Provider, cfg config.PreprocessConfig, logger *slog.Logger) *Preprocessor {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultFilterThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{
		provider:   provider,
		model:      cfg.Model,
		threshold:  threshold,
		maxSources: cfg.MaxSources,
		logger:     logger.With("component", "preprocess"),
	}
}

// Apply runs the strategy over the sources. Citation numbers are never
// reassigned.
func (p *Preprocessor) Apply(ctx context.Context, question string, sources []Source, strategy Strategy) PreprocessOutput {
	meta := &PreprocessMetadata{Strategy: strategy, SourcesBefore: len(sources)}
	out := PreprocessOutput{Sources: sources, Meta: meta}
	meta.SourcesAfter = len(sources)

	if len(sources) == 0 {
		return out
	}
	if p.maxSources > 0 && len(sources) > p.maxSources {
		sources = sources[:p.maxSources]
		out.Sources = sources
		meta.SourcesAfter = len(sources)
	}

	var err error
	switch strategy {
	case StrategyFilter:
		var kept []Source
		kept, err = p.filter(ctx, question, sources)
		if err == nil {
			out.Sources = kept
			meta.SourcesAfter = len(kept)
			meta.Applied = true
			if len(kept) < len(sources) {
				out.Mapping = make(map[int]int, len(kept))
				for i, src := range kept {
					out.Mapping[src.CitationNumber] = i + 1
				}
			}
		}
	case StrategyCompress, StrategySynthesize:
		var narrative string
		narrative, err = p.condense(ctx, question, sources, strategy)
		if err == nil && narrative != "" {
			out.Narrative = narrative
			meta.Applied = true
		}
	default:
		err = fmt.Errorf("unknown strategy %q", strategy)
	}

	if err != nil {
		// Graceful fallback: the unprocessed sources answer instead.
		p.logger.Warn("preprocessing failed, using raw sources",
			slog.String("strategy", string(strategy)),
			slog.String("error", err.Error()))
		meta.Applied = false
		meta.Error = err.Error()
		out.Sources = sources
		out.Narrative = ""
		meta.SourcesAfter = len(sources)
	}
	return out
}

// filter asks the local model to score each source 0-10 against the
// question and drops those below the threshold, preserving order and
// numbering.
func (p *Preprocessor) filter(ctx context.Context, question string, sources []Source) ([]Source, error) {
	var sb strings.Builder
	for _, src := range sources {
		fmt.Fprintf(&sb, "[%d] %s\n\n", src.CitationNumber, src.text)
	}

	resp, err := completeWithRetry(ctx, p.provider, CompletionRequest{
		System: "You score context passages for relevance to a question. " +
			"Reply with one line per passage in the form \"N: score\" where " +
			"score is an integer 0-10. No other text.",
		User:        fmt.Sprintf("Question: %s\n\nPassages:\n%s", question, sb.String()),
		Model:       p.model,
		MaxTokens:   16 * len(sources),
		Temperature: 0,
	})
	if err != nil {
		return nil, err
	}

	scores, err := parseScores(resp.Text)
	if err != nil {
		return nil, err
	}

	kept := make([]Source, 0, len(sources))
	for _, src := range sources {
		score, ok := scores[src.CitationNumber]
		if !ok || score >= p.threshold {
			kept = append(kept, src)
		}
	}
	if len(kept) == 0 {
		// Everything scored low; keep the top source rather than
		// answer from nothing.
		kept = sources[:1]
	}
	return kept, nil
}

// condense rewrites the sources into one narrative that keeps the [N]
// markers attached to their facts.
func (p *Preprocessor) condense(ctx context.Context, question string, sources []Source, strategy Strategy) (string, error) {
	instruction := "Compress the numbered passages into a dense summary focused on the question."
	if strategy == StrategySynthesize {
		instruction = "Synthesise the numbered passages into one coherent narrative focused on the question."
	}

	var sb strings.Builder
	for _, src := range sources {
		fmt.Fprintf(&sb, "[%d] %s\n\n", src.CitationNumber, src.text)
	}

	resp, err := completeWithRetry(ctx, p.provider, CompletionRequest{
		System: instruction + " Every fact you keep must retain its original [N] marker. " +
			"Never renumber markers and never invent new ones.",
		User:        fmt.Sprintf("Question: %s\n\nPassages:\n%s", question, sb.String()),
		Model:       p.model,
		MaxTokens:   2048,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

// parseScores reads "N: score" lines.
func parseScores(text string) (map[int]int, error) {
	scores := make(map[int]int)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, score, ok := splitScoreLine(line)
		if !ok {
			continue
		}
		scores[n] = score
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no scores in model reply %q", truncateForLog(text))
	}
	return scores, nil
}

func splitScoreLine(line string) (int, int, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.Trim(line[:idx], "[]")))
	if err != nil {
		return 0, 0, false
	}
	score, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
	if err != nil || score < 0 || score > 10 {
		return 0, 0, false
	}
	return n, score, true
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
