package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
)

// systemPrompt enforces the citation contract on the foundation model.
const systemPrompt = `You are a research assistant answering questions from a document corpus.
Answer using ONLY the numbered sources provided. Every factual assertion in your
answer must end with one or more citation markers like [1] or [2][3], where the
number refers to the numbered source list. If the sources do not contain the
answer, say so plainly. Never cite a source number that was not provided.`

// noSourcesAnswer is returned without a model call when retrieval
// finds nothing.
const noSourcesAnswer = "No relevant documents were found for this question."

// Searcher is the retrieval dependency. Satisfied by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Engine runs the research pipeline: retrieve, pack, optionally
// preprocess, invoke the foundation model, and parse citations.
type Engine struct {
	searcher Searcher
	packer   *Packer
	provider Provider
	pre      *Preprocessor
	cfg      config.ResearchConfig
	preCfg   config.PreprocessConfig
	logger   *slog.Logger
}

// NewEngine creates a research engine. pre may be nil when no local
// provider is configured.
func NewEngine(searcher Searcher, packer *Packer, provider Provider, pre *Preprocessor,
	cfg config.ResearchConfig, preCfg config.PreprocessConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		searcher: searcher,
		packer:   packer,
		provider: provider,
		pre:      pre,
		cfg:      cfg,
		preCfg:   preCfg,
		logger:   logger.With("component", "research"),
	}
}

// Ask answers one question.
func (e *Engine) Ask(ctx context.Context, req Request) (*Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "question must not be empty", nil)
	}
	numSources := req.NumSources
	if numSources <= 0 {
		numSources = e.cfg.NumSources
	}
	if numSources <= 0 {
		numSources = DefaultNumSources
	}
	maxSources := e.cfg.MaxSources
	if maxSources <= 0 {
		maxSources = MaxNumSources
	}
	if numSources > maxSources {
		numSources = maxSources
	}
	if req.PreprocessingStrategy != "" && !req.PreprocessingStrategy.Valid() {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "invalid preprocessing strategy", nil).
			WithDetail("strategy", string(req.PreprocessingStrategy)).
			WithSuggestion("Use one of: compress, filter, synthesize")
	}

	if e.cfg.TimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutS)*time.Second)
		defer cancel()
	}
	started := time.Now()

	resp, err := e.searcher.Search(ctx, question, search.Options{NumResults: numSources})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return &Result{
			Question:         question,
			Answer:           noSourcesAnswer,
			Sources:          []Source{},
			ProcessingTimeMS: time.Since(started).Milliseconds(),
			SourcesFound:     0,
		}, nil
	}

	sources, truncated, err := e.packer.Pack(ctx, resp.Results)
	if err != nil {
		return nil, err
	}

	narrative := ""
	var preMeta *PreprocessMetadata
	var citationMapping map[int]int
	if e.preprocessEnabled(req) && e.pre != nil {
		strategy := Strategy(e.preCfg.Strategy)
		if req.PreprocessingStrategy != "" {
			strategy = req.PreprocessingStrategy
		}
		if !strategy.Valid() {
			strategy = StrategyCompress
		}
		out := e.pre.Apply(ctx, question, sources, strategy)
		sources = out.Sources
		narrative = out.Narrative
		citationMapping = out.Mapping
		preMeta = out.Meta
	}

	temperature := e.cfg.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	model := req.Model
	if model == "" {
		model = e.cfg.Model
	}

	completion, err := completeWithRetry(ctx, e.provider, CompletionRequest{
		System:      systemPrompt,
		User:        e.userPrompt(question, sources, narrative),
		Model:       model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, err
	}

	answer := completion.Text
	if len(citationMapping) > 0 {
		// Filtering collapsed the source set: markers still cite the
		// pre-filter numbers, so rewrite them before validation and
		// renumber the surviving sources to a contiguous prefix.
		answer = RewriteCitations(answer, citationMapping)
		for i := range sources {
			sources[i].CitationNumber = i + 1
		}
	}
	answer, cited := ParseCitations(answer, len(sources), e.logger)
	e.logger.Info("research answered",
		slog.Int("sources", len(sources)),
		slog.Int("cited", len(cited)),
		slog.String("model", completion.Model),
		slog.Duration("elapsed", time.Since(started)))

	return &Result{
		Question:         question,
		Answer:           answer,
		Sources:          sources,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
		ModelUsed:        completion.Model,
		SourcesFound:     len(sources),
		ContextTruncated: truncated,
		Preprocessing:    preMeta,
	}, nil
}

func (e *Engine) preprocessEnabled(req Request) bool {
	if req.PreprocessingEnabled != nil {
		return *req.PreprocessingEnabled
	}
	return e.preCfg.Enabled
}

// userPrompt renders the numbered source list (or the preprocessed
// narrative) and the question.
func (e *Engine) userPrompt(question string, sources []Source, narrative string) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	if narrative != "" {
		sb.WriteString(narrative)
		sb.WriteString("\n")
	} else {
		for _, src := range sources {
			fmt.Fprintf(&sb, "[%d] %s, page %d:\n%s\n\n",
				src.CitationNumber, src.Filename, src.Page, src.text)
		}
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", question)
	return sb.String()
}
