package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/amanrag/internal/encoder"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Engine runs two-stage hybrid retrieval: ANN candidates per collection
// on pooled vectors, full late-interaction rescoring, min-max
// normalisation per candidate set, then weighted fusion with page-level
// deduplication.
type Engine struct {
	store   store.VectorStore
	enc     encoder.Encoder
	metrics Recorder
	logger  *slog.Logger
}

// NewEngine creates a search engine. metrics may be nil.
func NewEngine(vs store.VectorStore, enc encoder.Encoder, metrics Recorder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   vs,
		enc:     enc,
		metrics: metrics,
		logger:  logger.With("component", "search"),
	}
}

// Search executes one query and returns the fused top results.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "query must not be empty", nil)
	}
	if !opts.Mode.Valid() {
		if opts.Mode != "" {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "invalid search mode", nil).
				WithDetail("mode", string(opts.Mode)).
				WithSuggestion("Use one of: visual, text, hybrid")
		}
		opts.Mode = ModeHybrid
	}
	if opts.NumResults <= 0 {
		opts.NumResults = DefaultNumResults
	}
	if opts.NumResults > MaxNumResults {
		opts.NumResults = MaxNumResults
	}
	if opts.CandidateK <= 0 {
		opts.CandidateK = DefaultCandidateK
	}
	hybridAlpha := DefaultHybridAlpha
	if opts.Alpha != nil {
		if *opts.Alpha < 0 || *opts.Alpha > 1 {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "alpha must be in [0, 1]", nil)
		}
		hybridAlpha = *opts.Alpha
	}
	alpha := opts.Mode.Alpha(hybridAlpha)

	started := time.Now()
	var timings StageTimings

	queryVec, err := e.enc.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	timings.Embed = time.Since(started)
	pooled := queryVec.Pool()
	filter := store.Filter{DocID: opts.DocID}

	// Both collections query in parallel; a mode that zero-weights one
	// side skips that collection entirely.
	stage1 := time.Now()
	var visualHits, textHits []store.Candidate
	g, gctx := errgroup.WithContext(ctx)
	if alpha > 0 {
		g.Go(func() error {
			hits, err := e.store.Query(gctx, store.CollectionVisual, pooled, opts.CandidateK, filter)
			if err != nil {
				return err
			}
			visualHits = hits
			return nil
		})
	}
	if alpha < 1 {
		g.Go(func() error {
			hits, err := e.store.Query(gctx, store.CollectionText, pooled, opts.CandidateK, filter)
			if err != nil {
				return err
			}
			textHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	timings.Stage1 = time.Since(stage1)

	stage2 := time.Now()
	visual := rescore(queryVec, visualHits)
	text := rescore(queryVec, textHits)
	normalize(visual)
	normalize(text)
	timings.Stage2 = time.Since(stage2)

	fusionStart := time.Now()
	results := fuse(visual, text, alpha)
	if len(results) > opts.NumResults {
		results = results[:opts.NumResults]
	}
	timings.Fusion = time.Since(fusionStart)

	if e.metrics != nil {
		e.metrics.RecordSearch(opts.Mode, timings, len(results))
	}
	e.logger.Debug("search completed",
		slog.String("mode", string(opts.Mode)),
		slog.Int("visual_candidates", len(visual)),
		slog.Int("text_candidates", len(text)),
		slog.Int("results", len(results)),
		slog.Duration("latency", time.Since(started)))

	return &Response{
		Query:     query,
		Results:   results,
		LatencyMS: time.Since(started).Milliseconds(),
	}, nil
}
