package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// Packer assembles numbered context sources from search results. Each
// source carries its matched chunk plus the neighbouring chunks, and
// the whole pack is bounded by a token budget.
type Packer struct {
	store   store.VectorStore
	counter *TokenCounter
	budget  int
	logger  *slog.Logger
}

// NewPacker creates a packer. budget <= 0 takes the default.
func NewPacker(vs store.VectorStore, budget int, logger *slog.Logger) *Packer {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Packer{
		store:   vs,
		counter: NewTokenCounter(),
		budget:  budget,
		logger:  logger.With("component", "research"),
	}
}

// Pack builds sources numbered 1..len(results) in result order. The
// second return reports whether the budget truncated the context.
func (p *Packer) Pack(ctx context.Context, results []search.Result) ([]Source, bool, error) {
	sources := make([]Source, 0, len(results))
	remaining := p.budget
	truncated := false

	for i, r := range results {
		src := Source{
			CitationNumber: i + 1,
			DocID:          r.DocID,
			Filename:       r.Filename,
			Page:           r.Page,
			Score:          r.Score,
			Preview:        r.Preview,
		}
		text := p.sourceText(ctx, r)
		if text == "" {
			text = r.Preview
		}

		cost := p.counter.Count(text)
		if cost > remaining {
			truncated = true
			if len(sources) > 0 {
				// Later sources are dropped whole.
				break
			}
			// The first source is clipped so an answer is still
			// possible.
			text = p.clipToBudget(text, remaining)
			cost = p.counter.Count(text)
		}
		src.text = text
		remaining -= cost
		sources = append(sources, src)
	}
	return sources, truncated, nil
}

// sourceText resolves the matched chunk and its neighbours.
func (p *Packer) sourceText(ctx context.Context, r search.Result) string {
	if r.ChunkID == "" {
		return p.pageText(ctx, r.DocID, r.Page)
	}

	rec, err := p.store.Get(ctx, store.CollectionText, store.TextEmbeddingID(r.ChunkID))
	if err != nil || rec == nil {
		if err != nil {
			p.logger.Warn("chunk fetch failed",
				slog.String("chunk_id", r.ChunkID),
				slog.String("error", err.Error()))
		}
		return ""
	}

	idx := store.MetaInt(rec.Metadata, store.KeyChunkIndex)
	parts := make([]string, 0, 3)
	if prev := p.chunkText(ctx, r.DocID, idx-1); prev != "" {
		parts = append(parts, prev)
	}
	parts = append(parts, store.MetaString(rec.Metadata, store.KeyText))
	if next := p.chunkText(ctx, r.DocID, idx+1); next != "" {
		parts = append(parts, next)
	}
	return strings.Join(parts, "\n")
}

func (p *Packer) chunkText(ctx context.Context, docID string, index int) string {
	if index < 0 {
		return ""
	}
	rec, err := p.store.Get(ctx, store.CollectionText, store.TextEmbeddingID(store.ChunkID(docID, index)))
	if err != nil || rec == nil {
		return ""
	}
	return store.MetaString(rec.Metadata, store.KeyText)
}

// pageText gathers chunk text for a page that surfaced visually only.
func (p *Packer) pageText(ctx context.Context, docID string, page int) string {
	recs, err := p.store.Scroll(ctx, store.CollectionText, store.Filter{DocID: docID, Page: page}, 4)
	if err != nil || len(recs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(recs))
	for _, rec := range recs {
		if text := store.MetaString(rec.Metadata, store.KeyText); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// clipToBudget trims text to roughly the remaining token budget.
func (p *Packer) clipToBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	for p.counter.Count(text) > budget {
		cut := len(text) / 2
		for cut > 0 && text[cut]&0xc0 == 0x80 {
			cut--
		}
		if cut == 0 {
			return ""
		}
		text = text[:cut]
	}
	return text
}
