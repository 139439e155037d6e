package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// fakeSearcher returns canned search results.
type fakeSearcher struct {
	results []search.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ search.Options) (*search.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &search.Response{Query: query, Results: f.results}, nil
}

func researchConfig() config.ResearchConfig {
	return config.ResearchConfig{
		Provider:    "openai",
		MaxTokens:   1024,
		Temperature: 0.3,
		NumSources:  10,
		MaxSources:  20,
		TokenBudget: 8000,
		TimeoutS:    30,
	}
}

func newResearchEnv(t *testing.T, provider Provider, pre *Preprocessor, preCfg config.PreprocessConfig) (*Engine, *store.Memory, *fakeSearcher) {
	t.Helper()
	vs := store.NewMemory()
	seedChunks(t, vs, packDocID, 1, "Q4 revenue grew 14 percent year over year.")
	searcher := &fakeSearcher{results: []search.Result{{
		DocID: packDocID, Filename: "q4.pdf", Page: 1, Score: 0.92,
		Type: search.ResultBoth, Preview: "Q4 revenue grew",
		ChunkID: store.ChunkID(packDocID, 0),
	}}}
	engine := NewEngine(searcher, NewPacker(vs, 0, nil), provider, pre,
		researchConfig(), preCfg, nil)
	return engine, vs, searcher
}

func TestAsk_AnswersWithCitedSources(t *testing.T) {
	// Given a corpus hit and a model that cites it
	provider := &fakeProvider{replies: []*Completion{
		{Text: "Q4 revenue grew 14 percent [1].", Model: "gpt-4o-mini", TokensUsed: 120},
	}}
	engine, _, _ := newResearchEnv(t, provider, nil, config.PreprocessConfig{})

	// When asking
	result, err := engine.Ask(context.Background(), Request{Question: "What was Q4 revenue growth?"})
	require.NoError(t, err)

	// Then the answer cites source 1 and the source list is contiguous
	assert.Equal(t, "Q4 revenue grew 14 percent [1].", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, 1, result.Sources[0].CitationNumber)
	assert.Equal(t, packDocID, result.Sources[0].DocID)
	assert.Equal(t, "gpt-4o-mini", result.ModelUsed)
	assert.Equal(t, 1, result.SourcesFound)
	assert.False(t, result.ContextTruncated)
	assert.GreaterOrEqual(t, result.ProcessingTimeMS, int64(0))

	// And the prompt carried the numbered source text
	require.Len(t, provider.calls, 1)
	assert.Contains(t, provider.calls[0].User, "[1] q4.pdf, page 1")
	assert.Contains(t, provider.calls[0].User, "Q4 revenue grew 14 percent")
	assert.Contains(t, provider.calls[0].System, "citation")
}

func TestAsk_UnknownCitationsDropped(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{
		{Text: "Fact [1]. Invented fact [7].", Model: "m"},
	}}
	engine, _, _ := newResearchEnv(t, provider, nil, config.PreprocessConfig{})

	result, err := engine.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, "Fact [1]. Invented fact .", result.Answer)
}

func TestAsk_EmptyQuestionRejected(t *testing.T) {
	engine, _, _ := newResearchEnv(t, &fakeProvider{}, nil, config.PreprocessConfig{})

	_, err := engine.Ask(context.Background(), Request{Question: "  "})

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestAsk_NoSourcesSkipsModelCall(t *testing.T) {
	provider := &fakeProvider{}
	engine, _, searcher := newResearchEnv(t, provider, nil, config.PreprocessConfig{})
	searcher.results = nil

	result, err := engine.Ask(context.Background(), Request{Question: "anything?"})
	require.NoError(t, err)

	assert.Equal(t, noSourcesAnswer, result.Answer)
	assert.Zero(t, result.SourcesFound)
	assert.Empty(t, result.Sources)
	assert.Zero(t, provider.callCount())
}

func TestAsk_FilterPreprocessingRenumbersCitations(t *testing.T) {
	// Given three retrieved chunks where the filter keeps 1 and 3
	vs := store.NewMemory()
	seedChunks(t, vs, packDocID, 1, "revenue detail", "irrelevant aside", "cost detail")
	searcher := &fakeSearcher{results: []search.Result{
		{DocID: packDocID, Page: 1, Filename: "q4.pdf", ChunkID: store.ChunkID(packDocID, 0)},
		{DocID: packDocID, Page: 1, Filename: "q4.pdf", ChunkID: store.ChunkID(packDocID, 1)},
		{DocID: packDocID, Page: 1, Filename: "q4.pdf", ChunkID: store.ChunkID(packDocID, 2)},
	}}

	// Local model scores then foundation model answers with old numbers
	local := &fakeProvider{replies: []*Completion{{Text: "1: 9\n2: 2\n3: 8", Model: "local"}}}
	foundation := &fakeProvider{replies: []*Completion{
		{Text: "Revenue detail [1]. Cost detail [3]. Aside [2].", Model: "m"},
	}}
	pre := NewPreprocessor(local, config.PreprocessConfig{Threshold: 7}, nil)
	engine := NewEngine(searcher, NewPacker(vs, 0, nil), foundation, pre,
		researchConfig(), config.PreprocessConfig{Enabled: true, Strategy: "filter", Threshold: 7}, nil)

	result, err := engine.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	// Then markers are rewritten to the contiguous numbering and the
	// dropped source's marker is removed
	assert.Equal(t, "Revenue detail [1]. Cost detail [2]. Aside .", result.Answer)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, 1, result.Sources[0].CitationNumber)
	assert.Equal(t, 2, result.Sources[1].CitationNumber)
	require.NotNil(t, result.Preprocessing)
	assert.True(t, result.Preprocessing.Applied)
	assert.Equal(t, 3, result.Preprocessing.SourcesBefore)
	assert.Equal(t, 2, result.Preprocessing.SourcesAfter)
}

func TestAsk_CompressNarrativeFeedsPrompt(t *testing.T) {
	local := &fakeProvider{replies: []*Completion{{Text: "Condensed narrative [1].", Model: "local"}}}
	foundation := &fakeProvider{replies: []*Completion{{Text: "Answer [1].", Model: "m"}}}
	pre := NewPreprocessor(local, config.PreprocessConfig{}, nil)
	engine, _, _ := newResearchEnv(t, foundation, pre,
		config.PreprocessConfig{Enabled: true, Strategy: "compress"})

	result, err := engine.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, "Answer [1].", result.Answer)
	require.Len(t, foundation.calls, 1)
	assert.Contains(t, foundation.calls[0].User, "Condensed narrative [1].")
	assert.NotContains(t, foundation.calls[0].User, "[1] q4.pdf", "narrative replaces the raw list")
}

func TestAsk_PreprocessFailureStillAnswers(t *testing.T) {
	local := &fakeProvider{errs: []error{
		amerrors.New(amerrors.ErrCodeResearchFailed, "local down", nil),
	}}
	foundation := &fakeProvider{replies: []*Completion{{Text: "Answer [1].", Model: "m"}}}
	pre := NewPreprocessor(local, config.PreprocessConfig{}, nil)
	engine, _, _ := newResearchEnv(t, foundation, pre,
		config.PreprocessConfig{Enabled: true, Strategy: "compress"})

	result, err := engine.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, "Answer [1].", result.Answer)
	require.NotNil(t, result.Preprocessing)
	assert.False(t, result.Preprocessing.Applied)
	assert.NotEmpty(t, result.Preprocessing.Error)
}

func TestAsk_RequestOverridesModelAndTemperature(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{{Text: "Answer [1].", Model: "custom"}}}
	engine, _, _ := newResearchEnv(t, provider, nil, config.PreprocessConfig{})
	temp := 0.9

	_, err := engine.Ask(context.Background(), Request{
		Question:    "q",
		Model:       "custom-model",
		Temperature: &temp,
	})
	require.NoError(t, err)

	require.Len(t, provider.calls, 1)
	assert.Equal(t, "custom-model", provider.calls[0].Model)
	assert.InDelta(t, 0.9, provider.calls[0].Temperature, 1e-9)
}

func TestAsk_InvalidStrategyRejected(t *testing.T) {
	engine, _, _ := newResearchEnv(t, &fakeProvider{}, nil, config.PreprocessConfig{})

	_, err := engine.Ask(context.Background(), Request{
		Question:              "q",
		PreprocessingStrategy: "summarize-harder",
	})

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestAsk_TransientProviderErrorRetriesOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	provider := &fakeProvider{
		errs:    []error{amerrors.New(amerrors.ErrCodeLLMUnavailable, "upstream 503", nil), nil},
		replies: []*Completion{nil, {Text: "Answer [1].", Model: "m"}},
	}
	engine, _, _ := newResearchEnv(t, provider, nil, config.PreprocessConfig{})

	started := time.Now()
	result, err := engine.Ask(context.Background(), Request{Question: "q"})
	require.NoError(t, err)

	assert.Equal(t, "Answer [1].", result.Answer)
	assert.Equal(t, 2, provider.callCount())
	assert.GreaterOrEqual(t, time.Since(started), providerRetryBackoff)
}

func TestAsk_RateLimitSurfacesAfterRetry(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	rl := rateLimited("openai", 30, nil)
	provider := &fakeProvider{errs: []error{rl, rl}}
	engine, _, _ := newResearchEnv(t, provider, nil, config.PreprocessConfig{})

	_, err := engine.Ask(context.Background(), Request{Question: "q"})

	assert.Equal(t, amerrors.ErrCodeRateLimited, amerrors.GetCode(err))
	assert.Equal(t, 2, provider.callCount())
}
