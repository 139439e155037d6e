package research

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/config"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// fakeProvider replays canned completions in order.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []CompletionRequest
	replies []*Completion
	errs    []error
}

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.calls)
	f.calls = append(f.calls, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return &Completion{Text: "", Model: "fake"}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func threeSources() []Source {
	return []Source{
		{CitationNumber: 1, DocID: "d1", Filename: "a.pdf", Page: 1, text: "revenue grew 14 percent"},
		{CitationNumber: 2, DocID: "d1", Filename: "a.pdf", Page: 2, text: "the office relocated"},
		{CitationNumber: 3, DocID: "d2", Filename: "b.pdf", Page: 1, text: "costs fell 3 percent"},
	}
}

func TestPreprocess_FilterDropsLowScoresKeepingOrder(t *testing.T) {
	// Given a local model scoring source 2 below the threshold
	provider := &fakeProvider{replies: []*Completion{{Text: "1: 9\n2: 3\n3: 8", Model: "local"}}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{Threshold: 7}, nil)

	// When filtering
	out := pre.Apply(context.Background(), "what happened to revenue?", threeSources(), StrategyFilter)

	// Then sources 1 and 3 survive with original numbering
	require.Len(t, out.Sources, 2)
	assert.Equal(t, 1, out.Sources[0].CitationNumber)
	assert.Equal(t, 3, out.Sources[1].CitationNumber)
	assert.True(t, out.Meta.Applied)
	assert.Equal(t, 3, out.Meta.SourcesBefore)
	assert.Equal(t, 2, out.Meta.SourcesAfter)

	// And the collapse mapping renumbers to a contiguous prefix
	assert.Equal(t, map[int]int{1: 1, 3: 2}, out.Mapping)
}

func TestPreprocess_FilterKeepsEverythingAboveThreshold(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{{Text: "1: 8\n2: 9\n3: 10", Model: "local"}}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{Threshold: 7}, nil)

	out := pre.Apply(context.Background(), "q", threeSources(), StrategyFilter)

	assert.Len(t, out.Sources, 3)
	assert.Nil(t, out.Mapping, "no collapse means no mapping")
}

func TestPreprocess_FilterAllLowKeepsTopSource(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{{Text: "1: 2\n2: 1\n3: 0", Model: "local"}}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{Threshold: 7}, nil)

	out := pre.Apply(context.Background(), "q", threeSources(), StrategyFilter)

	require.Len(t, out.Sources, 1)
	assert.Equal(t, 1, out.Sources[0].CitationNumber)
}

func TestPreprocess_CompressProducesNarrative(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{
		{Text: "Revenue grew 14 percent [1] while costs fell [3].", Model: "local"},
	}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{}, nil)

	out := pre.Apply(context.Background(), "q", threeSources(), StrategyCompress)

	assert.Equal(t, "Revenue grew 14 percent [1] while costs fell [3].", out.Narrative)
	assert.Len(t, out.Sources, 3, "compression keeps the source list intact")
	assert.True(t, out.Meta.Applied)
}

func TestPreprocess_ProviderFailureFallsBackToRawSources(t *testing.T) {
	provider := &fakeProvider{errs: []error{
		amerrors.New(amerrors.ErrCodeResearchFailed, "local model crashed", nil),
	}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{}, nil)
	sources := threeSources()

	out := pre.Apply(context.Background(), "q", sources, StrategyCompress)

	assert.False(t, out.Meta.Applied)
	assert.NotEmpty(t, out.Meta.Error)
	assert.Empty(t, out.Narrative)
	assert.Equal(t, sources, out.Sources)
}

func TestPreprocess_UnparsableScoresFallBack(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{{Text: "I cannot score these.", Model: "local"}}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{Threshold: 7}, nil)

	out := pre.Apply(context.Background(), "q", threeSources(), StrategyFilter)

	assert.False(t, out.Meta.Applied)
	assert.Len(t, out.Sources, 3)
}

func TestPreprocess_MaxSourcesCapsInput(t *testing.T) {
	provider := &fakeProvider{replies: []*Completion{{Text: "narrative [1]", Model: "local"}}}
	pre := NewPreprocessor(provider, config.PreprocessConfig{MaxSources: 2}, nil)

	out := pre.Apply(context.Background(), "q", threeSources(), StrategySynthesize)

	assert.Len(t, out.Sources, 2)
}

func TestParseScores_ToleratesNoiseLines(t *testing.T) {
	scores, err := parseScores("Here are the scores:\n1: 8\n[2]: 5\nnot a score\n3: 10")
	require.NoError(t, err)

	assert.Equal(t, map[int]int{1: 8, 2: 5, 3: 10}, scores)
}

func TestParseScores_RejectsOutOfRange(t *testing.T) {
	scores, err := parseScores("1: 11\n2: -1")

	assert.Error(t, err)
	assert.Nil(t, scores)
}
