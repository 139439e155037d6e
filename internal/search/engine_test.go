package search

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/internal/encoder"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// queryEncoder answers every query with a fixed multivector.
type queryEncoder struct {
	vec encoder.MultiVector
	err error
}

func (q *queryEncoder) EmbedQuery(context.Context, string) (encoder.MultiVector, error) {
	return q.vec, q.err
}

func (q *queryEncoder) EmbedPages(context.Context, []string) ([]encoder.MultiVector, error) {
	return nil, nil
}

func (q *queryEncoder) EmbedChunks(context.Context, []string) ([]encoder.MultiVector, error) {
	return nil, nil
}

func (q *queryEncoder) Device() encoder.Device         { return encoder.DeviceCPU }
func (q *queryEncoder) Available(context.Context) bool { return true }
func (q *queryEncoder) Close() error                   { return nil }

// recordedSearch captures telemetry calls.
type recordedSearch struct {
	mode    Mode
	results int
}

type searchRecorder struct {
	mu    sync.Mutex
	calls []recordedSearch
}

func (r *searchRecorder) RecordSearch(mode Mode, _ StageTimings, results int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedSearch{mode: mode, results: results})
}

func seedDoc(t *testing.T, vs *store.Memory, docID, filename string, uploadTS int64,
	pageVec, chunkVec encoder.MultiVector, chunkText string) {
	t.Helper()
	ctx := context.Background()

	common := store.Metadata{
		store.KeyDocID:    docID,
		store.KeyFilename: filename,
		store.KeyUploadTS: uploadTS,
	}
	visual := store.Metadata{store.KeyPage: 1}
	for k, v := range common {
		visual[k] = v
	}
	require.NoError(t, vs.Add(ctx, store.CollectionVisual, []store.Record{{
		EmbeddingID: store.VisualEmbeddingID(docID, 1),
		Vector:      pageVec,
		Metadata:    visual,
	}}))

	text := store.Metadata{
		store.KeyPage:       1,
		store.KeyChunkIndex: 0,
		store.KeyText:       chunkText,
	}
	for k, v := range common {
		text[k] = v
	}
	require.NoError(t, vs.Add(ctx, store.CollectionText, []store.Record{{
		EmbeddingID: store.TextEmbeddingID(store.ChunkID(docID, 0)),
		Vector:      chunkVec,
		Metadata:    text,
	}}))
}

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *searchRecorder) {
	t.Helper()
	vs := store.NewMemory()
	rec := &searchRecorder{}
	enc := &queryEncoder{vec: encoder.MultiVector{{1, 0}}}
	return NewEngine(vs, enc, rec, nil), vs, rec
}

func TestSearch_HybridRanksAlignedDocumentFirst(t *testing.T) {
	// Given one document aligned with the query and one orthogonal
	engine, vs, rec := newTestEngine(t)
	seedDoc(t, vs, "feedfacefeedface", "aligned.pdf", 100,
		encoder.MultiVector{{0.9, 0.1}}, encoder.MultiVector{{0.95, 0.05}}, "revenue grew strongly")
	seedDoc(t, vs, "deadbeefdeadbeef", "orthogonal.pdf", 100,
		encoder.MultiVector{{0.1, 0.9}}, encoder.MultiVector{{0.05, 0.95}}, "unrelated topic")

	// When searching in hybrid mode
	resp, err := engine.Search(context.Background(), "revenue", Options{})
	require.NoError(t, err)

	// Then the aligned document ranks first with a [0,1] score
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "feedfacefeedface", resp.Results[0].DocID)
	assert.Equal(t, "aligned.pdf", resp.Results[0].Filename)
	assert.Equal(t, ResultBoth, resp.Results[0].Type)
	assert.Equal(t, "revenue grew strongly", resp.Results[0].Preview)
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.GreaterOrEqual(t, resp.LatencyMS, int64(0))

	// And telemetry recorded the call
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.calls, 1)
	assert.Equal(t, ModeHybrid, rec.calls[0].mode)
	assert.Equal(t, 2, rec.calls[0].results)
}

func TestSearch_VisualModeSkipsTextCollection(t *testing.T) {
	// Given a document indexed only in the text collection
	engine, vs, _ := newTestEngine(t)
	require.NoError(t, vs.Add(context.Background(), store.CollectionText, []store.Record{{
		EmbeddingID: store.TextEmbeddingID(store.ChunkID("deadbeefdeadbeef", 0)),
		Vector:      encoder.MultiVector{{1, 0}},
		Metadata: store.Metadata{
			store.KeyDocID: "deadbeefdeadbeef",
			store.KeyPage:  1, store.KeyChunkIndex: 0,
		},
	}}))

	// When searching in visual mode
	resp, err := engine.Search(context.Background(), "anything", Options{Mode: ModeVisual})
	require.NoError(t, err)

	// Then the text-only document never surfaces
	assert.Empty(t, resp.Results)
}

func TestSearch_TextModeReturnsTextType(t *testing.T) {
	engine, vs, _ := newTestEngine(t)
	seedDoc(t, vs, "feedfacefeedface", "doc.pdf", 100,
		encoder.MultiVector{{1, 0}}, encoder.MultiVector{{1, 0}}, "chunk text")

	resp, err := engine.Search(context.Background(), "query", Options{Mode: ModeText})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, ResultText, resp.Results[0].Type)
}

func TestSearch_DocIDFilterRestrictsResults(t *testing.T) {
	engine, vs, _ := newTestEngine(t)
	seedDoc(t, vs, "feedfacefeedface", "a.pdf", 100,
		encoder.MultiVector{{1, 0}}, encoder.MultiVector{{1, 0}}, "chunk a")
	seedDoc(t, vs, "deadbeefdeadbeef", "b.pdf", 100,
		encoder.MultiVector{{1, 0}}, encoder.MultiVector{{1, 0}}, "chunk b")

	resp, err := engine.Search(context.Background(), "query", Options{DocID: "deadbeefdeadbeef"})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, "deadbeefdeadbeef", resp.Results[0].DocID)
}

func TestSearch_NumResultsCapsOutput(t *testing.T) {
	engine, vs, _ := newTestEngine(t)
	seedDoc(t, vs, "feedfacefeedface", "a.pdf", 100,
		encoder.MultiVector{{1, 0}}, encoder.MultiVector{{1, 0}}, "chunk a")
	seedDoc(t, vs, "deadbeefdeadbeef", "b.pdf", 100,
		encoder.MultiVector{{0.8, 0.2}}, encoder.MultiVector{{0.8, 0.2}}, "chunk b")

	resp, err := engine.Search(context.Background(), "query", Options{NumResults: 1})
	require.NoError(t, err)

	assert.Len(t, resp.Results, 1)
}

func TestSearch_RejectsEmptyQuery(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Search(context.Background(), "   ", Options{})

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestSearch_RejectsUnknownMode(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Search(context.Background(), "query", Options{Mode: "fuzzy"})

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestSearch_RejectsAlphaOutOfRange(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	alpha := 1.5

	_, err := engine.Search(context.Background(), "query", Options{Alpha: &alpha})

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
}

func TestSearch_EncoderFailurePropagates(t *testing.T) {
	vs := store.NewMemory()
	enc := &queryEncoder{err: amerrors.New(amerrors.ErrCodeEncoderUnavailable, "encoder sidecar down", nil)}
	engine := NewEngine(vs, enc, nil, nil)

	_, err := engine.Search(context.Background(), "query", Options{})

	assert.Equal(t, amerrors.ErrCodeEncoderUnavailable, amerrors.GetCode(err))
}

func TestSearch_EmptyIndexReturnsNoResults(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	resp, err := engine.Search(context.Background(), "query", Options{})
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.Equal(t, "query", resp.Query)
}
