package encoder

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEncoder counts query embeds so cache hits are observable.
type countingEncoder struct {
	queryCalls atomic.Int64
}

func (c *countingEncoder) EmbedPages(_ context.Context, paths []string) ([]MultiVector, error) {
	out := make([]MultiVector, len(paths))
	for i := range out {
		out[i] = MultiVector{{1, 0}}
	}
	return out, nil
}

func (c *countingEncoder) EmbedChunks(_ context.Context, texts []string) ([]MultiVector, error) {
	out := make([]MultiVector, len(texts))
	for i := range out {
		out[i] = MultiVector{{0, 1}}
	}
	return out, nil
}

func (c *countingEncoder) EmbedQuery(_ context.Context, text string) (MultiVector, error) {
	c.queryCalls.Add(1)
	return MultiVector{{float32(len(text)), 1}}, nil
}

func (c *countingEncoder) Device() Device                   { return DeviceCPU }
func (c *countingEncoder) Available(_ context.Context) bool { return true }
func (c *countingEncoder) Close() error                     { return nil }

func TestCachedEncoder_QueryHitSkipsEncoder(t *testing.T) {
	// Given: a cached encoder
	inner := &countingEncoder{}
	cached := NewCachedEncoder(inner, 8)

	// When: embedding the same query twice
	first, err := cached.EmbedQuery(context.Background(), "revenue")
	require.NoError(t, err)
	second, err := cached.EmbedQuery(context.Background(), "revenue")
	require.NoError(t, err)

	// Then: the encoder ran once and both results match
	assert.Equal(t, int64(1), inner.queryCalls.Load())
	assert.Equal(t, first, second)
}

func TestCachedEncoder_DistinctQueriesMiss(t *testing.T) {
	inner := &countingEncoder{}
	cached := NewCachedEncoder(inner, 8)

	_, err := cached.EmbedQuery(context.Background(), "alpha")
	require.NoError(t, err)
	_, err = cached.EmbedQuery(context.Background(), "beta")
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.queryCalls.Load())
}

func TestCachedEncoder_ChunksNotCached(t *testing.T) {
	inner := &countingEncoder{}
	cached := NewCachedEncoder(inner, 8)

	out, err := cached.EmbedChunks(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int64(0), inner.queryCalls.Load())
}
