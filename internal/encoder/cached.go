package encoder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultQueryCacheSize is the default number of query embeddings kept
// in memory. A cached query skips the encoder round-trip entirely.
const DefaultQueryCacheSize = 256

// CachedEncoder wraps an Encoder with an LRU cache over query
// embeddings. Page and chunk embeddings are not cached: documents are
// embedded once per ingestion, queries repeat.
type CachedEncoder struct {
	inner Encoder
	cache *lru.Cache[string, MultiVector]
}

var _ Encoder = (*CachedEncoder)(nil)

// NewCachedEncoder creates a cached encoder wrapping inner.
func NewCachedEncoder(inner Encoder, cacheSize int) *CachedEncoder {
	if cacheSize <= 0 {
		cacheSize = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, MultiVector](cacheSize)
	return &CachedEncoder{inner: inner, cache: cache}
}

// cacheKey hashes the query together with the device so a device
// fallback mid-process never serves stale vectors.
func (c *CachedEncoder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(string(c.inner.Device()) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// EmbedQuery returns the cached embedding when available.
func (c *CachedEncoder) EmbedQuery(ctx context.Context, text string) (MultiVector, error) {
	key := c.cacheKey(text)
	if mv, ok := c.cache.Get(key); ok {
		return mv, nil
	}

	mv, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, mv)
	return mv, nil
}

// EmbedPages delegates to the wrapped encoder.
func (c *CachedEncoder) EmbedPages(ctx context.Context, imagePaths []string) ([]MultiVector, error) {
	return c.inner.EmbedPages(ctx, imagePaths)
}

// EmbedChunks delegates to the wrapped encoder.
func (c *CachedEncoder) EmbedChunks(ctx context.Context, texts []string) ([]MultiVector, error) {
	return c.inner.EmbedChunks(ctx, texts)
}

// Device delegates to the wrapped encoder.
func (c *CachedEncoder) Device() Device { return c.inner.Device() }

// Available delegates to the wrapped encoder.
func (c *CachedEncoder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close purges the cache and closes the wrapped encoder.
func (c *CachedEncoder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
