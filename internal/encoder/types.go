// Package encoder provides a facade over the out-of-process embedding
// encoder sidecar. Two model families sit behind one HTTP surface: a
// multi-vector visual-text encoder for page renders and a sentence-level
// encoder for text chunks and queries. The facade handles batching,
// device fallback, and the one-shot half-batch retry on GPU memory
// exhaustion.
package encoder

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize caps batch sizes to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultVisualBatchSize is the default page-image batch size.
	// Visual batches are small: one page occupies ~1000 token vectors.
	DefaultVisualBatchSize = 4

	// DefaultTextBatchSize is the default chunk batch size.
	DefaultTextBatchSize = 32

	// DefaultTimeout is the default per-request timeout. Cold model
	// loads on the sidecar can take most of this.
	DefaultTimeout = 120 * time.Second
)

// Device identifies the compute device the encoder runs on.
type Device string

const (
	// DeviceGPU requests the accelerated device.
	DeviceGPU Device = "gpu"
	// DeviceCPU forces CPU execution.
	DeviceCPU Device = "cpu"
)

// MultiVector is a per-token embedding matrix of shape (T, D) produced
// by late-interaction encoders. Rows are token vectors; all rows share
// one dimension.
type MultiVector [][]float32

// Rows returns the token count T.
func (m MultiVector) Rows() int { return len(m) }

// Dim returns the embedding dimension D, or 0 for an empty matrix.
func (m MultiVector) Dim() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Pool returns the mean over the token axis, the single dense vector
// used for the ANN candidate stage. Returns nil for an empty matrix.
func (m MultiVector) Pool() []float32 {
	if len(m) == 0 {
		return nil
	}
	dim := len(m[0])
	pooled := make([]float64, dim)
	for _, row := range m {
		for i, v := range row {
			pooled[i] += float64(v)
		}
	}
	out := make([]float32, dim)
	n := float64(len(m))
	for i, v := range pooled {
		out[i] = float32(v / n)
	}
	return out
}

// SumMax computes the late-interaction score against a document matrix:
// for each query token the best-matching document token contributes its
// dot product, and the contributions are summed.
func (m MultiVector) SumMax(doc MultiVector) float64 {
	if len(m) == 0 || len(doc) == 0 {
		return 0
	}
	var total float64
	for _, q := range m {
		best := math.Inf(-1)
		for _, d := range doc {
			var dot float64
			for i := range q {
				if i >= len(d) {
					break
				}
				dot += float64(q[i]) * float64(d[i])
			}
			if dot > best {
				best = dot
			}
		}
		total += best
	}
	return total
}

// Encoder is the facade over both embedding models. Implementations
// preserve input order and return one matrix per input. Batches are the
// only non-interruptible unit: cancellation is observed between batches,
// never inside one.
type Encoder interface {
	// EmbedPages embeds rasterised page images given by file path.
	EmbedPages(ctx context.Context, imagePaths []string) ([]MultiVector, error)

	// EmbedChunks embeds text chunks.
	EmbedChunks(ctx context.Context, texts []string) ([]MultiVector, error)

	// EmbedQuery embeds a search query with the query-side tokenizer.
	EmbedQuery(ctx context.Context, text string) (MultiVector, error)

	// Device returns the device the encoder settled on after fallback.
	Device() Device

	// Available checks whether the encoder sidecar is reachable.
	Available(ctx context.Context) bool

	// Close releases client resources.
	Close() error
}
