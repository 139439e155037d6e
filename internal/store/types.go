// Package store provides the dual-collection vector store client. Every
// embedding is one point in the external store: the dense vector is the
// mean-pooled multivector used for the ANN candidate stage, and the full
// multivector rides along as a compressed payload sidecar for the
// late-interaction rescoring stage.
package store

import (
	"context"
	"time"

	"github.com/Aman-CERP/amanrag/internal/encoder"
)

// Collection identifies one of the two logical collections.
type Collection string

const (
	// CollectionVisual holds page-level multivectors for visual formats.
	CollectionVisual Collection = "visual"
	// CollectionText holds chunk-level multivectors for all formats.
	CollectionText Collection = "text"
)

// Metadata is the flat payload attached to an embedding. Values are
// primitives only; Sanitize enforces this at the boundary.
type Metadata map[string]any

// Sidecar payload keys. These carry compressed blobs and are exempt
// from the sanitiser's string cap.
const (
	// KeyEmbeddingID carries the logical embedding identifier verbatim.
	KeyEmbeddingID = "embedding_id"
	// KeyDocID carries the owning document identifier.
	KeyDocID = "doc_id"
	// KeyEmbeddingCompressed holds the gzip+base64 multivector tensor.
	KeyEmbeddingCompressed = "embedding_compressed"
	// KeyEmbeddingShape holds the tensor shape as "TxD".
	KeyEmbeddingShape = "embedding_shape"
	// KeyEmbeddingCompression tags the tensor encoding.
	KeyEmbeddingCompression = "embedding_compression"
	// KeyFullMarkdown holds small markdown documents inline.
	KeyFullMarkdown = "full_markdown"
	// KeyFullMarkdownCompressed holds the gzip+base64 markdown blob.
	KeyFullMarkdownCompressed = "full_markdown_compressed"
	// KeyMarkdownCompression tags the markdown encoding: "none" or
	// "gzip+base64".
	KeyMarkdownCompression = "markdown_compression"
)

// Common payload keys written by the processor and read back by
// search, structure, and deletion.
const (
	KeyFilename       = "filename"
	KeyPage           = "page"
	KeyPageCount      = "page_count"
	KeyUploadTS       = "upload_ts"
	KeyFormatType     = "format_type"
	KeyChunkIndex     = "chunk_index"
	KeyText           = "text"
	KeyElementID      = "element_id"
	KeySectionHeading = "section_heading"
	KeyBBox           = "bbox"
)

// CompressionGzipBase64 is the encoding tag for gzip+base64 blobs.
const CompressionGzipBase64 = "gzip+base64"

// CompressionNone is the encoding tag for inline values.
const CompressionNone = "none"

// DefaultTimeout bounds individual vector store operations.
const DefaultTimeout = 30 * time.Second

// Record is one embedding with its payload metadata.
type Record struct {
	EmbeddingID string
	Vector      encoder.MultiVector
	Metadata    Metadata
}

// Candidate is one ANN query hit. The full multivector is decompressed
// from the payload so stage-2 rescoring needs no second fetch.
type Candidate struct {
	EmbeddingID string
	Score       float32
	Vector      encoder.MultiVector
	Metadata    Metadata
}

// Filter restricts queries and deletes by payload equality. Zero values
// are ignored.
type Filter struct {
	DocID string
	Page  int // 1-indexed; 0 means any page
}

// DeleteCounts reports per-collection deletion totals.
type DeleteCounts struct {
	Visual int `json:"visual_embeddings"`
	Text   int `json:"text_embeddings"`
}

// VectorStore is the client interface over both collections. Backend
// outages surface as retryable dependency errors; corrupted payloads
// are fatal and logged with the embedding id.
type VectorStore interface {
	// EnsureCollections creates both collections and their payload
	// indexes when missing. Idempotent; runs at serve startup.
	EnsureCollections(ctx context.Context, dim int) error

	// Add upserts records into a collection.
	Add(ctx context.Context, col Collection, records []Record) error

	// Get fetches one record by embedding id, decompressing the tensor.
	// Returns (nil, nil) when the id is absent.
	Get(ctx context.Context, col Collection, embeddingID string) (*Record, error)

	// Query runs ANN search on the pooled vectors and returns ranked
	// candidates with payloads. Late-interaction scoring is the
	// caller's job.
	Query(ctx context.Context, col Collection, pooled []float32, topK int, filter Filter) ([]Candidate, error)

	// Scroll returns up to limit records matching the filter, payloads
	// only (no tensors decompressed).
	Scroll(ctx context.Context, col Collection, filter Filter, limit int) ([]Record, error)

	// Count returns the number of points matching the filter.
	Count(ctx context.Context, col Collection, filter Filter) (int, error)

	// DeleteByDoc removes every point owned by a document from both
	// collections and reports per-collection counts.
	DeleteByDoc(ctx context.Context, docID string) (DeleteCounts, error)

	// GetDocumentMarkdown finds a document's markdown sidecar in either
	// collection and returns the decompressed text. Returns ("", nil)
	// when the document has no markdown.
	GetDocumentMarkdown(ctx context.Context, docID string) (string, error)

	// ListDocIDs returns the distinct doc_ids present in either
	// collection. Used by the orphan sweep.
	ListDocIDs(ctx context.Context) ([]string, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
