package store

import (
	"crypto/sha256"
	"fmt"
)

// VisualEmbeddingID builds the page-level embedding identifier,
// visual_{doc_id}_{page:03d}.
func VisualEmbeddingID(docID string, page int) string {
	return fmt.Sprintf("visual_%s_%03d", docID, page)
}

// TextEmbeddingID builds the chunk-level embedding identifier,
// text_{chunk_id}.
func TextEmbeddingID(chunkID string) string {
	return "text_" + chunkID
}

// ChunkID builds the stable chunk identifier, chunk_{doc_id}_{index}.
// The index is the chunk's position in parse order, so reprocessing a
// byte-identical document yields identical ids.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("chunk_%s_%d", docID, index)
}

// PointUUID derives the backend point id from an embedding id. The
// backend only accepts UUIDs (or unsigned integers) as point ids, so
// the logical id is hashed and the version/variant bits forced to make
// the digest a valid UUID. The embedding id itself is kept verbatim in
// the payload.
func PointUUID(embeddingID string) string {
	h := sha256.Sum256([]byte(embeddingID))
	h[6] = (h[6] & 0x0f) | 0x50
	h[8] = (h[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
