package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithChunkMarkers_WrapsChunksInOrder(t *testing.T) {
	// Given a markdown export and its two chunks
	markdown := "# Results\n\nRevenue grew 14%.\n\nCosts fell 3%.\n"
	bbox := &BBox{Left: 10, Bottom: 20, Right: 100, Top: 80}
	chunks := []ChunkInfo{
		{ChunkID: "chunk_abc_0", Page: 1, Text: "Revenue grew 14%.", BBox: bbox},
		{ChunkID: "chunk_abc_1", Page: 1, Text: "Costs fell 3%."},
	}

	// When markers are injected
	out := WithChunkMarkers(markdown, chunks)

	// Then each chunk is wrapped and the visible text is unchanged
	assert.Contains(t, out,
		"<!-- CHUNK_START: chunk_abc_0, PAGE: 1, BBOX: 10.00,20.00,100.00,80.00 -->Revenue grew 14%.<!-- CHUNK_END: chunk_abc_0 -->")
	assert.Contains(t, out,
		"<!-- CHUNK_START: chunk_abc_1, PAGE: 1, BBOX: 0,0,0,0 -->Costs fell 3%.<!-- CHUNK_END: chunk_abc_1 -->")
	assert.Contains(t, out, "# Results")
}

func TestWithChunkMarkers_SkipsUnlocatableChunks(t *testing.T) {
	markdown := "Only this sentence exists.\n"
	chunks := []ChunkInfo{
		{ChunkID: "chunk_abc_0", Page: 1, Text: "This text is not in the export."},
		{ChunkID: "chunk_abc_1", Page: 1, Text: "Only this sentence exists."},
	}

	out := WithChunkMarkers(markdown, chunks)

	assert.NotContains(t, out, "chunk_abc_0")
	assert.Contains(t, out, "CHUNK_START: chunk_abc_1")
}

func TestWithChunkMarkers_EmptyInputsPassThrough(t *testing.T) {
	assert.Equal(t, "", WithChunkMarkers("", []ChunkInfo{{Text: "x"}}))
	assert.Equal(t, "text", WithChunkMarkers("text", nil))
	assert.Equal(t, "text", WithChunkMarkers("text", []ChunkInfo{{Text: "   "}}))
}
