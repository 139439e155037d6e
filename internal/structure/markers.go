package structure

import (
	"fmt"
	"strings"
)

// WithChunkMarkers injects HTML-comment chunk markers into a markdown
// export. Each chunk's text is located in document order and wrapped in
// CHUNK_START/CHUNK_END comments carrying its page and bbox; comments
// are invisible when the markdown is rendered. Chunks whose text cannot
// be located verbatim are skipped, leaving the markdown intact.
func WithChunkMarkers(markdown string, chunks []ChunkInfo) string {
	if markdown == "" || len(chunks) == 0 {
		return markdown
	}

	var out strings.Builder
	out.Grow(len(markdown) + len(chunks)*96)

	cursor := 0
	for _, chunk := range chunks {
		text := strings.TrimSpace(chunk.Text)
		if text == "" {
			continue
		}
		idx := strings.Index(markdown[cursor:], text)
		if idx < 0 {
			continue
		}
		start := cursor + idx
		end := start + len(text)

		out.WriteString(markdown[cursor:start])
		out.WriteString(startMarker(chunk))
		out.WriteString(markdown[start:end])
		out.WriteString(endMarker(chunk))
		cursor = end
	}
	out.WriteString(markdown[cursor:])
	return out.String()
}

func startMarker(chunk ChunkInfo) string {
	bbox := "0,0,0,0"
	if chunk.BBox != nil {
		bbox = chunk.BBox.String()
	}
	return fmt.Sprintf("<!-- CHUNK_START: %s, PAGE: %d, BBOX: %s -->",
		chunk.ChunkID, chunk.Page, bbox)
}

func endMarker(chunk ChunkInfo) string {
	return fmt.Sprintf("<!-- CHUNK_END: %s -->", chunk.ChunkID)
}
