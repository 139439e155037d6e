// Package parser routes incoming files by format and adapts the parser
// and converter sidecars into a single ParsedDoc shape the processor
// consumes.
package parser

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/structure"
)

// FormatType classifies an input file by extension.
type FormatType string

const (
	// FormatVisual renders pages to images and embeds both modalities.
	FormatVisual FormatType = "visual"
	// FormatTextOnly has no page renders; only text chunks are embedded.
	FormatTextOnly FormatType = "text_only"
	// FormatAudio is transcribed by ASR before chunking.
	FormatAudio FormatType = "audio"
	// FormatLegacyOffice must pass through the converter first.
	FormatLegacyOffice FormatType = "legacy_office"
	// FormatUnsupported rejects the file at intake.
	FormatUnsupported FormatType = "unsupported"
)

// formatByExt maps lowercase extensions (without dot) to format types.
var formatByExt = map[string]FormatType{
	"pdf":  FormatVisual,
	"png":  FormatVisual,
	"jpg":  FormatVisual,
	"jpeg": FormatVisual,
	"tiff": FormatVisual,
	"bmp":  FormatVisual,
	"webp": FormatVisual,

	"docx":     FormatTextOnly,
	"xlsx":     FormatTextOnly,
	"pptx":     FormatTextOnly,
	"md":       FormatTextOnly,
	"html":     FormatTextOnly,
	"htm":      FormatTextOnly,
	"xhtml":    FormatTextOnly,
	"asciidoc": FormatTextOnly,
	"csv":      FormatTextOnly,
	"xml":      FormatTextOnly,
	"json":     FormatTextOnly,
	"vtt":      FormatTextOnly,

	"mp3": FormatAudio,
	"wav": FormatAudio,

	"doc": FormatLegacyOffice,
	"dot": FormatLegacyOffice,
}

// Classify returns the format type for a filename. Unknown extensions
// classify as unsupported rather than erroring so intake can reject
// them with a clean message.
func Classify(filename string) FormatType {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ft, ok := formatByExt[ext]; ok {
		return ft
	}
	return FormatUnsupported
}

// SupportedExtensions returns the sorted-by-type list of extensions the
// router accepts, for intake validation messages.
func SupportedExtensions() []string {
	out := make([]string, 0, len(formatByExt))
	for ext := range formatByExt {
		out = append(out, ext)
	}
	return out
}

// Page is one parsed page: an optional rasterised render plus its text.
// TextOnly and audio formats carry no image path.
type Page struct {
	PageNumber int    `json:"page_number"`
	ImagePath  string `json:"image_path,omitempty"`
	Text       string `json:"text"`
}

// Chunk is one retrieval unit produced by the parser's chunker.
type Chunk struct {
	ChunkID        string `json:"chunk_id,omitempty"`
	Page           int    `json:"page"`
	Index          int    `json:"index"`
	Text           string `json:"text"`
	ElementID      string `json:"element_id,omitempty"`
	SectionHeading string `json:"section_heading,omitempty"`
}

// AudioInfo carries audio properties and tags extracted before ASR
// runs, plus the album art sidecar when present.
type AudioInfo struct {
	DurationS    float64           `json:"duration_s"`
	SampleRate   int               `json:"sample_rate,omitempty"`
	Channels     int               `json:"channels,omitempty"`
	BitrateKbps  int               `json:"bitrate_kbps,omitempty"`
	ID3          map[string]string `json:"id3,omitempty"`
	AlbumArtPath string            `json:"album_art_path,omitempty"`
	AlbumArtMime string            `json:"album_art_mime,omitempty"`
}

// ParsedDoc is the router's normalised output for every format type.
// Markdown extraction failure is non-fatal: MarkdownError carries the
// reason while Pages and Chunks still return.
type ParsedDoc struct {
	Format        FormatType                `json:"format"`
	Pages         []Page                    `json:"pages"`
	Chunks        []Chunk                   `json:"chunks"`
	Markdown      string                    `json:"markdown"`
	MarkdownError string                    `json:"markdown_error,omitempty"`
	Structure     []structure.PageStructure `json:"structure,omitempty"`
	Audio         *AudioInfo                `json:"audio,omitempty"`
}

// DefaultTimeout bounds a single parse call. Large PDFs rasterise
// slowly; the per-job page timeout in ingest is the real bound.
const DefaultTimeout = 30 * time.Second
