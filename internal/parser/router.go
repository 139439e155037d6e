package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/structure"
)

// Parser parses one file into a ParsedDoc. Satisfied by *Client.
type Parser interface {
	Parse(ctx context.Context, filePath, outputDir string, format FormatType) (*ParsedDoc, error)
}

// DocConverter converts a legacy Office file to .docx. Satisfied by
// *Converter.
type DocConverter interface {
	Convert(ctx context.Context, filePath, outputDir string) (string, error)
}

// Router classifies files and dispatches them through the converter
// and parser sidecars.
type Router struct {
	parser    Parser
	converter DocConverter
	logger    *slog.Logger
}

// NewRouter creates a format router.
func NewRouter(p Parser, c DocConverter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{parser: p, converter: c, logger: logger.With("component", "router")}
}

// Route classifies filename, converts legacy Office files, and parses.
// The returned document carries the format of the ORIGINAL file: a
// converted .doc still reports legacy_office so the processor treats it
// as text-only without losing provenance. filePath is the local copy on
// disk; filename is the original upload name used for classification.
func (r *Router) Route(ctx context.Context, filePath, filename, outputDir string) (*ParsedDoc, error) {
	format := Classify(filename)
	switch format {
	case FormatUnsupported:
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported file type: %s", filename), nil).
			WithSuggestion("Supported extensions: " + strings.Join(SupportedExtensions(), ", "))
	case FormatLegacyOffice:
		if r.converter == nil {
			return nil, amerrors.New(amerrors.ErrCodeConverterUnavailable,
				"no converter configured for legacy Office formats", nil)
		}
		converted, err := r.converter.Convert(ctx, filePath, outputDir)
		if err != nil {
			return nil, err
		}
		r.logger.Info("converted legacy document",
			slog.String("filename", filename),
			slog.String("output", converted))

		// Re-enter with the converted path; filename and format stay
		// with the original so doc_id derivation is unaffected.
		doc, err := r.parse(ctx, converted, outputDir, FormatTextOnly)
		if err != nil {
			return nil, err
		}
		doc.Format = FormatLegacyOffice
		return doc, nil
	default:
		return r.parse(ctx, filePath, outputDir, format)
	}
}

// parse invokes the parser sidecar and normalises its result.
func (r *Router) parse(ctx context.Context, filePath, outputDir string, format FormatType) (*ParsedDoc, error) {
	doc, err := r.parser.Parse(ctx, filePath, outputDir, format)
	if err != nil {
		return nil, err
	}
	doc.Format = format
	normalize(doc, format)
	return doc, nil
}

// normalize enforces the invariants the processor relies on: pages in
// ascending order with 1-indexed numbers, chunk indexes contiguous from
// zero, and structure pages sanitised.
func normalize(doc *ParsedDoc, format FormatType) {
	if doc.Pages == nil {
		doc.Pages = []Page{}
	}
	if doc.Chunks == nil {
		doc.Chunks = []Chunk{}
	}
	for i := range doc.Pages {
		if doc.Pages[i].PageNumber <= 0 {
			doc.Pages[i].PageNumber = i + 1
		}
	}
	for i := range doc.Chunks {
		doc.Chunks[i].Index = i
		if doc.Chunks[i].Page <= 0 {
			doc.Chunks[i].Page = 1
		}
	}
	for i := range doc.Structure {
		doc.Structure[i] = structure.Sanitize(doc.Structure[i])
	}

	// Non-visual formats never carry page renders, whatever the sidecar
	// sends back.
	if format != FormatVisual {
		for i := range doc.Pages {
			doc.Pages[i].ImagePath = ""
		}
		doc.Structure = nil
	}
}
