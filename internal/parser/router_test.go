package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/structure"
)

// stubParser returns a fixed doc and records the path it was given.
type stubParser struct {
	doc      ParsedDoc
	err      error
	gotPath  string
	gotKind  FormatType
	gotOut   string
	numCalls int
}

func (s *stubParser) Parse(_ context.Context, filePath, outputDir string, format FormatType) (*ParsedDoc, error) {
	s.numCalls++
	s.gotPath = filePath
	s.gotOut = outputDir
	s.gotKind = format
	if s.err != nil {
		return nil, s.err
	}
	doc := s.doc
	return &doc, nil
}

type stubConverter struct {
	output string
	err    error
	got    string
}

func (s *stubConverter) Convert(_ context.Context, filePath, _ string) (string, error) {
	s.got = filePath
	return s.output, s.err
}

func TestRouter_VisualGoesStraightToParser(t *testing.T) {
	p := &stubParser{doc: ParsedDoc{Pages: []Page{{Text: "a"}, {Text: "b"}}}}
	r := NewRouter(p, nil, nil)

	doc, err := r.Route(context.Background(), "/data/uploads/q4.pdf", "q4.pdf", "/data/tmp/q4")
	require.NoError(t, err)

	assert.Equal(t, FormatVisual, doc.Format)
	assert.Equal(t, "/data/uploads/q4.pdf", p.gotPath)
	assert.Equal(t, "/data/tmp/q4", p.gotOut)
	assert.Equal(t, FormatVisual, p.gotKind)
}

func TestRouter_LegacyOfficeConvertsThenReenters(t *testing.T) {
	// Given a .doc upload and a converter producing a .docx
	p := &stubParser{doc: ParsedDoc{Chunks: []Chunk{{Text: "body"}}}}
	c := &stubConverter{output: "/data/tmp/memo.docx"}
	r := NewRouter(p, c, nil)

	// When routed
	doc, err := r.Route(context.Background(), "/data/uploads/memo.doc", "memo.doc", "/data/tmp")
	require.NoError(t, err)

	// Then the converter ran first, the parser saw the .docx as
	// text-only, and the doc still reports its original format
	assert.Equal(t, "/data/uploads/memo.doc", c.got)
	assert.Equal(t, "/data/tmp/memo.docx", p.gotPath)
	assert.Equal(t, FormatTextOnly, p.gotKind)
	assert.Equal(t, FormatLegacyOffice, doc.Format)
}

func TestRouter_LegacyOfficeWithoutConverterFails(t *testing.T) {
	r := NewRouter(&stubParser{}, nil, nil)

	_, err := r.Route(context.Background(), "/x/memo.doc", "memo.doc", "/tmp")

	assert.Equal(t, amerrors.ErrCodeConverterUnavailable, amerrors.GetCode(err))
}

func TestRouter_UnsupportedExtensionRejected(t *testing.T) {
	p := &stubParser{}
	r := NewRouter(p, nil, nil)

	_, err := r.Route(context.Background(), "/x/a.zip", "a.zip", "/tmp")

	assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err))
	assert.Zero(t, p.numCalls, "parser must not run for unsupported files")
}

func TestRouter_NormalizesPageNumbersAndChunkIndexes(t *testing.T) {
	// Given a sidecar response with zeroed page numbers and gappy indexes
	p := &stubParser{doc: ParsedDoc{
		Pages:  []Page{{Text: "a"}, {Text: "b"}, {Text: "c"}},
		Chunks: []Chunk{{Page: 0, Index: 4, Text: "x"}, {Page: 2, Index: 9, Text: "y"}},
	}}
	r := NewRouter(p, nil, nil)

	// When routed
	doc, err := r.Route(context.Background(), "/x/a.pdf", "a.pdf", "/tmp")
	require.NoError(t, err)

	// Then pages are 1-indexed ascending and chunk indexes contiguous
	assert.Equal(t, []int{1, 2, 3}, []int{doc.Pages[0].PageNumber, doc.Pages[1].PageNumber, doc.Pages[2].PageNumber})
	assert.Equal(t, 0, doc.Chunks[0].Index)
	assert.Equal(t, 1, doc.Chunks[0].Page)
	assert.Equal(t, 1, doc.Chunks[1].Index)
	assert.Equal(t, 2, doc.Chunks[1].Page)
}

func TestRouter_TextOnlyDropsRendersAndStructure(t *testing.T) {
	p := &stubParser{doc: ParsedDoc{
		Pages:     []Page{{PageNumber: 1, ImagePath: "/leak/page001.png", Text: "a"}},
		Structure: []structure.PageStructure{{Page: 1}},
	}}
	r := NewRouter(p, nil, nil)

	doc, err := r.Route(context.Background(), "/x/notes.md", "notes.md", "/tmp")
	require.NoError(t, err)

	assert.Empty(t, doc.Pages[0].ImagePath)
	assert.Nil(t, doc.Structure)
}

func TestRouter_SanitizesStructurePages(t *testing.T) {
	// Given a visual doc whose structure has one inverted bbox
	p := &stubParser{doc: ParsedDoc{
		Pages: []Page{{PageNumber: 1, Text: "a"}},
		Structure: []structure.PageStructure{{
			Page: 1, PageWidth: 612, PageHeight: 792,
			Elements: []structure.StructureElement{
				{ID: "elem_1_0", BBox: structure.BBox{Left: 10, Bottom: 10, Right: 100, Top: 100}},
				{ID: "elem_1_1", BBox: structure.BBox{Left: 100, Bottom: 10, Right: 10, Top: 100}},
			},
		}},
	}}
	r := NewRouter(p, nil, nil)

	doc, err := r.Route(context.Background(), "/x/a.pdf", "a.pdf", "/tmp")
	require.NoError(t, err)

	require.Len(t, doc.Structure, 1)
	assert.Len(t, doc.Structure[0].Elements, 1)
	assert.True(t, doc.Structure[0].HasStructure)
}
