package structure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBBoxValid_RejectsInvertedAndOutOfPage(t *testing.T) {
	page := func(b BBox) bool { return b.Valid(612, 792) }

	// Given a well-formed box inside the page
	assert.True(t, page(BBox{Left: 10, Bottom: 20, Right: 100, Top: 80}))

	// When coordinates are inverted or escape the page, Then the box is dropped
	assert.False(t, page(BBox{Left: 100, Bottom: 20, Right: 10, Top: 80}), "inverted horizontally")
	assert.False(t, page(BBox{Left: 10, Bottom: 80, Right: 100, Top: 20}), "inverted vertically")
	assert.False(t, page(BBox{Left: -5, Bottom: 20, Right: 100, Top: 80}), "negative left")
	assert.False(t, page(BBox{Left: 10, Bottom: 20, Right: 700, Top: 80}), "past right edge")
	assert.False(t, page(BBox{Left: 10, Bottom: 20, Right: 100, Top: 900}), "past top edge")
}

func TestBBoxValid_UnboundedPageSkipsDimensionCheck(t *testing.T) {
	// Unknown page dimensions only enforce well-formedness.
	b := BBox{Left: 10, Bottom: 20, Right: 5000, Top: 8000}

	assert.True(t, b.Valid(0, 0))
}

func TestUnionAll_TightestEnclosingRect(t *testing.T) {
	boxes := []BBox{
		{Left: 10, Bottom: 50, Right: 100, Top: 90},
		{Left: 40, Bottom: 10, Right: 120, Top: 60},
	}

	u := UnionAll(boxes)

	assert.Equal(t, BBox{Left: 10, Bottom: 10, Right: 120, Top: 90}, u)
	assert.Equal(t, BBox{}, UnionAll(nil))
}

func TestSanitize_DropsBadElementsAndStampsVersion(t *testing.T) {
	// Given a page with one valid and one inverted element
	ps := PageStructure{
		Page:       1,
		PageWidth:  612,
		PageHeight: 792,
		Elements: []StructureElement{
			{ID: ElementID(1, 0), Type: "heading", BBox: BBox{Left: 10, Bottom: 700, Right: 300, Top: 750}},
			{ID: ElementID(1, 1), Type: "paragraph", BBox: BBox{Left: 300, Bottom: 700, Right: 10, Top: 750}},
		},
	}

	// When sanitised
	out := Sanitize(ps)

	// Then only the valid element remains and the page is versioned
	assert.Len(t, out.Elements, 1)
	assert.Equal(t, "elem_1_0", out.Elements[0].ID)
	assert.True(t, out.HasStructure)
	assert.Equal(t, MetadataVersionCurrent, out.MetadataVersion)
}

func TestSanitize_EmptyPageMarksNoStructure(t *testing.T) {
	out := Sanitize(PageStructure{Page: 3, PageWidth: 612, PageHeight: 792})

	assert.False(t, out.HasStructure)
	assert.Equal(t, MetadataVersionNone, out.MetadataVersion)
	assert.Empty(t, out.Elements)
}

func TestChunkBBox_SpanningChunksGetEnclosingRect(t *testing.T) {
	elems := []StructureElement{
		{BBox: BBox{Left: 10, Bottom: 400, Right: 300, Top: 450}},
		{BBox: BBox{Left: 10, Bottom: 300, Right: 320, Top: 390}},
	}

	bbox := ChunkBBox(elems)

	assert.NotNil(t, bbox)
	assert.Equal(t, BBox{Left: 10, Bottom: 300, Right: 320, Top: 450}, *bbox)
	assert.Nil(t, ChunkBBox(nil))
}

func TestParseBBox_RoundTripsWireForm(t *testing.T) {
	b := BBox{Left: 10.5, Bottom: 20.25, Right: 100, Top: 80}

	parsed, ok := ParseBBox(b.String())

	assert.True(t, ok)
	assert.InDelta(t, b.Left, parsed.Left, 0.01)
	assert.InDelta(t, b.Bottom, parsed.Bottom, 0.01)

	_, ok = ParseBBox("1,2,3")
	assert.False(t, ok)
	_, ok = ParseBBox("a,b,c,d")
	assert.False(t, ok)
}
