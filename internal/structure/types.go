// Package structure holds per-page layout metadata: structure elements
// with bounding boxes, their serialised form in vector-store payloads,
// and the chunk markers injected into exported markdown.
package structure

import "fmt"

// Metadata versions recorded alongside structure payloads. Version 0.0
// marks a page whose extraction failed or was skipped; declines are
// non-fatal for ingestion.
const (
	MetadataVersionNone    = "0.0"
	MetadataVersionCurrent = "1.0"
)

// BBox is a PDF-style bounding box: origin at the bottom-left of the
// page, so left < right and bottom < top.
type BBox struct {
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
}

// Valid reports whether the box is well-formed and lies within a page
// of the given dimensions. Inverted or out-of-page boxes are dropped at
// ingestion time rather than propagated to clients.
func (b BBox) Valid(pageWidth, pageHeight float64) bool {
	if b.Left >= b.Right || b.Bottom >= b.Top {
		return false
	}
	if b.Left < 0 || b.Bottom < 0 {
		return false
	}
	if pageWidth > 0 && b.Right > pageWidth {
		return false
	}
	if pageHeight > 0 && b.Top > pageHeight {
		return false
	}
	return true
}

// Union returns the tightest rectangle enclosing both boxes.
func (b BBox) Union(other BBox) BBox {
	out := b
	if other.Left < out.Left {
		out.Left = other.Left
	}
	if other.Bottom < out.Bottom {
		out.Bottom = other.Bottom
	}
	if other.Right > out.Right {
		out.Right = other.Right
	}
	if other.Top > out.Top {
		out.Top = other.Top
	}
	return out
}

// String renders the box in the compact "l,b,r,t" wire form used in
// markdown markers and chunk payloads.
func (b BBox) String() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f", b.Left, b.Bottom, b.Right, b.Top)
}

// UnionAll returns the tightest rectangle enclosing every box, or a
// zero box when the slice is empty.
func UnionAll(boxes []BBox) BBox {
	if len(boxes) == 0 {
		return BBox{}
	}
	out := boxes[0]
	for _, b := range boxes[1:] {
		out = out.Union(b)
	}
	return out
}

// StructureElement is one layout element on a page. IDs follow
// elem_{page}_{index} and are stable across reprocessing of identical
// input.
type StructureElement struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"` // heading, paragraph, table, figure, list, caption
	Text       string  `json:"text,omitempty"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ElementID builds the stable element identifier for a page position.
func ElementID(page, index int) string {
	return fmt.Sprintf("elem_%d_%d", page, index)
}

// PageStructure is the layout of a single page as served to clients.
type PageStructure struct {
	Page            int                `json:"page"`
	PageWidth       float64            `json:"page_width"`
	PageHeight      float64            `json:"page_height"`
	Elements        []StructureElement `json:"elements"`
	MetadataVersion string             `json:"metadata_version"`
	HasStructure    bool               `json:"has_structure"`
}

// ChunkInfo is the chunk-level payload served from text embedding
// metadata: the chunk's text, page, and the bbox it inherits from its
// source elements.
type ChunkInfo struct {
	ChunkID        string `json:"chunk_id"`
	DocID          string `json:"doc_id"`
	Page           int    `json:"page"`
	Index          int    `json:"index"`
	Text           string `json:"text"`
	ElementID      string `json:"element_id,omitempty"`
	SectionHeading string `json:"section_heading,omitempty"`
	BBox           *BBox  `json:"bbox,omitempty"`
}

// Sanitize drops malformed elements and stamps the version fields. A
// page that loses every element keeps HasStructure=false so clients can
// distinguish "no layout" from "layout pending".
func Sanitize(ps PageStructure) PageStructure {
	kept := make([]StructureElement, 0, len(ps.Elements))
	for _, el := range ps.Elements {
		if !el.BBox.Valid(ps.PageWidth, ps.PageHeight) {
			continue
		}
		kept = append(kept, el)
	}
	ps.Elements = kept
	ps.HasStructure = len(kept) > 0
	if ps.HasStructure {
		ps.MetadataVersion = MetadataVersionCurrent
	} else {
		ps.MetadataVersion = MetadataVersionNone
	}
	return ps
}

// ChunkBBox resolves the bbox a chunk inherits: the box of its source
// element, or the tightest rectangle enclosing all of them when the
// chunk spans several.
func ChunkBBox(elements []StructureElement) *BBox {
	if len(elements) == 0 {
		return nil
	}
	boxes := make([]BBox, len(elements))
	for i, el := range elements {
		boxes[i] = el.BBox
	}
	u := UnionAll(boxes)
	return &u
}
