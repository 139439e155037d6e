package search

import (
	"sort"

	"github.com/Aman-CERP/amanrag/internal/encoder"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// candidate is one rescored ANN hit with the payload fields fusion
// needs.
type candidate struct {
	embeddingID string
	docID       string
	filename    string
	page        int
	uploadTS    int64
	score       float64 // late-interaction raw, then min-max normalised
	text        string  // chunk text; empty for visual hits
	chunkID     string
}

// rescore applies the late-interaction score to each ANN candidate and
// lifts the payload fields used downstream. Candidates with an empty
// tensor are dropped rather than scored at zero.
func rescore(query encoder.MultiVector, hits []store.Candidate) []candidate {
	out := make([]candidate, 0, len(hits))
	for _, hit := range hits {
		if hit.Vector.Rows() == 0 {
			continue
		}
		c := candidate{
			embeddingID: hit.EmbeddingID,
			docID:       store.MetaString(hit.Metadata, store.KeyDocID),
			filename:    store.MetaString(hit.Metadata, store.KeyFilename),
			page:        store.MetaInt(hit.Metadata, store.KeyPage),
			uploadTS:    int64(store.MetaInt(hit.Metadata, store.KeyUploadTS)),
			score:       query.SumMax(hit.Vector),
			text:        store.MetaString(hit.Metadata, store.KeyText),
		}
		if _, ok := hit.Metadata[store.KeyChunkIndex]; ok {
			c.chunkID = store.ChunkID(c.docID, store.MetaInt(hit.Metadata, store.KeyChunkIndex))
		}
		out = append(out, c)
	}
	return out
}

// normalize min-max scales scores over the candidate set in place. A
// degenerate set (all scores equal) maps to 1.0 so a sole candidate
// still surfaces.
func normalize(cands []candidate) {
	if len(cands) == 0 {
		return
	}
	lo, hi := cands[0].score, cands[0].score
	for _, c := range cands[1:] {
		if c.score < lo {
			lo = c.score
		}
		if c.score > hi {
			hi = c.score
		}
	}
	span := hi - lo
	for i := range cands {
		if span == 0 {
			cands[i].score = 1
		} else {
			cands[i].score = (cands[i].score - lo) / span
		}
	}
}

// pageKey identifies a dedup group.
type pageKey struct {
	docID string
	page  int
}

// fused accumulates the best contribution per collection for one
// (doc_id, page) group.
type fused struct {
	docID    string
	filename string
	page     int
	uploadTS int64
	visual   float64
	text     float64
	inVisual bool
	inText   bool
	preview  string
	chunkID  string
}

// fuse merges the normalised candidate sets under the visual weight
// alpha, deduplicating on (doc_id, page). Items present in only one
// collection take 0 from the absent side.
func fuse(visual, text []candidate, alpha float64) []Result {
	groups := make(map[pageKey]*fused, len(visual)+len(text))

	group := func(c candidate) *fused {
		key := pageKey{docID: c.docID, page: c.page}
		g, ok := groups[key]
		if !ok {
			g = &fused{docID: c.docID, filename: c.filename, page: c.page, uploadTS: c.uploadTS}
			groups[key] = g
		}
		return g
	}

	for _, c := range visual {
		g := group(c)
		g.inVisual = true
		if c.score > g.visual {
			g.visual = c.score
		}
	}
	for _, c := range text {
		g := group(c)
		g.inText = true
		if c.score >= g.text {
			g.text = c.score
			g.preview = truncatePreview(c.text)
			g.chunkID = c.chunkID
		}
	}

	results := make([]Result, 0, len(groups))
	for _, g := range groups {
		r := Result{
			DocID:    g.docID,
			Filename: g.filename,
			Page:     g.page,
			Score:    alpha*g.visual + (1-alpha)*g.text,
			Preview:  g.preview,
			ChunkID:  g.chunkID,
		}
		switch {
		case g.inVisual && g.inText:
			r.Type = ResultBoth
		case g.inVisual:
			r.Type = ResultVisual
		default:
			r.Type = ResultText
		}
		results = append(results, r)
	}

	// Descending score; ties broken by earlier upload, then lower page.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ti := uploadOf(groups, results[i])
		tj := uploadOf(groups, results[j])
		if ti != tj {
			return ti < tj
		}
		return results[i].Page < results[j].Page
	})
	return results
}

func uploadOf(groups map[pageKey]*fused, r Result) int64 {
	if g, ok := groups[pageKey{docID: r.DocID, page: r.Page}]; ok {
		return g.uploadTS
	}
	return 0
}

func truncatePreview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	cut := previewLen
	for cut > 0 && text[cut]&0xc0 == 0x80 {
		cut--
	}
	return text[:cut] + "…"
}
