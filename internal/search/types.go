// Package search implements two-stage hybrid retrieval over the visual
// and text collections: ANN candidates on pooled vectors, then full
// late-interaction rescoring, then weighted fusion with page-level
// deduplication.
package search

import (
	"time"
)

// Mode selects the fusion weighting between the two collections.
type Mode string

const (
	// ModeVisual searches page embeddings only.
	ModeVisual Mode = "visual"
	// ModeText searches chunk embeddings only.
	ModeText Mode = "text"
	// ModeHybrid fuses both collections.
	ModeHybrid Mode = "hybrid"
)

// Alpha returns the visual-side fusion weight for the mode.
func (m Mode) Alpha(hybridAlpha float64) float64 {
	switch m {
	case ModeVisual:
		return 1
	case ModeText:
		return 0
	default:
		return hybridAlpha
	}
}

// Valid reports whether the mode is one of the three recognised values.
func (m Mode) Valid() bool {
	return m == ModeVisual || m == ModeText || m == ModeHybrid
}

// Defaults for search requests.
const (
	// DefaultNumResults is the result count when the request omits one.
	DefaultNumResults = 10

	// MaxNumResults caps requested result counts.
	MaxNumResults = 100

	// DefaultCandidateK is the per-collection ANN candidate depth.
	DefaultCandidateK = 50

	// DefaultHybridAlpha is the visual weight in hybrid mode.
	DefaultHybridAlpha = 0.5

	// previewLen caps result previews.
	previewLen = 200
)

// Options configures one search call. Zero values take defaults.
type Options struct {
	// NumResults is the maximum number of results (default 10).
	NumResults int

	// Mode selects the fusion weighting (default hybrid).
	Mode Mode

	// Alpha overrides the hybrid visual weight when non-nil.
	Alpha *float64

	// CandidateK overrides the per-collection ANN depth.
	CandidateK int

	// DocID restricts the search to one document. Used by the research
	// engine's follow-up retrieval.
	DocID string
}

// ResultType annotates which collection(s) a result surfaced from.
type ResultType string

const (
	ResultVisual ResultType = "visual"
	ResultText   ResultType = "text"
	ResultBoth   ResultType = "both"
)

// Result is one fused, deduplicated search hit.
type Result struct {
	DocID    string     `json:"doc_id"`
	Filename string     `json:"filename"`
	Page     int        `json:"page"`
	Score    float64    `json:"score"`
	Type     ResultType `json:"type"`
	Preview  string     `json:"preview,omitempty"`

	// ChunkID identifies the best text chunk behind the result, when
	// a text candidate contributed. The research engine resolves it
	// for context packing.
	ChunkID string `json:"chunk_id,omitempty"`
}

// Response is the search surface's reply shape.
type Response struct {
	Query     string   `json:"query"`
	Results   []Result `json:"results"`
	LatencyMS int64    `json:"latency_ms"`
}

// StageTimings carries per-stage latencies for telemetry.
type StageTimings struct {
	Embed  time.Duration
	Stage1 time.Duration
	Stage2 time.Duration
	Fusion time.Duration
}

// Recorder receives per-search telemetry. Satisfied by the telemetry
// collector; a nil Recorder disables recording.
type Recorder interface {
	RecordSearch(mode Mode, timings StageTimings, results int)
}
