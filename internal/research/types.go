// Package research answers questions over the indexed corpus: hybrid
// retrieval, token-budgeted context packing, optional local-model
// preprocessing, a citation-enforcing foundation-model call, and
// citation parsing into a typed result.
package research

import (
	"time"
)

// Defaults for research requests.
const (
	// DefaultNumSources is the retrieval depth when the request omits
	// one.
	DefaultNumSources = 10

	// MaxNumSources caps retrieval depth.
	MaxNumSources = 20

	// DefaultTokenBudget bounds the packed context when config gives
	// none.
	DefaultTokenBudget = 8000

	// DefaultFilterThreshold drops preprocessed chunks scoring below
	// it on the 0-10 relevance scale.
	DefaultFilterThreshold = 7

	// providerRetryBackoff is the pause before the single retry on a
	// transient provider error.
	providerRetryBackoff = 2 * time.Second
)

// Strategy selects the preprocessing behaviour.
type Strategy string

const (
	// StrategyCompress rewrites the sources into one dense narrative,
	// preserving citation markers.
	StrategyCompress Strategy = "compress"
	// StrategyFilter scores each source 0-10 and drops those below the
	// threshold, keeping original ordering.
	StrategyFilter Strategy = "filter"
	// StrategySynthesize merges the sources into a coherent summary,
	// preserving citation markers.
	StrategySynthesize Strategy = "synthesize"
)

// Valid reports whether the strategy is recognised.
func (s Strategy) Valid() bool {
	return s == StrategyCompress || s == StrategyFilter || s == StrategySynthesize
}

// Request is one question against the corpus. Zero values defer to
// configuration.
type Request struct {
	Question   string `json:"question"`
	NumSources int    `json:"num_sources,omitempty"`

	// Model overrides the configured model for this request.
	Model string `json:"model,omitempty"`

	// Temperature overrides the configured sampling temperature when
	// non-nil.
	Temperature *float64 `json:"temperature,omitempty"`

	// PreprocessingEnabled overrides the configured default when
	// non-nil.
	PreprocessingEnabled *bool `json:"preprocessing_enabled,omitempty"`

	// PreprocessingStrategy overrides the configured strategy.
	PreprocessingStrategy Strategy `json:"preprocessing_strategy,omitempty"`
}

// Source is one numbered context source backing an answer.
type Source struct {
	CitationNumber int     `json:"citation_number"`
	DocID          string  `json:"doc_id"`
	Filename       string  `json:"filename"`
	Page           int     `json:"page"`
	Score          float64 `json:"score"`
	Preview        string  `json:"preview,omitempty"`

	// text is the packed context for the prompt; not serialised.
	text string
}

// PreprocessMetadata reports what preprocessing did.
type PreprocessMetadata struct {
	Applied       bool     `json:"applied"`
	Strategy      Strategy `json:"strategy"`
	SourcesBefore int      `json:"sources_before"`
	SourcesAfter  int      `json:"sources_after"`
	Error         string   `json:"error,omitempty"`
}

// Result is the research engine's reply shape.
type Result struct {
	Question         string              `json:"question"`
	Answer           string              `json:"answer"`
	Sources          []Source            `json:"sources"`
	ProcessingTimeMS int64               `json:"processing_time_ms"`
	ModelUsed        string              `json:"model_used"`
	SourcesFound     int                 `json:"sources_found"`
	ContextTruncated bool                `json:"context_truncated"`
	Preprocessing    *PreprocessMetadata `json:"preprocessing_metadata,omitempty"`
}
