package client

import "encoding/json"

// SearchRequest is the body of POST /search. Zero values take server
// defaults.
type SearchRequest struct {
	Query      string   `json:"query"`
	NumResults int      `json:"num_results,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Alpha      *float64 `json:"alpha,omitempty"`
	DocID      string   `json:"doc_id,omitempty"`
}

// SearchResult is one fused search hit.
type SearchResult struct {
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	Page     int     `json:"page"`
	Score    float64 `json:"score"`
	Type     string  `json:"type"`
	Preview  string  `json:"preview,omitempty"`
	ChunkID  string  `json:"chunk_id,omitempty"`
}

// SearchResponse is the reply of POST /search.
type SearchResponse struct {
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	LatencyMS int64          `json:"latency_ms"`
}

// ResearchRequest is the body of POST /api/research/ask.
type ResearchRequest struct {
	Question              string   `json:"question"`
	NumSources            int      `json:"num_sources,omitempty"`
	Model                 string   `json:"model,omitempty"`
	Temperature           *float64 `json:"temperature,omitempty"`
	PreprocessingEnabled  *bool    `json:"preprocessing_enabled,omitempty"`
	PreprocessingStrategy string   `json:"preprocessing_strategy,omitempty"`
}

// ResearchSource is one cited source in a research answer.
type ResearchSource struct {
	CitationNumber int     `json:"citation_number"`
	DocID          string  `json:"doc_id"`
	Filename       string  `json:"filename"`
	Page           int     `json:"page"`
	Score          float64 `json:"score"`
	Preview        string  `json:"preview,omitempty"`
}

// PreprocessMetadata reports what context preprocessing did, if anything.
type PreprocessMetadata struct {
	Applied       bool   `json:"applied"`
	Strategy      string `json:"strategy"`
	SourcesBefore int    `json:"sources_before"`
	SourcesAfter  int    `json:"sources_after"`
	Error         string `json:"error,omitempty"`
}

// ResearchResult is the reply of POST /api/research/ask.
type ResearchResult struct {
	Question         string              `json:"question"`
	Answer           string              `json:"answer"`
	Sources          []ResearchSource    `json:"sources"`
	ProcessingTimeMS int64               `json:"processing_time_ms"`
	ModelUsed        string              `json:"model_used"`
	SourcesFound     int                 `json:"sources_found"`
	ContextTruncated bool                `json:"context_truncated"`
	Preprocessing    *PreprocessMetadata `json:"preprocessing_metadata,omitempty"`
}

// DocumentMetadata is the reply of GET /documents/{doc_id}.
type DocumentMetadata struct {
	DocID           string `json:"doc_id"`
	Filename        string `json:"filename"`
	FormatType      string `json:"format_type"`
	NumPages        int    `json:"num_pages"`
	NumChunks       int    `json:"num_chunks"`
	UploadTS        int64  `json:"upload_ts"`
	HasStructure    bool   `json:"has_structure"`
	MetadataVersion string `json:"metadata_version"`
}

// StageReport is one stage of a deletion report.
type StageReport struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
}

// DeletionReport is the per-stage reply of DELETE /documents/{doc_id}.
type DeletionReport struct {
	DocID          string      `json:"doc_id"`
	VectorStore    StageReport `json:"vector_store"`
	PageImages     StageReport `json:"page_images"`
	AlbumArt       StageReport `json:"album_art"`
	StructureCache StageReport `json:"structure_cache"`
	Workspace      StageReport `json:"workspace"`
	SourceObject   StageReport `json:"source_object"`
	Complete       bool        `json:"complete"`
}

// QueueStats is the ingestion pool's counters.
type QueueStats struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// JobStatus is one job's progress snapshot.
type JobStatus struct {
	JobID      string `json:"job_id"`
	DocID      string `json:"doc_id"`
	Filename   string `json:"filename"`
	Stage      string `json:"stage"`
	Progress   int    `json:"progress"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	EnqueuedAt string `json:"enqueued_at"`
	UpdatedAt  string `json:"updated_at"`
}

// Status is the reply of GET /status. The metrics summaries are
// passed through untyped; their shape follows the telemetry schema.
type Status struct {
	Queue        QueueStats      `json:"queue"`
	Jobs         []JobStatus     `json:"jobs"`
	SearchStages json.RawMessage `json:"search_stages,omitempty"`
	JobStages    json.RawMessage `json:"job_stages,omitempty"`
	Latency      json.RawMessage `json:"search_latency,omitempty"`
}

// Health is the reply of GET /health.
type Health struct {
	Status       string `json:"status"`
	VectorDB     string `json:"vector_db"`
	EnhancedMode bool   `json:"enhanced_mode"`
	Version      string `json:"version"`
}

// PresignedUpload is the reply of POST /upload/presign.
type PresignedUpload struct {
	UploadURL string `json:"uploadUrl"`
	DocID     string `json:"docId"`
	ExpiresIn int    `json:"expiresIn"`
}

// Markdown is the reply of GET /documents/{doc_id}/markdown.
type Markdown struct {
	DocID    string `json:"doc_id"`
	Markdown string `json:"markdown"`
}

// FileSpec names one file in a register_upload_batch request.
type FileSpec struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// BatchRegistration is one entry of an upload_batch_registered reply.
type BatchRegistration struct {
	Filename     string          `json:"filename"`
	DocID        string          `json:"doc_id"`
	ExpectedSize int64           `json:"expected_size"`
	IsDuplicate  bool            `json:"is_duplicate"`
	ExistingDoc  json.RawMessage `json:"existing_doc,omitempty"`
}
