// Package ingest runs the document pipeline: an in-memory FIFO queue,
// a bounded worker pool, and the per-document processor state machine.
package ingest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is one step of the per-document state machine. Within a job
// stages are strictly sequential.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageParsing           Stage = "parsing"
	StageEmbeddingVisual   Stage = "embedding_visual"
	StageEmbeddingText     Stage = "embedding_text"
	StageStoring           Stage = "storing"
	StageEmittingStructure Stage = "emitting_structure"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// progressPercent maps stages to coarse completion for the status
// stream. Internally a job's progress is a fraction of the stage
// sequence; the published form is integer percent (fraction ×100),
// which is what /status and the processing_update events carry.
var progressPercent = map[Stage]int{
	StageQueued:            0,
	StageParsing:           10,
	StageEmbeddingVisual:   40,
	StageEmbeddingText:     60,
	StageStoring:           80,
	StageEmittingStructure: 90,
	StageCompleted:         100,
	StageFailed:            100,
}

// Defaults for the queue and pool.
const (
	DefaultQueueCap = 256

	// DefaultPerPageTimeout bounds a job at timeout * page count once
	// the page count is known.
	DefaultPerPageTimeout = 300 * time.Second

	// heartbeatInterval is the keep-alive cadence inside long stages.
	heartbeatInterval = 5 * time.Second
)

// DefaultMaxParallelJobs derives the worker count from the host:
// min(2, cores-1), never below 1.
func DefaultMaxParallelJobs() int {
	n := runtime.NumCPU() - 1
	if n > 2 {
		n = 2
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Job is one document ingestion task.
type Job struct {
	ID       string
	DocID    string
	Filename string

	// Key is the object-store key; empty for drop-folder jobs whose
	// LocalPath is already staged.
	Key       string
	LocalPath string
	Size      int64
	Enqueued  time.Time

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	canceled bool
}

// NewJob creates a job with a fresh id.
func NewJob(docID, filename, key string, size int64) *Job {
	return &Job{
		ID:       uuid.NewString(),
		DocID:    docID,
		Filename: filename,
		Key:      key,
		Size:     size,
		Enqueued: time.Now().UTC(),
	}
}

// Cancel sets the cooperative flag and cancels the job's context when
// it is already running. A job inside an encoder batch finishes that
// batch, observes the cancellation at the next stage boundary, and
// exits.
func (j *Job) Cancel() {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	j.canceled = true
	if j.cancel != nil {
		j.cancel()
	}
}

// Canceled reports whether cancellation was requested.
func (j *Job) Canceled() bool {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	return j.canceled
}

func (j *Job) bindCancel(cancel context.CancelFunc) bool {
	j.cancelMu.Lock()
	defer j.cancelMu.Unlock()
	if j.canceled {
		return false
	}
	j.cancel = cancel
	return true
}

// JobStatus is a point-in-time snapshot served from the status
// endpoints.
type JobStatus struct {
	JobID    string `json:"job_id"`
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Stage    Stage  `json:"stage"`
	// Progress is integer percent 0-100 (the stage fraction ×100).
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	Enqueued time.Time `json:"enqueued_at"`
	Updated  time.Time `json:"updated_at"`
}

// Stats summarises the queue for the stats stream and GET /status.
type Stats struct {
	Active    int `json:"active"`
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}
