package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/ws"
)

// Broadcaster receives the status event stream. Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastEvent(msgType string, data any)
}

// ManagerConfig configures the queue and worker pool.
type ManagerConfig struct {
	QueueCap    int
	MaxParallel int
}

// Manager owns the FIFO job queue, the worker pool, and the job status
// registry. Overflow surfaces as a retryable queue-full error so the
// event source can persist and re-deliver.
type Manager struct {
	processor   *Processor
	reg         registry.Registry
	broadcaster Broadcaster
	cfg         ManagerConfig
	logger      *slog.Logger

	queue chan *Job
	wg    sync.WaitGroup

	// enqueues tracks Enqueue calls admitted past the draining gate;
	// Shutdown waits for them before closing the queue so the send
	// never races the close.
	enqueues sync.WaitGroup

	mu        sync.Mutex
	jobs      map[string]*Job
	statuses  map[string]*JobStatus
	active    int
	completed int
	failed    int
	draining  bool
}

// NewManager creates a queue manager.
func NewManager(processor *Processor, reg registry.Registry, broadcaster Broadcaster,
	cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallelJobs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		processor:   processor,
		reg:         reg,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.With("component", "ingest"),
		queue:       make(chan *Job, cfg.QueueCap),
		jobs:        map[string]*Job{},
		statuses:    map[string]*JobStatus{},
	}
}

// Start launches the worker pool.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.MaxParallel; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}
	m.logger.Info("ingest workers started", slog.Int("workers", m.cfg.MaxParallel))
}

// Enqueue admits a job. Returns false with no error when the document
// is already in flight (the duplicate no-ops and the caller observes
// the running job's events). Queue overflow is a retryable error.
func (m *Manager) Enqueue(ctx context.Context, job *Job) (bool, error) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return false, amerrors.New(amerrors.ErrCodeQueueFull, "server is shutting down", nil)
	}
	m.enqueues.Add(1)
	m.mu.Unlock()
	defer m.enqueues.Done()

	claimed, holder, err := m.reg.ClaimInflight(ctx, job.DocID, job.ID)
	if err != nil {
		return false, err
	}
	if !claimed {
		m.logger.Info("duplicate ingest collapsed",
			slog.String("doc_id", job.DocID),
			slog.String("holder_job", holder))
		return false, nil
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.statuses[job.ID] = &JobStatus{
		JobID:    job.ID,
		DocID:    job.DocID,
		Filename: job.Filename,
		Stage:    StageQueued,
		Enqueued: job.Enqueued,
		Updated:  time.Now().UTC(),
	}
	m.mu.Unlock()

	select {
	case m.queue <- job:
		m.broadcastUpdate(job, StageQueued, "")
		return true, nil
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		delete(m.statuses, job.ID)
		m.mu.Unlock()
		_ = m.reg.ReleaseInflight(ctx, job.DocID, job.ID)
		return false, amerrors.New(amerrors.ErrCodeQueueFull, "ingestion queue is full", nil).
			WithSuggestion("Retry after in-flight jobs drain")
	}
}

// Cancel requests cancellation of a job. Queued jobs are dropped
// immediately; running jobs observe the flag at the next stage
// boundary.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return amerrors.New(amerrors.ErrCodeDocumentNotFound, "job not found", nil).
			WithDetail("job_id", jobID)
	}
	job.Cancel()
	return nil
}

// Status returns a snapshot of one job, or nil when unknown.
func (m *Manager) Status(jobID string) *JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[jobID]; ok {
		out := *st
		return &out
	}
	return nil
}

// Statuses returns snapshots of every tracked job.
func (m *Manager) Statuses() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	return out
}

// Stats summarises the queue.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Active:    m.active,
		Queued:    len(m.queue),
		Completed: m.completed,
		Failed:    m.failed,
		Total:     m.completed + m.failed + m.active + len(m.queue),
	}
}

// Shutdown stops admission, cancels every tracked job, and waits for
// the workers to drain or the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil
	}
	m.draining = true
	m.mu.Unlock()

	// An Enqueue that passed the draining gate may still be between its
	// in-flight claim and the queue send; the queue stays open until
	// every such call returns.
	m.enqueues.Wait()

	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	for _, job := range jobs {
		job.Cancel()
	}
	close(m.queue)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()
	for job := range m.queue {
		if job.Canceled() {
			m.finishJob(job, StageFailed, "cancelled before start")
			continue
		}
		m.run(ctx, job)
	}
}

func (m *Manager) run(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !job.bindCancel(cancel) {
		m.finishJob(job, StageFailed, "cancelled before start")
		return
	}

	m.mu.Lock()
	m.active++
	m.mu.Unlock()

	report := func(st Stage, msg string) {
		m.updateStatus(job, st, msg, "")
		m.broadcastUpdate(job, st, msg)
	}

	result, err := m.processor.Process(jobCtx, job, report)

	m.mu.Lock()
	m.active--
	m.mu.Unlock()

	defer func() {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer releaseCancel()
		_ = m.reg.ReleaseInflight(releaseCtx, job.DocID, job.ID)
	}()

	if err != nil {
		stage := m.currentStage(job.ID)
		m.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("doc_id", job.DocID),
			slog.String("stage", string(stage)),
			slog.String("error", err.Error()))
		m.finishJob(job, StageFailed, err.Error())
		m.broadcaster.BroadcastEvent(ws.TypeProcessingError, map[string]any{
			"doc_id":   job.DocID,
			"filename": job.Filename,
			"stage":    string(stage),
			"error":    amerrors.FormatForUser(err, false),
		})
		m.broadcastStats()
		return
	}

	m.finishJob(job, StageCompleted, "")
	payload := map[string]any{
		"doc_id":    job.DocID,
		"filename":  job.Filename,
		"chunks":    result.Chunks,
		"pages":     result.Pages,
		"file_type": string(result.FileType),
	}
	if result.ThumbnailURL != "" {
		payload["thumbnail_url"] = result.ThumbnailURL
	}
	m.broadcaster.BroadcastEvent(ws.TypeProcessingComplete, payload)
	m.broadcastStats()
}

func (m *Manager) updateStatus(job *Job, st Stage, msg, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.statuses[job.ID]
	if !ok {
		return
	}
	status.Stage = st
	status.Progress = progressPercent[st]
	status.Message = msg
	status.Error = errMsg
	status.Updated = time.Now().UTC()
}

func (m *Manager) finishJob(job *Job, st Stage, errMsg string) {
	m.updateStatus(job, st, "", errMsg)
	m.mu.Lock()
	if st == StageCompleted {
		m.completed++
	} else {
		m.failed++
	}
	delete(m.jobs, job.ID)
	m.mu.Unlock()
}

func (m *Manager) currentStage(jobID string) Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[jobID]; ok {
		return st.Stage
	}
	return StageQueued
}

func (m *Manager) broadcastUpdate(job *Job, st Stage, msg string) {
	payload := map[string]any{
		"doc_id":   job.DocID,
		"filename": job.Filename,
		"status":   string(st),
		"stage":    string(st),
		"progress": progressPercent[st],
	}
	if msg != "" {
		payload["message"] = msg
	}
	m.broadcaster.BroadcastEvent(ws.TypeProcessingUpdate, payload)
}

func (m *Manager) broadcastStats() {
	m.broadcaster.BroadcastEvent(ws.TypeStats, m.Stats())
}
