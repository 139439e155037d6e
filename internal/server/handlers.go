// Package server exposes the HTTP/WebSocket surface: the object-store
// event webhook, asset serving, presign helpers, search, document CRUD,
// research, health/status, and job control.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/deletion"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/ingest"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/research"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/structure"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/validation"
	"github.com/Aman-CERP/amanrag/internal/ws"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// healthTimeout bounds the vector store probe on GET /health.
const healthTimeout = 2 * time.Second

// maxEventBody caps the webhook request body.
const maxEventBody = 1 << 20

// Searcher runs a retrieval query. Satisfied by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Researcher answers a question. Satisfied by *research.Engine.
type Researcher interface {
	Ask(ctx context.Context, req research.Request) (*research.Result, error)
}

// JobQueue admits and controls ingestion jobs. Satisfied by
// *ingest.Manager.
type JobQueue interface {
	Enqueue(ctx context.Context, job *ingest.Job) (bool, error)
	Cancel(jobID string) error
	Statuses() []ingest.JobStatus
	Stats() ingest.Stats
}

// DocDeleter runs the staged document deletion. Satisfied by
// *deletion.Coordinator.
type DocDeleter interface {
	Delete(ctx context.Context, docID string) (*deletion.Report, error)
}

// AssetResolver maps (doc_id, filename) to a servable path. Satisfied
// by *assets.Store.
type AssetResolver interface {
	Resolve(docID, filename string) (string, error)
}

// Presigner issues presigned object-store URLs. Satisfied by
// *objstore.Client; nil disables the presign endpoints.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string) (string, error)
	PresignGet(ctx context.Context, key string) (string, error)
}

// StructureReader serves page layout and chunk payloads. Satisfied by
// *structure.Service.
type StructureReader interface {
	PageStructureFor(ctx context.Context, docID string, page int) (structure.PageStructure, error)
	ChunkFor(ctx context.Context, docID, chunkID string) (structure.ChunkInfo, error)
}

// Handlers carries the wired collaborators behind the HTTP surface.
type Handlers struct {
	cfg       *config.Config
	vs        store.VectorStore
	searcher  Searcher
	research  Researcher
	queue     JobQueue
	deleter   DocDeleter
	assets    AssetResolver
	structure StructureReader
	reg       registry.Registry
	objects   Presigner
	hub       *ws.Hub
	metrics   *telemetry.Collector
	logger    *slog.Logger
}

// HandlerConfig wires the handlers. Objects and Metrics may be nil;
// the endpoints they back degrade accordingly.
type HandlerConfig struct {
	Cfg       *config.Config
	Store     store.VectorStore
	Search    Searcher
	Research  Researcher
	Queue     JobQueue
	Deleter   DocDeleter
	Assets    AssetResolver
	Structure StructureReader
	Registry  registry.Registry
	Objects   Presigner
	Hub       *ws.Hub
	Metrics   *telemetry.Collector
}

// NewHandlers creates the handler set and registers the WebSocket
// request handlers on the hub.
func NewHandlers(hc HandlerConfig, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		cfg:       hc.Cfg,
		vs:        hc.Store,
		searcher:  hc.Search,
		research:  hc.Research,
		queue:     hc.Queue,
		deleter:   hc.Deleter,
		assets:    hc.Assets,
		structure: hc.Structure,
		reg:       hc.Registry,
		objects:   hc.Objects,
		hub:       hc.Hub,
		metrics:   hc.Metrics,
		logger:    logger.With("component", "server"),
	}
	if h.hub != nil {
		h.registerWSHandlers()
	}
	return h
}

// --- object-store events ---

// S3Event ingests an S3-compatible notification: creations enqueue an
// ingestion job, removals invoke the delete coordinator. The webhook
// always answers 202 once the events parse; per-event failures are
// reported back through the retryable error contract so the broker can
// re-deliver.
func (h *Handlers) S3Event(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
	if err != nil {
		writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "reading event body failed", err))
		return
	}
	events, err := ingest.ParseS3Events(body)
	if err != nil {
		writeError(c, err)
		return
	}

	processed := 0
	for _, ev := range events {
		switch {
		case ev.Created():
			if err := h.handleObjectCreated(c.Request.Context(), ev); err != nil {
				writeError(c, err)
				return
			}
			processed++
		case ev.Removed():
			h.handleObjectRemoved(c.Request.Context(), ev)
			processed++
		default:
			h.logger.Debug("ignoring event", slog.String("event", ev.EventName), slog.String("key", ev.Key))
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":           "accepted",
		"events_processed": processed,
	})
}

func (h *Handlers) handleObjectCreated(ctx context.Context, ev ingest.ObjectEvent) error {
	filename := ev.Filename()

	// A batch registration that preceded the upload already fixed the
	// doc_id; otherwise it is derived from the event metadata.
	docID, err := h.reg.LookupFilename(ctx, filename)
	if err != nil {
		return err
	}
	if docID == "" {
		docID = registry.DeriveDocIDFromMeta(filename, ev.Size)
	}

	// A document already ingested under this identity is declined unless
	// its batch registration carried force_upload.
	existing, err := h.reg.Lookup(ctx, docID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Size == ev.Size {
		forced, err := h.reg.ConsumeReingest(ctx, docID)
		if err != nil {
			return err
		}
		if !forced {
			return amerrors.New(amerrors.ErrCodeDuplicate, "document already ingested", nil).
				WithDetail("doc_id", docID).
				WithDetail("filename", filename).
				WithSuggestion("Re-register the batch with force_upload to re-ingest")
		}
	}

	job := ingest.NewJob(docID, filename, ev.Key, ev.Size)
	admitted, err := h.queue.Enqueue(ctx, job)
	if err != nil {
		return err
	}
	if !admitted {
		h.logger.Info("duplicate upload collapsed onto running job",
			slog.String("doc_id", docID),
			slog.String("filename", filename))
	}
	return nil
}

// handleObjectRemoved deletes the document owning the removed object.
// Unknown keys are logged and skipped; removal is best-effort from the
// webhook's point of view.
func (h *Handlers) handleObjectRemoved(ctx context.Context, ev ingest.ObjectEvent) {
	filename := ev.Filename()
	docID, err := h.reg.LookupFilename(ctx, filename)
	if err != nil || docID == "" {
		h.logger.Warn("removal event for unknown object", slog.String("key", ev.Key))
		return
	}
	if _, err := h.deleter.Delete(ctx, docID); err != nil {
		h.logger.Error("deletion from removal event failed",
			slog.String("doc_id", docID),
			slog.String("error", err.Error()))
	}
}

// --- assets ---

// Asset serves a generated page image, thumbnail, or cover. Resolution
// validates both path components before touching the disk.
func (h *Handlers) Asset(c *gin.Context) {
	path, err := h.assets.Resolve(c.Param("doc_id"), c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Cache-Control", "max-age=86400")
	c.File(path)
}

type uploadPresignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// UploadPresign issues a presigned PUT for a browser upload and the
// doc_id the subsequent creation event will resolve to.
func (h *Handlers) UploadPresign(c *gin.Context) {
	if h.objects == nil {
		writeError(c, amerrors.New(amerrors.ErrCodeObjectStoreUnavailable, "object store is not configured", nil))
		return
	}
	var req uploadPresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed presign request", err))
		return
	}
	if err := validation.ValidateUploadFilename(req.Filename); err != nil {
		writeError(c, err)
		return
	}

	docID := registry.DeriveDocIDFromMeta(req.Filename, req.Size)
	key := uploadKeyPrefix + req.Filename
	url, err := h.objects.PresignPut(c.Request.Context(), key, req.ContentType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"uploadUrl": url,
		"docId":     docID,
		"expiresIn": h.presignExpiry(),
	})
}

type assetPresignRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// AssetPresign issues a presigned GET for an uploaded object. Keys
// outside the upload prefix are rejected.
func (h *Handlers) AssetPresign(c *gin.Context) {
	if h.objects == nil {
		writeError(c, amerrors.New(amerrors.ErrCodeObjectStoreUnavailable, "object store is not configured", nil))
		return
	}
	var req assetPresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed presign request", err))
		return
	}
	if !strings.HasPrefix(req.Key, uploadKeyPrefix) {
		writeError(c, amerrors.New(amerrors.ErrCodeAccessDenied, "key is outside the upload prefix", nil).
			WithDetail("key", req.Key))
		return
	}
	url, err := h.objects.PresignGet(c.Request.Context(), req.Key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":       url,
		"expiresIn": h.presignExpiry(),
	})
}

func (h *Handlers) presignExpiry() int {
	if h.cfg != nil && h.cfg.S3.PresignExpiryS > 0 {
		return h.cfg.S3.PresignExpiryS
	}
	return 3600
}

// --- search ---

type searchRequest struct {
	Query      string   `json:"query"`
	NumResults int      `json:"num_results,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Alpha      *float64 `json:"alpha,omitempty"`
	DocID      string   `json:"doc_id,omitempty"`
}

// Search runs the two-stage hybrid retrieval.
func (h *Handlers) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed search request", err))
		return
	}
	resp, err := h.searcher.Search(c.Request.Context(), req.Query, search.Options{
		NumResults: req.NumResults,
		Mode:       search.Mode(req.Mode),
		Alpha:      req.Alpha,
		DocID:      req.DocID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// --- documents ---

// documentMetadata is the GET /documents/{doc_id} payload, lifted from
// the document's stored embedding payloads.
type documentMetadata struct {
	DocID           string `json:"doc_id"`
	Filename        string `json:"filename"`
	FormatType      string `json:"format_type"`
	NumPages        int    `json:"num_pages"`
	NumChunks       int    `json:"num_chunks"`
	UploadTS        int64  `json:"upload_ts"`
	HasStructure    bool   `json:"has_structure"`
	MetadataVersion string `json:"metadata_version"`
}

// Document returns a document's metadata.
func (h *Handlers) Document(c *gin.Context) {
	docID := c.Param("doc_id")
	if err := validation.ValidateDocID(docID); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	filter := store.Filter{DocID: docID}

	pages, err := h.vs.Count(ctx, store.CollectionVisual, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	chunks, err := h.vs.Count(ctx, store.CollectionText, filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if pages == 0 && chunks == 0 {
		writeError(c, amerrors.New(amerrors.ErrCodeDocumentNotFound, "document not found", nil).
			WithDetail("doc_id", docID))
		return
	}

	// Descriptor fields ride on every embedding; one record suffices.
	col := store.CollectionVisual
	if pages == 0 {
		col = store.CollectionText
	}
	recs, err := h.vs.Scroll(ctx, col, filter, 1)
	if err != nil {
		writeError(c, err)
		return
	}
	meta := documentMetadata{
		DocID:           docID,
		NumPages:        pages,
		NumChunks:       chunks,
		MetadataVersion: structure.MetadataVersionNone,
	}
	if len(recs) > 0 {
		m := recs[0].Metadata
		meta.Filename = store.MetaString(m, store.KeyFilename)
		meta.FormatType = store.MetaString(m, store.KeyFormatType)
		meta.UploadTS = int64(store.MetaInt(m, store.KeyUploadTS))
		meta.HasStructure = store.MetaBool(m, structure.KeyHasStructure)
		if v := store.MetaString(m, structure.KeyMetadataVersion); v != "" {
			meta.MetadataVersion = v
		}
	}
	c.JSON(http.StatusOK, meta)
}

// DeleteDocument runs the staged deletion and returns the per-stage
// report. A critical-stage failure still carries the partial report in
// the error payload.
func (h *Handlers) DeleteDocument(c *gin.Context) {
	report, err := h.deleter.Delete(c.Request.Context(), c.Param("doc_id"))
	if err != nil {
		code := amerrors.GetCode(err)
		body := gin.H{
			"error": amerrors.FormatForUser(err, false),
			"code":  code,
		}
		if report != nil {
			body["report"] = report
		}
		c.AbortWithStatusJSON(statusFor(code), body)
		return
	}
	c.JSON(http.StatusOK, report)
}

// PageStructure serves a page's layout. Legacy documents without
// structure answer has_structure:false rather than an error.
func (h *Handlers) PageStructure(c *gin.Context) {
	docID := c.Param("doc_id")
	if err := validation.ValidateDocID(docID); err != nil {
		writeError(c, err)
		return
	}
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "page must be a positive integer", err))
		return
	}
	ps, err := h.structure.PageStructureFor(c.Request.Context(), docID, page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

// Chunk serves one chunk's payload.
func (h *Handlers) Chunk(c *gin.Context) {
	docID := c.Param("doc_id")
	if err := validation.ValidateDocID(docID); err != nil {
		writeError(c, err)
		return
	}
	info, err := h.structure.ChunkFor(c.Request.Context(), docID, c.Param("chunk_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Markdown serves the document's markdown sidecar, optionally with
// inline chunk markers for viewer highlighting.
func (h *Handlers) Markdown(c *gin.Context) {
	docID := c.Param("doc_id")
	if err := validation.ValidateDocID(docID); err != nil {
		writeError(c, err)
		return
	}
	ctx := c.Request.Context()
	markdown, err := h.vs.GetDocumentMarkdown(ctx, docID)
	if err != nil {
		writeError(c, err)
		return
	}
	if markdown == "" {
		writeError(c, amerrors.New(amerrors.ErrCodeDocumentNotFound, "document has no markdown", nil).
			WithDetail("doc_id", docID))
		return
	}

	if c.Query("include_markers") == "true" {
		chunks, err := h.chunkInfos(ctx, docID)
		if err != nil {
			writeError(c, err)
			return
		}
		markdown = structure.WithChunkMarkers(markdown, chunks)
	}
	c.JSON(http.StatusOK, gin.H{
		"doc_id":   docID,
		"markdown": markdown,
	})
}

// chunkInfos lifts every chunk payload of a document for marker
// injection, ordered by chunk index.
func (h *Handlers) chunkInfos(ctx context.Context, docID string) ([]structure.ChunkInfo, error) {
	recs, err := h.vs.Scroll(ctx, store.CollectionText, store.Filter{DocID: docID}, 10000)
	if err != nil {
		return nil, err
	}
	chunks := make([]structure.ChunkInfo, 0, len(recs))
	for _, rec := range recs {
		m := rec.Metadata
		idx := store.MetaInt(m, store.KeyChunkIndex)
		info := structure.ChunkInfo{
			ChunkID:        store.ChunkID(docID, idx),
			DocID:          docID,
			Page:           store.MetaInt(m, store.KeyPage),
			Index:          idx,
			Text:           store.MetaString(m, store.KeyText),
			ElementID:      store.MetaString(m, store.KeyElementID),
			SectionHeading: store.MetaString(m, store.KeySectionHeading),
		}
		if raw := store.MetaString(m, store.KeyBBox); raw != "" {
			if bbox, ok := structure.ParseBBox(raw); ok {
				info.BBox = &bbox
			}
		}
		chunks = append(chunks, info)
	}
	sortChunks(chunks)
	return chunks, nil
}

// --- research ---

// Research answers a question with cited sources.
func (h *Handlers) Research(c *gin.Context) {
	var req research.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed research request", err))
		return
	}
	result, err := h.research.Ask(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- health & status ---

// Health reports liveness plus the vector store's reachability.
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	vectorDB := "ok"
	if err := h.vs.HealthCheck(ctx); err != nil {
		status = "degraded"
		vectorDB = "unavailable"
	}
	enhanced := h.cfg != nil && h.cfg.Parser.WantStructure

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":        status,
		"vector_db":     vectorDB,
		"enhanced_mode": enhanced,
		"version":       version.Version,
	})
}

// Status reports queue stats, tracked jobs, and telemetry aggregates.
func (h *Handlers) Status(c *gin.Context) {
	body := gin.H{
		"queue": h.queue.Stats(),
		"jobs":  h.queue.Statuses(),
	}
	if h.metrics != nil {
		if stages, err := h.metrics.SearchStageSummary(); err == nil {
			body["search_stages"] = stages
		}
		if stages, err := h.metrics.JobStageSummary(); err == nil {
			body["job_stages"] = stages
		}
		if hist, err := h.metrics.LatencyHistogram(); err == nil {
			body["search_latency"] = hist
		}
	}
	c.JSON(http.StatusOK, body)
}

// --- jobs ---

// CancelJob requests cooperative cancellation of a queued or running
// job.
func (h *Handlers) CancelJob(c *gin.Context) {
	if err := h.queue.Cancel(c.Param("job_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// --- websocket ---

// WS upgrades the connection and hands it to the hub.
func (h *Handlers) WS(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}
