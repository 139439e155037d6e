package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/amanrag/internal/assets"
	"github.com/Aman-CERP/amanrag/internal/encoder"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/parser"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/structure"
)

// Downloader fetches an object into a local staging directory.
// Satisfied by *objstore.Client.
type Downloader interface {
	Download(ctx context.Context, key, destDir string) (string, error)
}

// Router parses a staged file. Satisfied by *parser.Router.
type Router interface {
	Route(ctx context.Context, filePath, filename, outputDir string) (*parser.ParsedDoc, error)
}

// StageRecorder receives per-stage durations. Satisfied by the
// telemetry recorder; nil disables recording.
type StageRecorder interface {
	RecordJobStage(docID string, stage string, d time.Duration)
}

// ProcessorConfig configures the document processor.
type ProcessorConfig struct {
	UploadsDir        string
	TmpDir            string
	PerPageTimeout    time.Duration
	MarkdownThreshold int
}

// Result summarises a completed job for the processing_complete event.
type Result struct {
	Pages        int
	Chunks       int
	FileType     parser.FormatType
	ThumbnailURL string
}

// Processor runs the per-document pipeline. Stages are strictly
// sequential within a job; cancellation is observed at every stage
// boundary and between encoder batches.
type Processor struct {
	router    Router
	enc       encoder.Encoder
	vs        store.VectorStore
	assets    *assets.Store
	reg       registry.Registry
	objects   Downloader
	telemetry StageRecorder
	cfg       ProcessorConfig
	logger    *slog.Logger
}

// NewProcessor wires the pipeline dependencies. objects may be nil when
// only drop-folder ingestion is configured; telemetry may be nil.
func NewProcessor(router Router, enc encoder.Encoder, vs store.VectorStore, as *assets.Store,
	reg registry.Registry, objects Downloader, telemetry StageRecorder,
	cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.PerPageTimeout <= 0 {
		cfg.PerPageTimeout = DefaultPerPageTimeout
	}
	if cfg.MarkdownThreshold <= 0 {
		cfg.MarkdownThreshold = store.DefaultMarkdownInlineThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		router:    router,
		enc:       enc,
		vs:        vs,
		assets:    as,
		reg:       reg,
		objects:   objects,
		telemetry: telemetry,
		cfg:       cfg,
		logger:    logger.With("component", "processor"),
	}
}

// Process runs one job to completion. report is invoked at every stage
// transition and at least every 5 s inside long stages.
func (p *Processor) Process(ctx context.Context, job *Job, report func(Stage, string)) (*Result, error) {
	logger := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("doc_id", job.DocID),
		slog.String("filename", job.Filename))

	var doc *parser.ParsedDoc
	err := p.runStage(ctx, job, StageParsing, report, func(ctx context.Context) error {
		var err error
		doc, err = p.parse(ctx, job)
		return err
	})
	if err != nil {
		return nil, err
	}

	// The overall budget scales with the document: timeout * page count.
	pages := len(doc.Pages)
	if pages < 1 {
		pages = 1
	}
	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(pages)*p.cfg.PerPageTimeout)
	defer cancel()

	var visualVecs []encoder.MultiVector
	if doc.Format == parser.FormatVisual {
		err = p.runStage(jobCtx, job, StageEmbeddingVisual, report, func(ctx context.Context) error {
			var err error
			visualVecs, err = p.embedVisual(ctx, job, doc)
			return err
		})
		if err != nil {
			return nil, p.timeoutOr(jobCtx, err)
		}
	}

	var textVecs []encoder.MultiVector
	if len(doc.Chunks) > 0 {
		err = p.runStage(jobCtx, job, StageEmbeddingText, report, func(ctx context.Context) error {
			texts := make([]string, len(doc.Chunks))
			for i, c := range doc.Chunks {
				texts[i] = c.Text
			}
			var err error
			textVecs, err = p.enc.EmbedChunks(ctx, texts)
			return err
		})
		if err != nil {
			return nil, p.timeoutOr(jobCtx, err)
		}
	}

	err = p.runStage(jobCtx, job, StageStoring, report, func(ctx context.Context) error {
		return p.storeEmbeddings(ctx, job, doc, visualVecs, textVecs)
	})
	if err != nil {
		return nil, p.timeoutOr(jobCtx, err)
	}

	err = p.runStage(jobCtx, job, StageEmittingStructure, report, func(ctx context.Context) error {
		return p.finalize(ctx, job, doc)
	})
	if err != nil {
		return nil, p.timeoutOr(jobCtx, err)
	}

	logger.Info("document ingested",
		slog.Int("pages", len(doc.Pages)),
		slog.Int("chunks", len(doc.Chunks)),
		slog.String("format", string(doc.Format)))

	result := &Result{
		Pages:    len(doc.Pages),
		Chunks:   len(doc.Chunks),
		FileType: doc.Format,
	}
	if doc.Format == parser.FormatVisual && len(doc.Pages) > 0 {
		result.ThumbnailURL = fmt.Sprintf("/assets/%s/%s", job.DocID, assets.ThumbnailName(1))
	}
	return result, nil
}

// runStage checks cancellation at the boundary, reports the
// transition, and keeps a heartbeat alive while fn runs.
func (p *Processor) runStage(ctx context.Context, job *Job, st Stage, report func(Stage, string), fn func(context.Context) error) error {
	if job.Canceled() {
		return amerrors.New(amerrors.ErrCodeJobCancelled, "job cancelled", nil).
			WithDetail("stage", string(st))
	}
	if err := ctx.Err(); err != nil {
		return amerrors.New(amerrors.ErrCodeJobCancelled, "job context cancelled", err).
			WithDetail("stage", string(st))
	}

	report(st, "")
	start := time.Now()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// Keep-alive with unchanged progress.
				report(st, "")
			}
		}
	}()

	err := fn(ctx)
	close(done)

	if p.telemetry != nil {
		p.telemetry.RecordJobStage(job.DocID, string(st), time.Since(start))
	}
	if err != nil {
		return err
	}
	return nil
}

// parse stages the file locally and routes it through the parser.
func (p *Processor) parse(ctx context.Context, job *Job) (*parser.ParsedDoc, error) {
	localPath := job.LocalPath
	if localPath == "" {
		if p.objects == nil {
			return nil, amerrors.New(amerrors.ErrCodeObjectStoreUnavailable,
				"job has no local file and no object store is configured", nil)
		}
		var err error
		localPath, err = amerrors.RetryWithResult(ctx, amerrors.DependencyRetryConfig(), func() (string, error) {
			return p.objects.Download(ctx, job.Key, p.cfg.UploadsDir)
		})
		if err != nil {
			return nil, err
		}
		job.LocalPath = localPath
	}

	tmpDir := filepath.Join(p.cfg.TmpDir, job.DocID)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "creating job scratch directory failed", err)
	}

	return amerrors.RetryWithResult(ctx, amerrors.DependencyRetryConfig(), func() (*parser.ParsedDoc, error) {
		return p.router.Route(ctx, localPath, job.Filename, tmpDir)
	})
}

// embedVisual writes page assets first, then embeds the renders. The
// search UI resolves thumbnails as soon as results exist, so assets
// must land before any storage call.
func (p *Processor) embedVisual(ctx context.Context, job *Job, doc *parser.ParsedDoc) ([]encoder.MultiVector, error) {
	paths := make([]string, 0, len(doc.Pages))
	for _, page := range doc.Pages {
		if page.ImagePath == "" {
			return nil, amerrors.New(amerrors.ErrCodeParseFailed,
				fmt.Sprintf("page %d has no render", page.PageNumber), nil)
		}
		if err := p.assets.SavePageImage(ctx, job.DocID, page.PageNumber, page.ImagePath); err != nil {
			return nil, err
		}
		paths = append(paths, page.ImagePath)
	}
	return p.enc.EmbedPages(ctx, paths)
}

// storeEmbeddings upserts both collections. The markdown sidecar and
// the per-page structure blob ride on the embedding payloads.
func (p *Processor) storeEmbeddings(ctx context.Context, job *Job, doc *parser.ParsedDoc,
	visualVecs, textVecs []encoder.MultiVector) error {

	uploadTS := time.Now().UTC().Unix()
	common := store.Metadata{
		store.KeyDocID:      job.DocID,
		store.KeyFilename:   job.Filename,
		store.KeyPageCount:  len(doc.Pages),
		store.KeyUploadTS:   uploadTS,
		store.KeyFormatType: string(doc.Format),
	}
	if doc.Audio != nil {
		for k, v := range audioMetadata(doc.Audio) {
			common[k] = v
		}
	}

	mdFields, err := store.MarkdownFields(doc.Markdown, p.cfg.MarkdownThreshold)
	if err != nil {
		// Oversized or unencodable markdown drops the sidecar, not the
		// document.
		p.logger.Warn("markdown sidecar dropped",
			slog.String("doc_id", job.DocID),
			slog.String("error", err.Error()))
		common["markdown_error"] = err.Error()
	} else if doc.MarkdownError != "" {
		common["markdown_error"] = doc.MarkdownError
	}

	byPage := make(map[int]structure.PageStructure, len(doc.Structure))
	elemBBox := make(map[string]structure.BBox)
	for _, ps := range doc.Structure {
		byPage[ps.Page] = ps
		for _, el := range ps.Elements {
			elemBBox[el.ID] = el.BBox
		}
	}

	if len(visualVecs) > 0 {
		if len(visualVecs) != len(doc.Pages) {
			return amerrors.New(amerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("%d visual embeddings for %d pages", len(visualVecs), len(doc.Pages)), nil)
		}
		records := make([]store.Record, len(doc.Pages))
		for i, page := range doc.Pages {
			meta := mergeMeta(common, mdFields, store.Metadata{
				store.KeyPage: page.PageNumber,
			})
			p.attachStructure(meta, byPage, page.PageNumber, job.DocID)
			records[i] = store.Record{
				EmbeddingID: store.VisualEmbeddingID(job.DocID, page.PageNumber),
				Vector:      visualVecs[i],
				Metadata:    meta,
			}
		}
		if err := amerrors.Retry(ctx, amerrors.DependencyRetryConfig(), func() error {
			return p.vs.Add(ctx, store.CollectionVisual, records)
		}); err != nil {
			return err
		}
	}

	if len(textVecs) > 0 {
		if len(textVecs) != len(doc.Chunks) {
			return amerrors.New(amerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("%d text embeddings for %d chunks", len(textVecs), len(doc.Chunks)), nil)
		}
		records := make([]store.Record, len(doc.Chunks))
		for i, chunk := range doc.Chunks {
			meta := mergeMeta(common, mdFields, store.Metadata{
				store.KeyPage:       chunk.Page,
				store.KeyChunkIndex: chunk.Index,
				store.KeyText:       chunk.Text,
			})
			if chunk.ElementID != "" {
				meta[store.KeyElementID] = chunk.ElementID
				if bbox, ok := elemBBox[chunk.ElementID]; ok {
					meta[store.KeyBBox] = bbox.String()
				}
			}
			if chunk.SectionHeading != "" {
				meta[store.KeySectionHeading] = chunk.SectionHeading
			}
			records[i] = store.Record{
				EmbeddingID: store.TextEmbeddingID(store.ChunkID(job.DocID, chunk.Index)),
				Vector:      textVecs[i],
				Metadata:    meta,
			}
		}
		if err := amerrors.Retry(ctx, amerrors.DependencyRetryConfig(), func() error {
			return p.vs.Add(ctx, store.CollectionText, records)
		}); err != nil {
			return err
		}
	}
	return nil
}

// attachStructure compresses one page's structure into the visual
// payload. Extraction failure is best-effort: the page keeps
// has_structure=false and version 0.0.
func (p *Processor) attachStructure(meta store.Metadata, byPage map[int]structure.PageStructure, page int, docID string) {
	ps, ok := byPage[page]
	if !ok || !ps.HasStructure {
		meta[structure.KeyHasStructure] = false
		meta[structure.KeyMetadataVersion] = structure.MetadataVersionNone
		return
	}
	blob, err := structure.Compress(ps)
	if err != nil {
		p.logger.Warn("structure blob dropped",
			slog.String("doc_id", docID),
			slog.Int("page", page),
			slog.String("error", err.Error()))
		meta[structure.KeyHasStructure] = false
		meta[structure.KeyMetadataVersion] = structure.MetadataVersionNone
		return
	}
	meta[structure.KeyStructureCompressed] = blob
	meta[structure.KeyStructureCompression] = store.CompressionGzipBase64
	meta[structure.KeyHasStructure] = true
	meta[structure.KeyMetadataVersion] = ps.MetadataVersion
}

// finalize registers the document, saves the album-art sidecar, and
// removes scratch space.
func (p *Processor) finalize(ctx context.Context, job *Job, doc *parser.ParsedDoc) error {
	if err := p.reg.Register(ctx, registry.DocRecord{
		DocID:    job.DocID,
		Filename: job.Filename,
		Size:     job.Size,
	}); err != nil {
		// Dedup bookkeeping must not fail an otherwise-stored document.
		p.logger.Warn("registry update failed",
			slog.String("doc_id", job.DocID),
			slog.String("error", err.Error()))
	}

	if doc.Audio != nil && doc.Audio.AlbumArtPath != "" {
		if _, err := p.assets.SaveCover(job.DocID, doc.Audio.AlbumArtPath); err != nil {
			p.logger.Warn("album art save failed",
				slog.String("doc_id", job.DocID),
				slog.String("error", err.Error()))
		}
	}

	if err := os.RemoveAll(filepath.Join(p.cfg.TmpDir, job.DocID)); err != nil {
		p.logger.Warn("scratch cleanup failed",
			slog.String("doc_id", job.DocID),
			slog.String("error", err.Error()))
	}
	return nil
}

// timeoutOr converts a deadline expiry into the job-timeout error so
// the failure records the right cause.
func (p *Processor) timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return amerrors.New(amerrors.ErrCodeJobTimeout, "job exceeded its page-time budget", err)
	}
	return err
}

// audioMetadata flattens the extracted audio properties and ID3 tags
// into audio_* payload fields so they persist on every embedding of
// the document.
func audioMetadata(info *parser.AudioInfo) store.Metadata {
	meta := store.Metadata{
		"audio_duration_s": info.DurationS,
	}
	if info.SampleRate > 0 {
		meta["audio_sample_rate_hz"] = info.SampleRate
	}
	if info.Channels > 0 {
		meta["audio_channels"] = info.Channels
	}
	if info.BitrateKbps > 0 {
		meta["audio_bitrate_kbps"] = info.BitrateKbps
	}
	for tag, val := range info.ID3 {
		if val != "" {
			meta["audio_"+strings.ToLower(tag)] = val
		}
	}
	if info.AlbumArtPath != "" {
		meta["audio_has_album_art"] = true
		if info.AlbumArtMime != "" {
			meta["audio_album_art_mime"] = info.AlbumArtMime
		}
	}
	return meta
}

func mergeMeta(parts ...store.Metadata) store.Metadata {
	out := store.Metadata{}
	for _, part := range parts {
		for k, v := range part {
			out[k] = v
		}
	}
	return out
}
