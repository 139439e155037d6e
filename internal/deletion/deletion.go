// Package deletion removes every artefact owned by a document in a
// fixed order, reporting per-stage status even on partial failure.
package deletion

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/registry"
	"github.com/Aman-CERP/amanrag/internal/store"
	"github.com/Aman-CERP/amanrag/internal/validation"
)

// Stage statuses in the deletion report.
const (
	StatusDeleted = "deleted"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// StageReport is the outcome of one deletion stage.
type StageReport struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Counts map[string]int `json:"counts,omitempty"`
}

// Report is the full per-stage deletion report.
type Report struct {
	DocID          string      `json:"doc_id"`
	VectorStore    StageReport `json:"vector_store"`
	PageImages     StageReport `json:"page_images"`
	AlbumArt       StageReport `json:"album_art"`
	StructureCache StageReport `json:"structure_cache"`
	Workspace      StageReport `json:"workspace"`
	SourceObject   StageReport `json:"source_object"`
	Complete       bool        `json:"complete"`
}

// AssetStore deletes generated images. Satisfied by *assets.Store.
type AssetStore interface {
	DeleteDoc(docID string) (pages int, covers int, err error)
}

// StructureCache drops cached page structures. Satisfied by
// *structure.Service.
type StructureCache interface {
	Invalidate(docID string) int
}

// ObjectDeleter removes the source object. Satisfied by
// *objstore.Client.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Coordinator runs the ordered deletion. Only the vector store stage
// is critical: its failure aborts the remaining stages and surfaces an
// error alongside the partial report. Every other stage records its
// failure and continues.
type Coordinator struct {
	store     store.VectorStore
	assets    AssetStore
	cache     StructureCache
	reg       registry.Registry
	objects   ObjectDeleter
	tmpDir    string
	keyPrefix string
	logger    *slog.Logger
}

// Config wires the coordinator's optional collaborators. Nil fields
// skip their stages.
type Config struct {
	Assets  AssetStore
	Cache   StructureCache
	Reg     registry.Registry
	Objects ObjectDeleter

	// TmpDir is the processing scratch root; the document's directory
	// under it is removed in the workspace stage.
	TmpDir string

	// KeyPrefix is prepended to the registered filename to form the
	// object-store key.
	KeyPrefix string
}

// NewCoordinator creates a delete coordinator.
func NewCoordinator(vs store.VectorStore, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     vs,
		assets:    cfg.Assets,
		cache:     cfg.Cache,
		reg:       cfg.Reg,
		objects:   cfg.Objects,
		tmpDir:    cfg.TmpDir,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "deletion"),
	}
}

// Delete removes a document end to end. The report is non-nil even on
// failure.
func (c *Coordinator) Delete(ctx context.Context, docID string) (*Report, error) {
	if err := validation.ValidateFullDocID(docID); err != nil {
		return nil, err
	}
	report := &Report{DocID: docID}

	// The registered filename resolves the source object before the
	// record disappears.
	var sourceKey string
	if c.reg != nil {
		if rec, err := c.reg.Lookup(ctx, docID); err == nil && rec != nil {
			sourceKey = c.keyPrefix + rec.Filename
		}
	}

	// Stage 1: vector store. Critical.
	counts, err := c.store.DeleteByDoc(ctx, docID)
	report.VectorStore.Counts = map[string]int{
		"visual_embeddings": counts.Visual,
		"text_embeddings":   counts.Text,
	}
	if err != nil {
		report.VectorStore.Status = StatusFailed
		report.VectorStore.Error = err.Error()
		c.skipRemaining(report)
		return report, amerrors.Wrap(amerrors.ErrCodeStoreFailed, err).
			WithDetail("doc_id", docID)
	}
	report.VectorStore.Status = StatusDeleted

	// Stages 2+3: page images and album art.
	if c.assets != nil {
		pages, covers, err := c.assets.DeleteDoc(docID)
		report.PageImages = stageOutcome(err, map[string]int{"pages": pages})
		report.AlbumArt = stageOutcome(err, map[string]int{"covers": covers})
	} else {
		report.PageImages.Status = StatusSkipped
		report.AlbumArt.Status = StatusSkipped
	}

	// Stage 4: structure cache.
	if c.cache != nil {
		dropped := c.cache.Invalidate(docID)
		report.StructureCache = stageOutcome(nil, map[string]int{"entries": dropped})
	} else {
		report.StructureCache.Status = StatusSkipped
	}

	// Stage 5: scratch workspace. The markdown sidecar lives on the
	// embedding payloads and is already gone with stage 1.
	report.Workspace = c.deleteWorkspace(docID)

	// Stage 6: source object.
	if c.objects != nil && sourceKey != "" {
		err := c.objects.Delete(ctx, sourceKey)
		report.SourceObject = stageOutcome(err, nil)
	} else {
		report.SourceObject.Status = StatusSkipped
	}

	if c.reg != nil {
		if err := c.reg.Forget(ctx, docID); err != nil {
			c.logger.Warn("registry forget failed",
				slog.String("doc_id", docID),
				slog.String("error", err.Error()))
		}
	}

	report.Complete = report.PageImages.Status != StatusFailed &&
		report.AlbumArt.Status != StatusFailed &&
		report.Workspace.Status != StatusFailed &&
		report.SourceObject.Status != StatusFailed
	c.logger.Info("document deleted",
		slog.String("doc_id", docID),
		slog.Int("visual_embeddings", counts.Visual),
		slog.Int("text_embeddings", counts.Text),
		slog.Bool("complete", report.Complete))
	return report, nil
}

func (c *Coordinator) deleteWorkspace(docID string) StageReport {
	if c.tmpDir == "" {
		return StageReport{Status: StatusSkipped}
	}
	return stageOutcome(os.RemoveAll(filepath.Join(c.tmpDir, docID)), nil)
}

func (c *Coordinator) skipRemaining(report *Report) {
	for _, stage := range []*StageReport{
		&report.PageImages, &report.AlbumArt, &report.StructureCache,
		&report.Workspace, &report.SourceObject,
	} {
		stage.Status = StatusSkipped
	}
}

func stageOutcome(err error, counts map[string]int) StageReport {
	sr := StageReport{Status: StatusDeleted, Counts: counts}
	if err != nil {
		sr.Status = StatusFailed
		sr.Error = err.Error()
	}
	return sr
}
