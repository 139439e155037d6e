package structure

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

// DefaultCacheSize is the number of page structures kept in process.
const DefaultCacheSize = 20

// Service serves page structure and chunk payloads. Blobs live in the
// vector store's payload metadata for durability; a small LRU keeps hot
// pages decoded in process.
type Service struct {
	store  store.VectorStore
	cache  *lru.Cache[string, PageStructure]
	logger *slog.Logger
}

// NewService creates a structure service with the given cache size
// (DefaultCacheSize when <= 0).
func NewService(vs store.VectorStore, cacheSize int, logger *slog.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, PageStructure](cacheSize)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	return &Service{
		store:  vs,
		cache:  cache,
		logger: logger.With("component", "structure"),
	}, nil
}

// PageStructureFor returns the layout of one page. Pages without an
// extracted layout return an empty structure with HasStructure=false
// rather than an error; only a missing page is a not-found condition.
func (s *Service) PageStructureFor(ctx context.Context, docID string, page int) (PageStructure, error) {
	key := cacheKey(docID, page)
	if ps, ok := s.cache.Get(key); ok {
		return ps, nil
	}

	rec, err := s.store.Get(ctx, store.CollectionVisual, store.VisualEmbeddingID(docID, page))
	if err != nil {
		return PageStructure{}, err
	}
	if rec == nil {
		return PageStructure{}, amerrors.New(amerrors.ErrCodeDocumentNotFound,
			fmt.Sprintf("page %d of document %s not found", page, docID), nil)
	}

	ps := structureFromMetadata(rec.Metadata, page)
	if blob := store.MetaString(rec.Metadata, KeyStructureCompressed); blob != "" {
		decoded, err := Decompress(blob)
		if err != nil {
			// Corruption is non-blocking: log and fall back to the empty
			// structure so the viewer still renders the page.
			s.logger.Error("corrupted structure blob",
				slog.String("doc_id", docID),
				slog.Int("page", page),
				slog.String("error", err.Error()))
		} else {
			ps = decoded
		}
	}

	s.cache.Add(key, ps)
	return ps, nil
}

// ChunkFor returns the chunk-level payload stored on the chunk's text
// embedding.
func (s *Service) ChunkFor(ctx context.Context, docID, chunkID string) (ChunkInfo, error) {
	rec, err := s.store.Get(ctx, store.CollectionText, store.TextEmbeddingID(chunkID))
	if err != nil {
		return ChunkInfo{}, err
	}
	if rec == nil || store.MetaString(rec.Metadata, store.KeyDocID) != docID {
		return ChunkInfo{}, amerrors.New(amerrors.ErrCodeChunkNotFound,
			fmt.Sprintf("chunk %s not found in document %s", chunkID, docID), nil)
	}

	info := ChunkInfo{
		ChunkID:        chunkID,
		DocID:          docID,
		Page:           store.MetaInt(rec.Metadata, store.KeyPage),
		Index:          store.MetaInt(rec.Metadata, store.KeyChunkIndex),
		Text:           store.MetaString(rec.Metadata, store.KeyText),
		ElementID:      store.MetaString(rec.Metadata, store.KeyElementID),
		SectionHeading: store.MetaString(rec.Metadata, store.KeySectionHeading),
	}
	if raw := store.MetaString(rec.Metadata, store.KeyBBox); raw != "" {
		if bbox, ok := ParseBBox(raw); ok {
			info.BBox = &bbox
		}
	}
	return info, nil
}

// Invalidate drops a document's pages from the cache. Called by the
// delete coordinator.
func (s *Service) Invalidate(docID string) int {
	prefix := docID + "/"
	dropped := 0
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
			dropped++
		}
	}
	return dropped
}

func cacheKey(docID string, page int) string {
	return docID + "/" + strconv.Itoa(page)
}

// structureFromMetadata builds the fallback structure for a page whose
// blob is absent or unreadable.
func structureFromMetadata(meta store.Metadata, page int) PageStructure {
	return PageStructure{
		Page:            page,
		MetadataVersion: MetadataVersionNone,
		HasStructure:    false,
		Elements:        []StructureElement{},
		PageWidth:       store.MetaFloat(meta, "page_width"),
		PageHeight:      store.MetaFloat(meta, "page_height"),
	}
}

// ParseBBox parses the compact "l,b,r,t" wire form.
func ParseBBox(s string) (BBox, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, false
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, false
		}
		vals[i] = v
	}
	return BBox{Left: vals[0], Bottom: vals[1], Right: vals[2], Top: vals[3]}, true
}
