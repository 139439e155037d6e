package store

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-memory VectorStore used by tests and the doctor's
// dry-run mode. It mirrors the backend's observable behaviour: points
// keyed by embedding id, cosine similarity on pooled vectors, payload
// filters, and tensor round-trips through the compression codec.
type Memory struct {
	mu      sync.RWMutex
	records map[Collection]map[string]Record
}

var _ VectorStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: map[Collection]map[string]Record{
			CollectionVisual: {},
			CollectionText:   {},
		},
	}
}

// EnsureCollections is a no-op for the in-memory store.
func (m *Memory) EnsureCollections(_ context.Context, _ int) error { return nil }

// Add upserts records, round-tripping tensors through the codec and
// metadata through Sanitize so tests observe the same serialisation
// the backend stores.
func (m *Memory) Add(_ context.Context, col Collection, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		blob, shape, err := CompressEmbedding(rec.Vector)
		if err != nil {
			return err
		}
		mv, err := DecompressEmbedding(blob, shape)
		if err != nil {
			return err
		}

		clean := Sanitize(rec.Metadata)
		meta := make(Metadata, len(clean)+1)
		for k, v := range clean {
			meta[k] = v
		}
		meta[KeyEmbeddingID] = rec.EmbeddingID

		m.records[col][rec.EmbeddingID] = Record{
			EmbeddingID: rec.EmbeddingID,
			Vector:      mv,
			Metadata:    meta,
		}
	}
	return nil
}

// Get fetches one record. Returns (nil, nil) when absent.
func (m *Memory) Get(_ context.Context, col Collection, embeddingID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[col][embeddingID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Query ranks matching records by cosine similarity of pooled vectors.
func (m *Memory) Query(_ context.Context, col Collection, pooled []float32, topK int, filter Filter) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]Candidate, 0)
	for _, rec := range m.records[col] {
		if !matches(rec.Metadata, filter) {
			continue
		}
		candidates = append(candidates, Candidate{
			EmbeddingID: rec.EmbeddingID,
			Score:       cosine(pooled, rec.Vector.Pool()),
			Vector:      rec.Vector,
			Metadata:    rec.Metadata,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].EmbeddingID < candidates[j].EmbeddingID
	})
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// Scroll returns records matching the filter in id order.
func (m *Memory) Scroll(_ context.Context, col Collection, filter Filter, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0)
	for _, rec := range m.records[col] {
		if matches(rec.Metadata, filter) {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].EmbeddingID < records[j].EmbeddingID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Count returns the number of matching records.
func (m *Memory) Count(_ context.Context, col Collection, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, rec := range m.records[col] {
		if matches(rec.Metadata, filter) {
			count++
		}
	}
	return count, nil
}

// DeleteByDoc removes a document's records from both collections.
func (m *Memory) DeleteByDoc(_ context.Context, docID string) (DeleteCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counts DeleteCounts
	filter := Filter{DocID: docID}
	for id, rec := range m.records[CollectionVisual] {
		if matches(rec.Metadata, filter) {
			delete(m.records[CollectionVisual], id)
			counts.Visual++
		}
	}
	for id, rec := range m.records[CollectionText] {
		if matches(rec.Metadata, filter) {
			delete(m.records[CollectionText], id)
			counts.Text++
		}
	}
	return counts, nil
}

// GetDocumentMarkdown mirrors the backend lookup order.
func (m *Memory) GetDocumentMarkdown(ctx context.Context, docID string) (string, error) {
	for _, col := range []Collection{CollectionText, CollectionVisual} {
		records, err := m.Scroll(ctx, col, Filter{DocID: docID}, 1)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			continue
		}
		md, ok, err := MarkdownFromMetadata(records[0].Metadata)
		if err != nil {
			return "", err
		}
		if ok {
			return md, nil
		}
	}
	return "", nil
}

// ListDocIDs returns the distinct doc_ids in either collection.
func (m *Memory) ListDocIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	for _, col := range m.records {
		for _, rec := range col {
			if id := MetaString(rec.Metadata, KeyDocID); id != "" {
				seen[id] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// HealthCheck always succeeds.
func (m *Memory) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func matches(meta Metadata, f Filter) bool {
	if f.DocID != "" && MetaString(meta, KeyDocID) != f.DocID {
		return false
	}
	if f.Page > 0 && MetaInt(meta, "page") != f.Page {
		return false
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
