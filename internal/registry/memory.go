package registry

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process registry used when no redis address is
// configured. Dedup then survives only for the server's lifetime;
// single-node deployments that want durable dedup configure redis.
type Memory struct {
	mu        sync.Mutex
	docs      map[string]DocRecord
	filenames map[string]string
	inflight  map[string]string
	reingest  map[string]bool
}

var _ Registry = (*Memory)(nil)

// NewMemory creates an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{
		docs:      map[string]DocRecord{},
		filenames: map[string]string{},
		inflight:  map[string]string{},
		reingest:  map[string]bool{},
	}
}

func (m *Memory) Register(_ context.Context, rec DocRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.UploadTS == 0 {
		rec.UploadTS = time.Now().UTC().Unix()
	}
	m.docs[rec.DocID] = rec
	m.filenames[rec.Filename] = rec.DocID
	return nil
}

func (m *Memory) Lookup(_ context.Context, docID string) (*DocRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.docs[docID]; ok {
		out := rec
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) LookupFilename(_ context.Context, filename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filenames[filename], nil
}

func (m *Memory) RegisterBatch(ctx context.Context, files []FileSpec, force bool) ([]BatchEntry, error) {
	out := make([]BatchEntry, 0, len(files))
	for _, f := range files {
		docID := DeriveDocIDFromMeta(f.Filename, f.Size)
		entry := BatchEntry{Filename: f.Filename, DocID: docID, ExpectedSize: f.Size}
		if existing, _ := m.Lookup(ctx, docID); existing != nil {
			entry.IsDuplicate = true
			entry.ExistingDoc = existing
			if force {
				if err := m.MarkReingest(ctx, docID); err != nil {
					return nil, err
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *Memory) MarkReingest(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reingest[docID] = true
	return nil
}

func (m *Memory) ConsumeReingest(_ context.Context, docID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reingest[docID] {
		delete(m.reingest, docID)
		return true, nil
	}
	return false, nil
}

func (m *Memory) ClaimInflight(_ context.Context, docID, jobID string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if holder, ok := m.inflight[docID]; ok {
		return false, holder, nil
	}
	m.inflight[docID] = jobID
	return true, jobID, nil
}

func (m *Memory) ReleaseInflight(_ context.Context, docID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[docID] == jobID {
		delete(m.inflight, docID)
	}
	return nil
}

func (m *Memory) Forget(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.docs[docID]; ok {
		if m.filenames[rec.Filename] == docID {
			delete(m.filenames, rec.Filename)
		}
		delete(m.docs, docID)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
