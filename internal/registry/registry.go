package registry

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// Key layout in redis. Filenames index the most recent doc_id seen
// under that name; the inflight key collapses concurrent ingestion of
// the same document.
const (
	keyDocPrefix      = "amanrag:doc:"
	keyFilenamePrefix = "amanrag:filename:"
	keyInflightPrefix = "amanrag:inflight:"
	keyReingestPrefix = "amanrag:reingest:"
)

// InflightTTL bounds how long an in-flight claim survives a crashed
// worker before another ingest may proceed.
const InflightTTL = 15 * time.Minute

// ReingestTTL bounds how long a force_upload marker waits for the
// matching storage event before it lapses.
const ReingestTTL = 15 * time.Minute

// DocRecord is one registered document.
type DocRecord struct {
	DocID    string `json:"doc_id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	UploadTS int64  `json:"upload_ts"`
}

// FileSpec is one file in an upload batch registration.
type FileSpec struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// BatchEntry is the per-file registration result.
type BatchEntry struct {
	Filename     string     `json:"filename"`
	DocID        string     `json:"doc_id"`
	ExpectedSize int64      `json:"expected_size"`
	IsDuplicate  bool       `json:"is_duplicate"`
	ExistingDoc  *DocRecord `json:"existing_doc,omitempty"`
}

// Registry tracks known documents for deduplication and collapses
// concurrent ingests of the same doc_id.
type Registry interface {
	// Register records a completed ingest.
	Register(ctx context.Context, rec DocRecord) error

	// Lookup returns the record for a doc_id, or nil when unknown.
	Lookup(ctx context.Context, docID string) (*DocRecord, error)

	// LookupFilename returns the most recent doc_id ingested under a
	// filename, or "" when none.
	LookupFilename(ctx context.Context, filename string) (string, error)

	// RegisterBatch resolves doc_ids for an upload batch and flags
	// duplicates. With force set, duplicates are still reported but the
	// caller re-ingests them anyway.
	RegisterBatch(ctx context.Context, files []FileSpec, force bool) ([]BatchEntry, error)

	// MarkReingest records that the next upload of a doc_id was forced
	// and must be ingested even though the document is already known.
	MarkReingest(ctx context.Context, docID string) error

	// ConsumeReingest reports whether a force marker exists for a
	// doc_id, clearing it. Each marker admits one upload.
	ConsumeReingest(ctx context.Context, docID string) (bool, error)

	// ClaimInflight attempts to claim the ingestion of a doc_id for a
	// job. Returns (true, jobID) on success or (false, holder) when
	// another job already holds the claim.
	ClaimInflight(ctx context.Context, docID, jobID string) (bool, string, error)

	// ReleaseInflight drops a job's claim. Releasing a claim held by a
	// different job is a no-op.
	ReleaseInflight(ctx context.Context, docID, jobID string) error

	// Forget removes a document's registration after deletion.
	Forget(ctx context.Context, docID string) error

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Redis is the redis-backed registry.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

var _ Registry = (*Redis)(nil)

// NewRedis creates a registry over an address in go-redis form.
func NewRedis(addr, password string, db int, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		logger: logger.With("component", "registry"),
	}
}

// NewRedisFromClient wraps an existing client (used with miniredis).
func NewRedisFromClient(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger.With("component", "registry")}
}

func (r *Redis) Register(ctx context.Context, rec DocRecord) error {
	if rec.UploadTS == 0 {
		rec.UploadTS = time.Now().UTC().Unix()
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, keyDocPrefix+rec.DocID, map[string]any{
		"filename":  rec.Filename,
		"size":      rec.Size,
		"upload_ts": rec.UploadTS,
	})
	pipe.Set(ctx, keyFilenamePrefix+rec.Filename, rec.DocID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return r.unavailable(err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, docID string) (*DocRecord, error) {
	vals, err := r.client.HGetAll(ctx, keyDocPrefix+docID).Result()
	if err != nil {
		return nil, r.unavailable(err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	size, _ := strconv.ParseInt(vals["size"], 10, 64)
	ts, _ := strconv.ParseInt(vals["upload_ts"], 10, 64)
	return &DocRecord{
		DocID:    docID,
		Filename: vals["filename"],
		Size:     size,
		UploadTS: ts,
	}, nil
}

func (r *Redis) LookupFilename(ctx context.Context, filename string) (string, error) {
	id, err := r.client.Get(ctx, keyFilenamePrefix+filename).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", r.unavailable(err)
	}
	return id, nil
}

func (r *Redis) RegisterBatch(ctx context.Context, files []FileSpec, force bool) ([]BatchEntry, error) {
	out := make([]BatchEntry, 0, len(files))
	for _, f := range files {
		docID := DeriveDocIDFromMeta(f.Filename, f.Size)
		entry := BatchEntry{
			Filename:     f.Filename,
			DocID:        docID,
			ExpectedSize: f.Size,
		}
		existing, err := r.Lookup(ctx, docID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			entry.IsDuplicate = true
			entry.ExistingDoc = existing
			if force {
				if err := r.MarkReingest(ctx, docID); err != nil {
					return nil, err
				}
			} else {
				r.logger.Info("duplicate upload declined",
					slog.String("filename", f.Filename),
					slog.String("doc_id", docID))
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *Redis) MarkReingest(ctx context.Context, docID string) error {
	if err := r.client.Set(ctx, keyReingestPrefix+docID, "1", ReingestTTL).Err(); err != nil {
		return r.unavailable(err)
	}
	return nil
}

func (r *Redis) ConsumeReingest(ctx context.Context, docID string) (bool, error) {
	err := r.client.GetDel(ctx, keyReingestPrefix+docID).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, r.unavailable(err)
	}
	return true, nil
}

func (r *Redis) ClaimInflight(ctx context.Context, docID, jobID string) (bool, string, error) {
	ok, err := r.client.SetNX(ctx, keyInflightPrefix+docID, jobID, InflightTTL).Result()
	if err != nil {
		return false, "", r.unavailable(err)
	}
	if ok {
		return true, jobID, nil
	}
	holder, err := r.client.Get(ctx, keyInflightPrefix+docID).Result()
	if err == redis.Nil {
		// Claim expired between SetNX and Get; retry once.
		ok, err := r.client.SetNX(ctx, keyInflightPrefix+docID, jobID, InflightTTL).Result()
		if err != nil {
			return false, "", r.unavailable(err)
		}
		return ok, jobID, nil
	}
	if err != nil {
		return false, "", r.unavailable(err)
	}
	return false, holder, nil
}

func (r *Redis) ReleaseInflight(ctx context.Context, docID, jobID string) error {
	// Only the holder may release; a compare-and-delete script keeps it
	// atomic.
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	if err := r.client.Eval(ctx, script, []string{keyInflightPrefix + docID}, jobID).Err(); err != nil && err != redis.Nil {
		return r.unavailable(err)
	}
	return nil
}

func (r *Redis) Forget(ctx context.Context, docID string) error {
	rec, err := r.Lookup(ctx, docID)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keyDocPrefix+docID)
	if rec != nil && rec.Filename != "" {
		// Drop the filename index only when it still points here.
		current, err := r.LookupFilename(ctx, rec.Filename)
		if err == nil && current == docID {
			pipe.Del(ctx, keyFilenamePrefix+rec.Filename)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return r.unavailable(err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.unavailable(err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) unavailable(err error) error {
	return amerrors.New(amerrors.ErrCodeDependencyTimeout, "registry backend unavailable", err).
		WithSuggestion("Check the redis address in the config or AMANRAG_REDIS_ADDR")
}
