package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/Aman-CERP/amanrag/internal/encoder"
	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// QdrantConfig configures the qdrant-backed vector store.
type QdrantConfig struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	VisualCollection string
	TextCollection   string
	Timeout          time.Duration
}

// Qdrant implements VectorStore over a qdrant instance. The backend
// serialises concurrent writers internally; this client adds no
// locking of its own.
type Qdrant struct {
	client  *qdrant.Client
	config  QdrantConfig
	logger  *slog.Logger
	breaker *amerrors.CircuitBreaker
}

var _ VectorStore = (*Qdrant)(nil)

// scrollPageSize bounds the per-request batch when walking a
// collection.
const scrollPageSize = 256

// NewQdrant connects to the vector store backend.
func NewQdrant(cfg QdrantConfig, logger *slog.Logger) (*Qdrant, error) {
	if cfg.VisualCollection == "" {
		cfg.VisualCollection = string(CollectionVisual)
	}
	if cfg.TextCollection == "" {
		cfg.TextCollection = string(CollectionText)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeVectorStoreUnavailable,
			"failed to create vector store client", err).
			WithDetail("host", cfg.Host)
	}

	return &Qdrant{
		client:  client,
		config:  cfg,
		logger:  logger.With("component", "store"),
		breaker: amerrors.NewCircuitBreaker("qdrant"),
	}, nil
}

// collectionName maps a logical collection to its backend name.
func (q *Qdrant) collectionName(col Collection) string {
	if col == CollectionVisual {
		return q.config.VisualCollection
	}
	return q.config.TextCollection
}

// EnsureCollections creates both collections with cosine distance and a
// keyword payload index on doc_id. Safe to call on every startup.
func (q *Qdrant) EnsureCollections(ctx context.Context, dim int) error {
	for _, col := range []Collection{CollectionVisual, CollectionText} {
		name := q.collectionName(col)

		opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
		exists, err := q.client.CollectionExists(opCtx, name)
		cancel()
		if err != nil {
			return q.unavailable("checking collection", err)
		}
		if exists {
			continue
		}

		opCtx, cancel = context.WithTimeout(ctx, q.config.Timeout)
		err = q.client.CreateCollection(opCtx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		cancel()
		if err != nil {
			return q.unavailable("creating collection", err)
		}

		opCtx, cancel = context.WithTimeout(ctx, q.config.Timeout)
		_, err = q.client.CreateFieldIndex(opCtx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      KeyDocID,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		cancel()
		if err != nil {
			return q.unavailable("creating payload index", err)
		}

		q.logger.Info("created collection", slog.String("collection", name), slog.Int("dim", dim))
	}
	return nil
}

// Add upserts records. Tensors are compressed into the payload and the
// pooled mean becomes the point's dense vector.
func (q *Qdrant) Add(ctx context.Context, col Collection, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		blob, shape, err := CompressEmbedding(rec.Vector)
		if err != nil {
			return err
		}

		clean := Sanitize(rec.Metadata)
		payload := make(map[string]any, len(clean)+4)
		for k, v := range clean {
			payload[k] = v
		}
		payload[KeyEmbeddingID] = rec.EmbeddingID
		payload[KeyEmbeddingCompressed] = blob
		payload[KeyEmbeddingShape] = shape
		payload[KeyEmbeddingCompression] = CompressionGzipBase64

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointUUID(rec.EmbeddingID)),
			Vectors: qdrant.NewVectors(rec.Vector.Pool()...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	return q.execute(func() error {
		opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
		defer cancel()
		_, err := q.client.Upsert(opCtx, &qdrant.UpsertPoints{
			CollectionName: q.collectionName(col),
			Points:         points,
		})
		if err != nil {
			return q.unavailable("upserting points", err)
		}
		return nil
	})
}

// Get fetches one record by embedding id, decompressing the tensor.
func (q *Qdrant) Get(ctx context.Context, col Collection, embeddingID string) (*Record, error) {
	opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	points, err := q.client.Get(opCtx, &qdrant.GetPoints{
		CollectionName: q.collectionName(col),
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(PointUUID(embeddingID))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, q.unavailable("fetching point", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	meta := payloadToMetadata(points[0].Payload)
	mv, err := q.tensorFromMetadata(embeddingID, meta)
	if err != nil {
		return nil, err
	}
	return &Record{EmbeddingID: embeddingID, Vector: mv, Metadata: meta}, nil
}

// Query runs ANN search over the pooled vectors and decompresses each
// candidate's tensor from the payload.
func (q *Qdrant) Query(ctx context.Context, col Collection, pooled []float32, topK int, filter Filter) ([]Candidate, error) {
	opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	hits, err := q.client.Query(opCtx, &qdrant.QueryPoints{
		CollectionName: q.collectionName(col),
		Query:          qdrant.NewQuery(pooled...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, q.unavailable("querying", err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		meta := payloadToMetadata(hit.Payload)
		embeddingID := MetaString(meta, KeyEmbeddingID)

		mv, err := q.tensorFromMetadata(embeddingID, meta)
		if err != nil {
			// Corruption is fatal for the point, not the query: log and
			// skip so one bad blob cannot blank out search.
			q.logger.Error("skipping corrupted candidate",
				slog.String("embedding_id", embeddingID),
				slog.String("error", err.Error()))
			continue
		}

		candidates = append(candidates, Candidate{
			EmbeddingID: embeddingID,
			Score:       hit.Score,
			Vector:      mv,
			Metadata:    meta,
		})
	}
	return candidates, nil
}

// Scroll returns records matching the filter, payload only.
func (q *Qdrant) Scroll(ctx context.Context, col Collection, filter Filter, limit int) ([]Record, error) {
	opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	if limit <= 0 || limit > scrollPageSize {
		limit = scrollPageSize
	}
	points, err := q.client.Scroll(opCtx, &qdrant.ScrollPoints{
		CollectionName: q.collectionName(col),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint32(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, q.unavailable("scrolling", err)
	}

	records := make([]Record, 0, len(points))
	for _, p := range points {
		meta := payloadToMetadata(p.Payload)
		records = append(records, Record{
			EmbeddingID: MetaString(meta, KeyEmbeddingID),
			Metadata:    meta,
		})
	}
	return records, nil
}

// Count returns the number of points matching the filter.
func (q *Qdrant) Count(ctx context.Context, col Collection, filter Filter) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()

	count, err := q.client.Count(opCtx, &qdrant.CountPoints{
		CollectionName: q.collectionName(col),
		Filter:         buildFilter(filter),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, q.unavailable("counting", err)
	}
	return int(count), nil
}

// DeleteByDoc removes every point owned by a document from both
// collections. Counts are taken before deletion so the report reflects
// what was removed.
func (q *Qdrant) DeleteByDoc(ctx context.Context, docID string) (DeleteCounts, error) {
	var counts DeleteCounts
	filter := Filter{DocID: docID}

	visual, err := q.Count(ctx, CollectionVisual, filter)
	if err != nil {
		return counts, err
	}
	text, err := q.Count(ctx, CollectionText, filter)
	if err != nil {
		return counts, err
	}

	for _, col := range []Collection{CollectionVisual, CollectionText} {
		opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
		_, err := q.client.Delete(opCtx, &qdrant.DeletePoints{
			CollectionName: q.collectionName(col),
			Points:         qdrant.NewPointsSelectorFilter(buildFilter(filter)),
		})
		cancel()
		if err != nil {
			return counts, q.unavailable("deleting points", err)
		}
	}

	counts.Visual = visual
	counts.Text = text
	return counts, nil
}

// GetDocumentMarkdown finds the markdown sidecar on any of the
// document's embeddings, trying the text collection first (every
// document has text embeddings; only visual formats have pages).
func (q *Qdrant) GetDocumentMarkdown(ctx context.Context, docID string) (string, error) {
	for _, col := range []Collection{CollectionText, CollectionVisual} {
		records, err := q.Scroll(ctx, col, Filter{DocID: docID}, 1)
		if err != nil {
			return "", err
		}
		if len(records) == 0 {
			continue
		}

		md, ok, err := MarkdownFromMetadata(records[0].Metadata)
		if err != nil {
			q.logger.Error("corrupted markdown sidecar",
				slog.String("doc_id", docID),
				slog.String("embedding_id", records[0].EmbeddingID),
				slog.String("error", err.Error()))
			return "", err
		}
		if ok {
			return md, nil
		}
	}
	return "", nil
}

// ListDocIDs walks both collections and returns the distinct doc_ids.
func (q *Qdrant) ListDocIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, col := range []Collection{CollectionVisual, CollectionText} {
		var offset *qdrant.PointId
		for {
			opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
			points, err := q.client.Scroll(opCtx, &qdrant.ScrollPoints{
				CollectionName: q.collectionName(col),
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				Offset:         offset,
				WithPayload:    qdrant.NewWithPayloadInclude(KeyDocID),
			})
			cancel()
			if err != nil {
				return nil, q.unavailable("scrolling doc ids", err)
			}
			if len(points) == 0 {
				break
			}
			for _, p := range points {
				meta := payloadToMetadata(p.Payload)
				if id := MetaString(meta, KeyDocID); id != "" {
					seen[id] = true
				}
			}
			if len(points) < scrollPageSize {
				break
			}
			offset = points[len(points)-1].Id
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// HealthCheck verifies the backend responds.
func (q *Qdrant) HealthCheck(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, q.config.Timeout)
	defer cancel()
	if _, err := q.client.HealthCheck(opCtx); err != nil {
		return q.unavailable("health check", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

// execute runs fn through the circuit breaker so a dead backend fails
// fast instead of stalling every job on timeouts.
func (q *Qdrant) execute(fn func() error) error {
	err := q.breaker.Execute(fn)
	if err == amerrors.ErrCircuitOpen {
		return amerrors.New(amerrors.ErrCodeVectorStoreUnavailable,
			"vector store circuit is open", err)
	}
	return err
}

// unavailable wraps a backend error as retryable.
func (q *Qdrant) unavailable(op string, err error) error {
	return amerrors.New(amerrors.ErrCodeVectorStoreUnavailable,
		fmt.Sprintf("vector store %s failed", op), err)
}

// tensorFromMetadata decompresses the sidecar tensor from a payload.
func (q *Qdrant) tensorFromMetadata(embeddingID string, meta Metadata) (encoder.MultiVector, error) {
	blob := MetaString(meta, KeyEmbeddingCompressed)
	shape := MetaString(meta, KeyEmbeddingShape)
	if blob == "" || shape == "" {
		return nil, amerrors.New(amerrors.ErrCodeCorruptedData,
			"point is missing its embedding sidecar", nil).
			WithDetail("embedding_id", embeddingID)
	}
	mv, err := DecompressEmbedding(blob, shape)
	if err != nil {
		if ae, ok := err.(*amerrors.AmanError); ok {
			ae.WithDetail("embedding_id", embeddingID)
		}
		return nil, err
	}
	return mv, nil
}

// buildFilter converts a Filter into the backend's condition form.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.DocID != "" {
		must = append(must, qdrant.NewMatch(KeyDocID, f.DocID))
	}
	if f.Page > 0 {
		must = append(must, qdrant.NewMatchInt("page", int64(f.Page)))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// payloadToMetadata converts backend payload values into flat metadata.
func payloadToMetadata(payload map[string]*qdrant.Value) Metadata {
	meta := make(Metadata, len(payload))
	for key, val := range payload {
		switch kind := val.Kind.(type) {
		case *qdrant.Value_StringValue:
			meta[key] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			meta[key] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			meta[key] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			meta[key] = kind.BoolValue
		}
	}
	return meta
}
