package rag

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// maxIDDraws bounds how often InsertBatch redraws ids that are already taken.
const maxIDDraws = 3

// Payload keys written alongside every Qdrant point.
const (
	payloadContent    = "content"
	payloadSourceID   = "source_id"
	payloadChunkIndex = "chunk_index"
	payloadMetadata   = "metadata_json"
	payloadCreatedAt  = "created_at_ms"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxLimit caps Nearest's limit. Defaults to DefaultMaxLimit if zero.
	MaxLimit int
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantStore.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
//
// Qdrant ranks with an HNSW index, which is approximate: on large
// collections a true top-k neighbour can be missed. Batch visibility follows
// Qdrant's per-request semantics rather than a store-wide snapshot, and a
// failed upsert is compensated by deleting the batch's ids.
//
// Point ids are random 64-bit values taken from a UUIDv4, so several
// processes can write to one collection without coordinating. Ids already
// present in the collection are redrawn before the upsert. Within a batch ids
// ascend in chunk order. Returned records do not carry their vectors.
type QdrantStore struct {
	client qdrantAPI

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig

	// newID draws a candidate point id.
	newID func() uint64
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxLimit
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: %w: vector size must be positive", ErrInvalidConfig)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store, err := newQdrantStore(ctx, client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func newQdrantStore(ctx context.Context, client qdrantAPI, cfg *QdrantConfig) (*QdrantStore, error) {
	store := &QdrantStore{client: client, cfg: cfg, newID: randomPointID}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// randomPointID returns the first eight bytes of a random UUID, never zero.
func randomPointID() uint64 {
	for {
		u := uuid.New()
		if id := binary.BigEndian.Uint64(u[:8]); id != 0 {
			return id
		}
	}
}

// ensureCollection creates the Qdrant collection if it does not already
// exist, and otherwise checks that its vector size matches VectorSize.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: %w: failed to check collection existence: %w", ErrStorage, err)
	}
	if exists {
		return s.checkDimension(ctx)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: %w: failed to create collection %q: %w", ErrStorage, s.cfg.Collection, err)
	}

	return nil
}

// checkDimension fails when an existing collection was created for another
// vector size.
func (s *QdrantStore) checkDimension(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: %w: failed to read collection %q: %w", ErrStorage, s.cfg.Collection, err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return fmt.Errorf("qdrant: %w: collection %q has no single unnamed vector", ErrInvalidConfig, s.cfg.Collection)
	}
	if got := params.GetSize(); got != s.cfg.VectorSize {
		return fmt.Errorf("qdrant: %w: collection %q was created with another dimension: %w",
			ErrInvalidConfig, s.cfg.Collection,
			&DimensionError{Expected: int(got), Actual: s.Dimension()}) //nolint:gosec // vector sizes fit in int
	}
	return nil
}

// InsertBatch upserts all records in a single request with wait=true.
func (s *QdrantStore) InsertBatch(ctx context.Context, records []Record) ([]uint64, error) {
	if err := ValidateRecords(records, s.Dimension()); err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	ids, err := s.reserveIDs(ctx, len(records))
	if err != nil {
		return nil, err
	}
	created := time.Now().UTC()

	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, r := range records {
		md, err := json.Marshal(r.Metadata.Clone())
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w: encode metadata: %w", ErrStorage, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(ids[i]),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadContent:    qdrant.NewValueString(r.Content),
				payloadSourceID:   qdrant.NewValueString(r.SourceID),
				payloadChunkIndex: qdrant.NewValueInt(int64(r.ChunkIndex)),
				payloadMetadata:   qdrant.NewValueString(string(md)),
				payloadCreatedAt:  qdrant.NewValueInt(created.UnixMilli()),
			},
		})
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		s.compensate(ids)
		return nil, fmt.Errorf("qdrant: %w: upsert failed: %w", ErrStorage, err)
	}

	return ids, nil
}

// reserveIDs draws n distinct ids that no point in the collection uses yet,
// sorted ascending.
func (s *QdrantStore) reserveIDs(ctx context.Context, n int) ([]uint64, error) {
	ids := make([]uint64, 0, n)
	for range maxIDDraws {
		ids = s.drawIDs(ids, n)

		taken, err := s.existingIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(taken) == 0 && len(ids) == n {
			slices.Sort(ids)
			return ids, nil
		}
		ids = slices.DeleteFunc(ids, func(id uint64) bool {
			_, ok := taken[id]
			return ok
		})
	}
	return nil, fmt.Errorf("qdrant: %w: could not draw %d unused point ids", ErrStorage, n)
}

// drawIDs tops ids up to n distinct values, giving up after 2n draws.
func (s *QdrantStore) drawIDs(ids []uint64, n int) []uint64 {
	have := make(map[uint64]struct{}, n)
	for _, id := range ids {
		have[id] = struct{}{}
	}
	for range 2 * n {
		if len(ids) == n {
			break
		}
		id := s.newID()
		if _, dup := have[id]; dup {
			continue
		}
		have[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// existingIDs returns the subset of ids already present in the collection.
func (s *QdrantStore) existingIDs(ctx context.Context, ids []uint64) (map[uint64]struct{}, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(id))
	}
	found, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w: check point ids: %w", ErrStorage, err)
	}
	taken := make(map[uint64]struct{}, len(found))
	for _, p := range found {
		taken[p.GetId().GetNum()] = struct{}{}
	}
	return taken, nil
}

// compensate removes any points of a failed batch that Qdrant may have
// applied. It uses a fresh context because the caller's may be cancelled.
func (s *QdrantStore) compensate(ids []uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDNum(id))
	}
	_, _ = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
}

// Nearest performs a cosine similarity search and returns the top results.
func (s *QdrantStore) Nearest(ctx context.Context, query []float32, limit int) ([]QueryResult, error) {
	if err := CheckQuery(query, limit, s.Dimension(), s.cfg.MaxLimit); err != nil {
		return nil, err
	}

	n := uint64(limit)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &n,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w: search failed: %w", ErrStorage, err)
	}

	results := make([]QueryResult, 0, len(points))
	for _, p := range points {
		rec, err := recordFromPayload(p.GetId().GetNum(), p.GetPayload())
		if err != nil {
			return nil, err
		}
		results = append(results, QueryResult{Record: rec, Similarity: float64(p.GetScore())})
	}
	SortResults(results)

	return results, nil
}

// recordFromPayload rebuilds a Record from a Qdrant point payload.
func recordFromPayload(id uint64, p map[string]*qdrant.Value) (Record, error) {
	rec := Record{ID: id, Metadata: Metadata{}}
	if v, ok := p[payloadContent]; ok {
		rec.Content = v.GetStringValue()
	}
	if v, ok := p[payloadSourceID]; ok {
		rec.SourceID = v.GetStringValue()
	}
	if v, ok := p[payloadChunkIndex]; ok {
		rec.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := p[payloadCreatedAt]; ok {
		rec.CreatedAt = time.UnixMilli(v.GetIntegerValue()).UTC()
	}
	if v, ok := p[payloadMetadata]; ok && v.GetStringValue() != "" {
		if err := json.Unmarshal([]byte(v.GetStringValue()), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("qdrant: %w: decode metadata of point %d: %w", ErrStorage, id, err)
		}
	}
	return rec, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: %w: count failed: %w", ErrStorage, err)
	}
	return int(n), nil //nolint:gosec // point counts fit in int
}

// Dimension returns the configured vector size.
func (s *QdrantStore) Dimension() int { return int(s.cfg.VectorSize) } //nolint:gosec // bounded by config

// Name returns the dependency label used in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
