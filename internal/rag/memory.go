package rag

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultMaxLimit caps the number of results a single Nearest call may ask for.
const DefaultMaxLimit = 20

// MemoryConfig holds the settings for a MemoryStore.
type MemoryConfig struct {
	// Dimension is the fixed vector length accepted by the store.
	Dimension int

	// MaxLimit caps Nearest's limit. Defaults to DefaultMaxLimit if zero.
	MaxLimit int
}

// memorySnapshot is an immutable view of the record collection. A new
// snapshot is published for every committed batch.
type memorySnapshot struct {
	records []Record
	nextID  uint64
}

// MemoryStore is a VectorStore that keeps every record in process memory and
// ranks by exact brute-force cosine similarity.
//
// Writers build a new snapshot under mu and publish it with a single atomic
// pointer swap; readers load the current snapshot without locking. A reader
// therefore observes either all or none of any InsertBatch call.
type MemoryStore struct {
	// mu serialises writers.
	mu sync.Mutex

	// snap is the currently published snapshot.
	snap atomic.Pointer[memorySnapshot]

	// dim is the fixed vector length.
	dim int

	// maxLimit caps Nearest's limit.
	maxLimit int

	// now is the clock used for CreatedAt; replaced in tests.
	now func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(cfg *MemoryConfig) (*MemoryStore, error) {
	if cfg == nil || cfg.Dimension <= 0 {
		return nil, fmt.Errorf("rag: memory store: %w: dimension must be positive", ErrInvalidConfig)
	}
	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	s := &MemoryStore{dim: cfg.Dimension, maxLimit: maxLimit, now: time.Now}
	s.snap.Store(&memorySnapshot{nextID: 1})
	return s, nil
}

// InsertBatch appends records under a fresh snapshot and returns their ids.
func (s *MemoryStore) InsertBatch(ctx context.Context, records []Record) ([]uint64, error) {
	if err := ValidateRecords(records, s.dim); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Last cancellation point: after this the batch is committed as a unit.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("rag: memory store: %w: %w", ErrStorage, err)
	}

	cur := s.snap.Load()
	next := &memorySnapshot{
		records: make([]Record, len(cur.records), len(cur.records)+len(records)),
		nextID:  cur.nextID,
	}
	copy(next.records, cur.records)

	ids := make([]uint64, len(records))
	created := s.now().UTC()
	for i, r := range records {
		r.ID = next.nextID
		r.Vector = slices.Clone(r.Vector)
		r.Metadata = r.Metadata.Clone()
		r.CreatedAt = created
		next.records = append(next.records, r)
		ids[i] = r.ID
		next.nextID++
	}

	s.snap.Store(next)
	return ids, nil
}

// Nearest ranks every record of the current snapshot against query.
func (s *MemoryStore) Nearest(ctx context.Context, query []float32, limit int) ([]QueryResult, error) {
	if err := CheckQuery(query, limit, s.dim, s.maxLimit); err != nil {
		return nil, err
	}
	snap := s.snap.Load()
	if len(snap.records) == 0 {
		return []QueryResult{}, nil
	}

	top := NewTopK(limit)
	for i := range snap.records {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("rag: memory store: %w: %w", ErrStorage, err)
			}
		}
		r := snap.records[i]
		top.Push(QueryResult{Record: r, Similarity: CosineSimilarity(query, r.Vector)})
	}

	// Results leave the snapshot, so they get their own vector and metadata.
	results := top.Results()
	for i := range results {
		results[i].Record.Vector = slices.Clone(results[i].Record.Vector)
		results[i].Record.Metadata = results[i].Record.Metadata.Clone()
	}
	return results, nil
}

// Count returns the number of records in the current snapshot.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	return len(s.snap.Load().records), nil
}

// Dimension returns the fixed vector length of the store.
func (s *MemoryStore) Dimension() int { return s.dim }

// Close is a no-op; it exists to satisfy VectorStore.
func (s *MemoryStore) Close() error { return nil }

// ValidateRecords checks every record of a batch before anything is written,
// so a rejected batch never reaches the storage layer.
func ValidateRecords(records []Record, dim int) error {
	for i, r := range records {
		if len(r.Vector) != dim {
			return fmt.Errorf("%w: record %d: %w", ErrStorage, i, &DimensionError{Expected: dim, Actual: len(r.Vector)})
		}
		if r.Content == "" {
			return fmt.Errorf("%w: record %d: empty content", ErrStorage, i)
		}
		if r.ChunkIndex < 0 {
			return fmt.Errorf("%w: record %d: negative chunk index %d", ErrStorage, i, r.ChunkIndex)
		}
	}
	return nil
}
