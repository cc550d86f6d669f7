package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryStore(t *testing.T, dim int) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(&MemoryConfig{Dimension: dim})
	require.NoError(t, err)
	return s
}

func rec(content string, vec ...float32) Record {
	return Record{Content: content, Vector: vec, SourceID: "src"}
}

func TestNewMemoryStore_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewMemoryStore(&MemoryConfig{Dimension: 0})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewMemoryStore(nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMemoryStore_NearestRanksByCosine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 2)

	ids, err := s.InsertBatch(ctx, []Record{
		rec("x axis", 1, 0),
		rec("y axis", 0, 1),
		rec("mostly x", 0.9, 0.1),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	got, err := s.Nearest(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(1), got[0].Record.ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.Equal(t, uint64(3), got[1].Record.ID)
	assert.InDelta(t, 0.9939, got[1].Similarity, 1e-4)
}

func TestMemoryStore_EmptyStore(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t, 3)

	got, err := s.Nearest(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_TiesBrokenByAscendingID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 2)

	// Four identical vectors inserted over two batches.
	_, err := s.InsertBatch(ctx, []Record{rec("a", 1, 1), rec("b", 1, 1)})
	require.NoError(t, err)
	_, err = s.InsertBatch(ctx, []Record{rec("c", 1, 1), rec("d", 1, 1)})
	require.NoError(t, err)

	got, err := s.Nearest(ctx, []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Record.ID)
	assert.Equal(t, uint64(2), got[1].Record.ID)
	assert.Equal(t, uint64(3), got[2].Record.ID)
}

func TestMemoryStore_LimitLargerThanStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 2)

	_, err := s.InsertBatch(ctx, []Record{rec("a", 1, 0), rec("b", -1, 0)})
	require.NoError(t, err)

	got, err := s.Nearest(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, -1.0, got[1].Similarity, 1e-9)
}

func TestMemoryStore_NearestRejectsBadArguments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 2)

	cases := []struct {
		name  string
		query []float32
		limit int
	}{
		{"zero limit", []float32{1, 0}, 0},
		{"negative limit", []float32{1, 0}, -1},
		{"limit above max", []float32{1, 0}, DefaultMaxLimit + 1},
		{"wrong dimension", []float32{1, 0, 0}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Nearest(ctx, tc.query, tc.limit)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	_, err := s.Nearest(ctx, []float32{1}, 1)
	var de *DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 2, de.Expected)
	assert.Equal(t, 1, de.Actual)
}

func TestMemoryStore_InsertRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 2)

	_, err := s.InsertBatch(ctx, []Record{rec("ok", 1, 0), rec("bad", 1, 0, 0)})
	require.ErrorIs(t, err, ErrStorage)
	var de *DimensionError
	require.ErrorAs(t, err, &de)

	_, err = s.InsertBatch(ctx, []Record{{Vector: []float32{1, 0}}})
	require.ErrorIs(t, err, ErrStorage)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a rejected batch must leave no partial records")
}

func TestMemoryStore_InsertHonoursCancellation(t *testing.T) {
	t.Parallel()
	s := newMemoryStore(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.InsertBatch(ctx, []Record{rec("a", 1, 0)})
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, context.Canceled)

	n, _ := s.Count(context.Background())
	assert.Zero(t, n)
}

func TestMemoryStore_RecordsAreCopied(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 2)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	vec := []float32{1, 0}
	md := Metadata{"author": "jane", "tags": []any{"go"}}
	_, err := s.InsertBatch(ctx, []Record{{Content: "a", Vector: vec, Metadata: md}})
	require.NoError(t, err)

	vec[0] = -1
	md["author"] = "changed"

	got, err := s.Nearest(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.Equal(t, "jane", got[0].Record.Metadata["author"])
	assert.Equal(t, fixed, got[0].Record.CreatedAt)

	got[0].Record.Metadata["author"] = "mutated"
	got[0].Record.Vector[0] = -1
	got[0].Record.Metadata["tags"].([]any)[0] = "rust"

	again, err := s.Nearest(ctx, []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.InDelta(t, 1.0, again[0].Similarity, 1e-9)
	assert.Equal(t, "jane", again[0].Record.Metadata["author"])
	assert.Equal(t, []float32{1, 0}, again[0].Record.Vector)
	assert.Equal(t, []any{"go"}, again[0].Record.Metadata["tags"])
}

func TestMemoryStore_NilMetadataStoredAsEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 1)

	_, err := s.InsertBatch(ctx, []Record{rec("a", 1)})
	require.NoError(t, err)

	got, err := s.Nearest(ctx, []float32{1}, 1)
	require.NoError(t, err)
	assert.NotNil(t, got[0].Record.Metadata)
	assert.Empty(t, got[0].Record.Metadata)
}

func TestMemoryStore_NearestIsRepeatable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newMemoryStore(t, 3)

	batch := make([]Record, 0, 50)
	for i := range 50 {
		batch = append(batch, rec(fmt.Sprintf("r%d", i), float32(i%7), float32(i%3), 1))
	}
	_, err := s.InsertBatch(ctx, batch)
	require.NoError(t, err)

	q := []float32{2, 1, 1}
	first, err := s.Nearest(ctx, q, 10)
	require.NoError(t, err)
	second, err := s.Nearest(ctx, q, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for i := 1; i < len(first); i++ {
		assert.False(t, Less(first[i], first[i-1]), "results out of order at %d", i)
	}
}

// TestMemoryStore_BatchVisibilityIsAtomic runs readers against concurrent
// writers and checks that every observed count is a whole number of batches.
func TestMemoryStore_BatchVisibilityIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := NewMemoryStore(&MemoryConfig{Dimension: 2, MaxLimit: 1000})
	require.NoError(t, err)

	const (
		writers   = 4
		batches   = 25
		batchSize = 7
	)

	var wg sync.WaitGroup
	errs := make(chan error, writers*batches+8)

	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range batches {
				batch := make([]Record, batchSize)
				for i := range batch {
					batch[i] = rec(fmt.Sprintf("w%d-b%d-%d", w, b, i), 1, float32(i))
				}
				if _, err := s.InsertBatch(ctx, batch); err != nil {
					errs <- err
				}
			}
		}()
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n, _ := s.Count(ctx)
				if n%batchSize != 0 {
					errs <- fmt.Errorf("observed partial batch: count %d", n)
					return
				}
				res, err := s.Nearest(ctx, []float32{1, 0}, 1000)
				if err != nil {
					errs <- err
					return
				}
				if len(res)%batchSize != 0 {
					errs <- fmt.Errorf("observed partial batch: %d results", len(res))
					return
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	require.NoError(t, errors.Join(all...))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*batches*batchSize, n)
}
