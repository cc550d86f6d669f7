package rag

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant keeps points in a map and, like Qdrant, lets Upsert overwrite
// an existing id.
type fakeQdrant struct {
	mu       sync.Mutex
	size     uint64
	exists   bool
	points   map[uint64]string
	failNext bool
	deleted  []uint64
	getCalls int
}

func newFakeQdrant(size uint64) *fakeQdrant {
	return &fakeQdrant{size: size, points: map[uint64]string{}}
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, nil
}

func (f *fakeQdrant) GetCollectionInfo(context.Context, string) (*qdrant.CollectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: f.size, Distance: qdrant.Distance_Cosine}),
			},
		},
	}, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = true
	f.size = req.GetVectorsConfig().GetParams().GetSize()
	return nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("connection reset")
	}
	for _, p := range req.GetPoints() {
		f.points[p.GetId().GetNum()] = p.GetPayload()[payloadContent].GetStringValue()
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range req.GetPoints().GetPoints().GetIds() {
		delete(f.points, id.GetNum())
		f.deleted = append(f.deleted, id.GetNum())
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	var out []*qdrant.RetrievedPoint
	for _, id := range req.GetIds() {
		if _, ok := f.points[id.GetNum()]; ok {
			out = append(out, &qdrant.RetrievedPoint{Id: id})
		}
	}
	return out, nil
}

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}

func (f *fakeQdrant) Query(context.Context, *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	return nil, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error { return nil }

func (f *fakeQdrant) content(id uint64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.points[id]
	return c, ok
}

// sequenceIDs hands out the given ids in order, then counts up from next.
func sequenceIDs(next uint64, ids ...uint64) func() uint64 {
	return func() uint64 {
		if len(ids) > 0 {
			id := ids[0]
			ids = ids[1:]
			return id
		}
		next++
		return next
	}
}

func newFakeQdrantStore(t *testing.T, f *fakeQdrant, dim uint64) *QdrantStore {
	t.Helper()
	s, err := newQdrantStore(t.Context(), f, &QdrantConfig{Collection: "docs", VectorSize: dim, MaxLimit: DefaultMaxLimit})
	require.NoError(t, err)
	return s
}

func TestQdrantStore_CreatesMissingCollection(t *testing.T) {
	t.Parallel()

	f := newFakeQdrant(0)
	newFakeQdrantStore(t, f, 3)
	assert.True(t, f.exists)
	assert.Equal(t, uint64(3), f.size)
}

func TestQdrantStore_ExistingCollectionDimensionChecked(t *testing.T) {
	t.Parallel()

	f := newFakeQdrant(4)
	f.exists = true

	_, err := newQdrantStore(t.Context(), f, &QdrantConfig{Collection: "docs", VectorSize: 3})
	require.ErrorIs(t, err, ErrInvalidConfig)
	var dimErr *DimensionError
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Actual)

	f.size = 3
	_, err = newQdrantStore(t.Context(), f, &QdrantConfig{Collection: "docs", VectorSize: 3})
	require.NoError(t, err)
}

func TestQdrantStore_IDsAscendWithinBatch(t *testing.T) {
	t.Parallel()

	f := newFakeQdrant(0)
	s := newFakeQdrantStore(t, f, 2)
	s.newID = sequenceIDs(100, 50, 7, 50, 30)

	ids, err := s.InsertBatch(t.Context(), []Record{rec("a", 1, 0), rec("b", 0, 1), rec("c", 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 30, 50}, ids)
	assert.True(t, slices.IsSorted(ids))
}

func TestQdrantStore_ReopenAfterCompensationKeepsRecords(t *testing.T) {
	t.Parallel()

	f := newFakeQdrant(0)
	first := newFakeQdrantStore(t, f, 2)
	first.newID = sequenceIDs(0)

	a, err := first.InsertBatch(t.Context(), []Record{rec("a1", 1, 0), rec("a2", 0, 1)})
	require.NoError(t, err)

	f.failNext = true
	b, err := first.InsertBatch(t.Context(), []Record{rec("b1", 1, 0), rec("b2", 0, 1)})
	require.ErrorIs(t, err, ErrStorage)
	assert.Nil(t, b)
	assert.Len(t, f.deleted, 2)

	c, err := first.InsertBatch(t.Context(), []Record{rec("c1", 1, 0), rec("c2", 0, 1)})
	require.NoError(t, err)

	count, err := first.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	// A second store on the same collection draws ids that batch c already
	// holds; they must be redrawn instead of overwriting c.
	second := newFakeQdrantStore(t, f, 2)
	second.newID = sequenceIDs(1000, c[0], c[1])

	d, err := second.InsertBatch(t.Context(), []Record{rec("d1", 1, 0), rec("d2", 0, 1)})
	require.NoError(t, err)
	for _, id := range d {
		assert.NotContains(t, append(slices.Clone(a), c...), id)
	}

	for i, id := range c {
		got, ok := f.content(id)
		require.True(t, ok)
		assert.Equal(t, []string{"c1", "c2"}[i], got)
	}
	for i, id := range a {
		got, ok := f.content(id)
		require.True(t, ok)
		assert.Equal(t, []string{"a1", "a2"}[i], got)
	}

	count, err = second.Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestQdrantStore_GivesUpWhenIDsStayTaken(t *testing.T) {
	t.Parallel()

	f := newFakeQdrant(0)
	s := newFakeQdrantStore(t, f, 2)
	f.points[9] = "existing"
	s.newID = func() uint64 { return 9 }

	_, err := s.InsertBatch(t.Context(), []Record{rec("x", 1, 0)})
	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, maxIDDraws, f.getCalls)
	got, _ := f.content(9)
	assert.Equal(t, "existing", got)
}

func TestRandomPointID(t *testing.T) {
	t.Parallel()

	seen := map[uint64]bool{}
	for range 1000 {
		id := randomPointID()
		require.NotZero(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}
