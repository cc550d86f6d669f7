package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/54b3r/docrag-go/internal/rag"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T, dim int) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", &Config{Dimension: dim})
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(content string, vec ...float32) rag.Record {
	return rag.Record{Content: content, Vector: vec, SourceID: "doc", Metadata: rag.Metadata{"lang": "en"}}
}

func Test_Store_InsertAndNearest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, 2)
	ctx := context.Background()

	ids, err := s.InsertBatch(ctx, []rag.Record{
		record("x axis", 1, 0),
		record("y axis", 0, 1),
		record("mostly x", 0.9, 0.1),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Fatalf("want ids [1 2 3], got %v", ids)
	}

	got, err := s.Nearest(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results, got %d", len(got))
	}
	if got[0].Record.ID != 1 || got[1].Record.ID != 3 {
		t.Errorf("want ids [1 3], got [%d %d]", got[0].Record.ID, got[1].Record.ID)
	}
	if got[0].Record.Content != "x axis" || got[0].Record.Metadata["lang"] != "en" {
		t.Errorf("record round-trip lost data: %+v", got[0].Record)
	}
	if got[0].Record.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if len(got[0].Record.Vector) != 2 || got[0].Record.Vector[0] != 1 {
		t.Errorf("vector round-trip: got %v", got[0].Record.Vector)
	}
}

func Test_Store_EmptyNearest(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, 3)

	got, err := s.Nearest(context.Background(), []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("want empty non-nil result, got %#v", got)
	}
}

func Test_Store_RejectsBadQuery(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, 2)
	ctx := context.Background()

	if _, err := s.Nearest(ctx, []float32{1, 0}, 0); !errors.Is(err, rag.ErrInvalidArgument) {
		t.Errorf("limit 0: want ErrInvalidArgument, got %v", err)
	}
	if _, err := s.Nearest(ctx, []float32{1, 0}, 21); !errors.Is(err, rag.ErrInvalidArgument) {
		t.Errorf("limit 21: want ErrInvalidArgument, got %v", err)
	}
	if _, err := s.Nearest(ctx, []float32{1, 0, 0}, 1); !errors.Is(err, rag.ErrInvalidArgument) {
		t.Errorf("wrong dimension: want ErrInvalidArgument, got %v", err)
	}
}

func Test_Store_DimensionMismatchRejectsBatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, 2)
	ctx := context.Background()

	_, err := s.InsertBatch(ctx, []rag.Record{record("ok", 1, 0), record("bad", 1)})
	if !errors.Is(err, rag.ErrStorage) {
		t.Fatalf("want ErrStorage, got %v", err)
	}
	var de *rag.DimensionError
	if !errors.As(err, &de) {
		t.Fatalf("want DimensionError, got %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("want 0 records after rejected batch, got %d", n)
	}
}

func Test_Store_FailedCommitLeavesNothing(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, 2)
	ctx := context.Background()

	if _, err := s.InsertBatch(ctx, []rag.Record{record("first", 1, 0)}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	boom := errors.New("disk full")
	s.beforeCommit = func() error { return boom }
	_, err := s.InsertBatch(ctx, []rag.Record{record("a", 0, 1), record("b", 1, 1)})
	if !errors.Is(err, rag.ErrStorage) || !errors.Is(err, boom) {
		t.Fatalf("want ErrStorage wrapping hook error, got %v", err)
	}
	s.beforeCommit = nil

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("want only the seed record, got %d records", n)
	}

	got, err := s.Nearest(ctx, []float32{0, 1}, 5)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	for _, r := range got {
		if r.Record.Content == "a" || r.Record.Content == "b" {
			t.Errorf("rolled-back record %q is visible", r.Record.Content)
		}
	}
}

func Test_Store_TiesByAscendingID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t, 2)
	ctx := context.Background()

	for range 3 {
		if _, err := s.InsertBatch(ctx, []rag.Record{record("same", 1, 1)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	got, err := s.Nearest(ctx, []float32{1, 1}, 3)
	if err != nil {
		t.Fatalf("nearest: %v", err)
	}
	for i, r := range got {
		if r.Record.ID != uint64(i+1) {
			t.Errorf("position %d: want id %d, got %d", i, i+1, r.Record.ID)
		}
	}
}

func Test_Store_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s, err := Open(ctx, path, &Config{Dimension: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.InsertBatch(ctx, []rag.Record{record("kept", 1, 0)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, path, &Config{Dimension: 2})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ids, err := s.InsertBatch(ctx, []rag.Record{record("next", 0, 1)})
	if err != nil {
		t.Fatalf("insert after reopen: %v", err)
	}
	if ids[0] != 2 {
		t.Errorf("want id 2 after reopen, got %d", ids[0])
	}
	n, _ := s.Count(ctx)
	if n != 2 {
		t.Errorf("want 2 records, got %d", n)
	}
}

func Test_Store_DimensionPinned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	s, err := Open(ctx, path, &Config{Dimension: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Close()

	_, err = Open(ctx, path, &Config{Dimension: 8})
	if !errors.Is(err, rag.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig on dimension change, got %v", err)
	}
}

func Test_Store_VectorCodec(t *testing.T) {
	t.Parallel()

	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeVector(encodeVector(in), len(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: want %v, got %v", i, in[i], out[i])
		}
	}
	if _, err := decodeVector([]byte{1, 2, 3}, 1); err == nil {
		t.Error("want error for truncated blob")
	}
}
