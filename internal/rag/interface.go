// Package rag defines the data model and the interfaces of the
// retrieval-augmented generation core: chunks, persisted records, vector
// storage, embedding, and retrieval. Concrete implementations (in-memory,
// SQLite, Qdrant, HTTP embedding providers) satisfy these interfaces so the
// ingestion and answer layers never depend on a specific backend.
package rag

import (
	"context"
	"time"
)

// Metadata is an opaque bag of JSON-like values attached to every record of
// an ingest call. The core never inspects it; it is stored and returned
// verbatim.
type Metadata map[string]any

// Clone returns a copy of m that shares no maps or slices with it. A nil
// Metadata clones to an empty map so persisted records always carry a
// non-nil bag.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Metadata:
		return t.Clone()
	case map[string]any:
		return map[string]any(Metadata(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Chunk is a bounded, overlapping piece of a source document produced by the
// chunker. It is transient: once embedded it is materialised into a Record.
type Chunk struct {
	// Index is the position of the chunk in the source document, from 0.
	Index int

	// Text is the non-empty chunk content.
	Text string

	// SourceID identifies the document the chunk was cut from.
	SourceID string

	// Metadata is shared by every chunk of one ingest call.
	Metadata Metadata
}

// Record is a persisted, immutable chunk together with its embedding.
type Record struct {
	// ID is assigned by the store on insert; zero on records not yet stored.
	ID uint64

	// Vector is the embedding; its length equals the store dimension.
	Vector []float32

	// Content is the chunk text.
	Content string

	// SourceID is the origin document identifier.
	SourceID string

	// ChunkIndex is the position of the chunk within its ingest call.
	ChunkIndex int

	// Metadata holds caller-supplied key-value pairs.
	Metadata Metadata

	// CreatedAt is set by the store when the record is inserted.
	CreatedAt time.Time
}

// QueryResult is a stored record paired with its cosine similarity to a
// query vector, in [-1, 1].
type QueryResult struct {
	Record     Record
	Similarity float64
}

// VectorStore owns the persisted collection of records.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// InsertBatch stores records atomically and returns their assigned ids in
	// input order. On error no record of the batch is visible to readers.
	InsertBatch(ctx context.Context, records []Record) ([]uint64, error)

	// Nearest returns up to limit records ordered by descending cosine
	// similarity to query, ties broken by ascending id. An empty store yields
	// an empty slice and no error.
	Nearest(ctx context.Context, query []float32, limit int) ([]QueryResult, error)

	// Count returns the number of records visible to readers.
	Count(ctx context.Context) (int, error)

	// Dimension returns the fixed vector length of the store.
	Dimension() int

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
