package rag

import (
	"context"
	"fmt"
)

// DefaultLimit is the number of results returned when the caller passes 0.
const DefaultLimit = 5

// Retriever combines an Embedder and a VectorStore. It embeds the query at
// retrieval time and delegates similarity ranking to the store.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultLimit is the number of results to return when the caller passes 0.
	defaultLimit int

	// maxLimit is the largest limit a caller may request.
	maxLimit int
}

// NewRetriever constructs a Retriever from the given Embedder and VectorStore.
// defaultLimit and maxLimit fall back to DefaultLimit and DefaultMaxLimit.
func NewRetriever(embedder Embedder, store VectorStore, defaultLimit, maxLimit int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: %w: embedder must not be nil", ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("rag: %w: store must not be nil", ErrInvalidConfig)
	}
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = min(DefaultLimit, maxLimit)
	}
	if defaultLimit > maxLimit {
		return nil, fmt.Errorf("rag: %w: default limit %d exceeds maximum %d", ErrInvalidConfig, defaultLimit, maxLimit)
	}
	return &Retriever{
		embedder:     embedder,
		store:        store,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}, nil
}

// Retrieve embeds the query and returns the limit most similar records.
// A limit of 0 selects the default; negative limits and limits above the
// maximum are rejected with ErrInvalidArgument.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]QueryResult, error) {
	if limit == 0 {
		limit = r.defaultLimit
	}
	if limit < 0 || limit > r.maxLimit {
		return nil, fmt.Errorf("rag: %w: limit must be between 1 and %d, got %d", ErrInvalidArgument, r.maxLimit, limit)
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("rag: %w: expected 1 query embedding, got %d", ErrEmbeddingContract, len(embeddings))
	}

	results, err := r.store.Nearest(ctx, embeddings[0], limit)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return results, nil
}

// MaxLimit returns the largest limit accepted by Retrieve.
func (r *Retriever) MaxLimit() int { return r.maxLimit }
