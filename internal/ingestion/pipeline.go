// Package ingestion implements the document ingestion pipeline: chunk the
// text, embed every chunk in one logical call, and persist the resulting
// records in a single atomic batch. A document is either fully searchable
// after Ingest returns or, on any failure, not present at all.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/metrics"
	"github.com/54b3r/docrag-go/internal/rag"
)

// DefaultSourceID labels text ingested without an explicit source.
const DefaultSourceID = "text-input"

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Zero selects chunker.DefaultSize and chunker.DefaultOverlap together.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// It must be smaller than ChunkSize.
	ChunkOverlap int

	// Separators overrides the chunker's separator priority list.
	Separators []string

	// HTTPTimeout is the timeout for each IngestURL fetch. Defaults to 30s.
	HTTPTimeout time.Duration

	// MaxFetchBytes caps the body size read by IngestURL. Defaults to 20 MiB.
	MaxFetchBytes int64

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// Logger receives progress and failure logs. Defaults to slog.Default.
	Logger *slog.Logger

	// Metrics records ingest outcomes; nil disables instrumentation.
	Metrics *metrics.Metrics
}

// Result reports a successful ingest.
type Result struct {
	// ChunksProcessed is the number of records persisted.
	ChunksProcessed int `json:"chunksProcessed"`

	// SourceID is the source label the records were stored under.
	SourceID string `json:"source"`

	// IDs are the store-assigned record ids, in chunk order.
	IDs []uint64 `json:"ids,omitempty"`
}

// Pipeline orchestrates the chunk → embed → insert flow for one document at
// a time. It is safe for concurrent use; concurrent ingests of different
// documents are independent.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// splitter cuts documents into overlapping chunks.
	splitter *chunker.Splitter

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// log is the pipeline logger.
	log *slog.Logger

	// httpClient is the HTTP client used by IngestURL.
	httpClient *http.Client
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
// An overlap that is not smaller than the chunk size is rejected with
// rag.ErrInvalidConfig.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: %w: embedder must not be nil", rag.ErrInvalidConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: %w: store must not be nil", rag.ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunker.DefaultSize
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.MaxFetchBytes <= 0 {
		cfg.MaxFetchBytes = 20 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "docrag-go/1.0 (document ingestion)"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts []chunker.Option
	if len(cfg.Separators) > 0 {
		opts = append(opts, chunker.WithSeparators(cfg.Separators...))
	}
	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, opts...)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		splitter: splitter,
		cfg:      cfg,
		log:      cfg.Logger,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}, nil
}

// Ingest chunks, embeds, and stores text under sourceID (DefaultSourceID
// when empty). Every record carries a copy of md. Whitespace-only text is
// rejected with rag.ErrEmptyInput before any embedding call.
//
// Records are built only once the full ordered vector sequence exists and
// are written with a single InsertBatch, so a failure at any stage,
// including cancellation, leaves nothing in the store.
func (p *Pipeline) Ingest(ctx context.Context, text, sourceID string, md rag.Metadata) (*Result, error) {
	start := time.Now()
	if sourceID == "" {
		sourceID = DefaultSourceID
	}
	log := p.log.With(slog.String("source", sourceID))

	res, err := p.ingest(ctx, text, sourceID, md)
	if err != nil {
		p.cfg.Metrics.IngestDone(rag.Kind(err), 0, 0)
		log.ErrorContext(ctx, "ingestion: failed",
			slog.String("kind", rag.Kind(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	elapsed := time.Since(start)
	p.cfg.Metrics.IngestDone("ok", res.ChunksProcessed, elapsed)
	log.InfoContext(ctx, "ingestion: completed",
		slog.Int("chunks", res.ChunksProcessed),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, text, sourceID string, md rag.Metadata) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ingestion: %w: no text to ingest", rag.ErrEmptyInput)
	}

	chunks := p.splitter.Chunks(text, sourceID, md.Clone())
	if len(chunks) == 0 {
		return nil, fmt.Errorf("ingestion: %w: text produced no chunks", rag.ErrEmptyInput)
	}
	p.log.DebugContext(ctx, "ingestion: chunked",
		slog.String("source", sourceID),
		slog.Int("characters", len([]rune(text))),
		slog.Int("chunks", len(chunks)),
	)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ingestion: embedding failed for %s: %w", sourceID, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("ingestion: %w: %d chunks but %d embeddings", rag.ErrEmbeddingContract, len(chunks), len(vectors))
	}

	records := make([]rag.Record, len(chunks))
	for i, c := range chunks {
		records[i] = rag.Record{
			Vector:     vectors[i],
			Content:    c.Text,
			SourceID:   c.SourceID,
			ChunkIndex: c.Index,
			Metadata:   c.Metadata,
		}
	}

	ids, err := p.store.InsertBatch(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("ingestion: insert failed for %s: %w", sourceID, err)
	}

	return &Result{ChunksProcessed: len(records), SourceID: sourceID, IDs: ids}, nil
}
