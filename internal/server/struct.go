package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full embed → search → generate round trip.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxQueryLimit is the largest accepted "limit" on POST /api/query.
	// Defaults to rag.DefaultMaxLimit.
	MaxQueryLimit int
	// MaxUploadBytes caps the request body of every data-plane route.
	// Defaults to 20 MiB.
	MaxUploadBytes int64
	// Extractor converts uploaded files to text. Defaults to
	// ingestion.PlainTextExtractor.
	Extractor ingestion.Extractor
	// MetricsRegistry receives the server's HTTP metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Ingester is the write side of the API. *ingestion.Pipeline satisfies it;
// tests inject a fake.
type Ingester interface {
	// Ingest chunks, embeds, and stores text under sourceID.
	Ingest(ctx context.Context, text, sourceID string, md rag.Metadata) (*ingestion.Result, error)
	// IngestDocument extracts text from an uploaded file and ingests it.
	IngestDocument(ctx context.Context, ex ingestion.Extractor, doc ingestion.Document) (*ingestion.Result, error)
}

// Answerer is the read side of the API. *agent.Assistant satisfies it.
type Answerer interface {
	// Retrieve answers query from at most limit stored chunks.
	Retrieve(ctx context.Context, query string, limit int) (*agent.Response, error)
}

// Server is the HTTP server that exposes ingestion and question answering.
type Server struct {
	// ingester handles POST /api/ingest and /api/ingest/file.
	ingester Ingester
	// answerer handles POST /api/query.
	answerer Answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wrapped root handler.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the HTTP-level Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Text is the raw document content.
	Text string `json:"text"`
	// Source identifies the document. Defaults to "text-input".
	Source string `json:"source,omitempty"`
	// Metadata is stored verbatim with every chunk.
	Metadata rag.Metadata `json:"metadata,omitempty"`
}

// ingestResponse is the JSON response for both ingest endpoints.
type ingestResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	ChunksProcessed int    `json:"chunksProcessed"`
	Source          string `json:"source"`
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the natural-language question.
	Query string `json:"query"`
	// Limit is the number of chunks to ground the answer on. A nil pointer
	// selects the retriever default; an explicit value must be in
	// [1, MaxQueryLimit].
	Limit *int `json:"limit,omitempty"`
}

// errorResponse is the JSON body for every non-2xx API response.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	// Kind is the error taxonomy name from rag.Kind.
	Kind string `json:"kind,omitempty"`
}
