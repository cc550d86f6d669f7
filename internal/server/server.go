// Package server implements the HTTP API that exposes document ingestion and
// grounded question answering. The server is started by the `docrag serve`
// CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// defaultMaxUploadBytes caps multipart uploads when Config.MaxUploadBytes is zero.
const defaultMaxUploadBytes = 20 << 20

// Response messages for the ingest endpoints.
const (
	msgTextIngested = "Text successfully ingested and processed"
	msgFileIngested = "File successfully ingested and processed"
)

// New constructs a Server from the provided ingester, answerer and config.
func New(ing Ingester, ans Answerer, cfg *Config) (*Server, error) {
	if ing == nil || ans == nil {
		return nil, fmt.Errorf("server: ingester and answerer must not be nil: %w", rag.ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxQueryLimit == 0 {
		cfg.MaxQueryLimit = rag.DefaultMaxLimit
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Extractor == nil {
		cfg.Extractor = ingestion.PlainTextExtractor{}
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		ingester: ing,
		answerer: ans,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	// protect applies auth then rate limiting to the data-plane routes.
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /api/ingest", "ingest", protect(s.handleIngest))
	s.route(mux, "POST /api/ingest/file", "ingest_file", protect(s.handleIngestFile))
	s.route(mux, "POST /api/query", "query", protect(s.handleQuery))
	s.route(mux, "GET /api/health", "health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /api/ready", "ready", http.HandlerFunc(s.handleReady))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.handler = requestLogger(log, mux)
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleIngest handles POST /api/ingest with a JSON text body.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	res, err := s.ingester.Ingest(r.Context(), req.Text, req.Source, req.Metadata)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogIngest(r.Context(), logging.FromContext(r.Context()), "api:text", res.SourceID, res.ChunksProcessed)
	writeJSON(w, r, http.StatusCreated, ingestResponse{
		Success:         true,
		Message:         msgTextIngested,
		ChunksProcessed: res.ChunksProcessed,
		Source:          res.SourceID,
	})
}

// decodeJSON reads a size-capped JSON body into v. On failure it writes the
// error response and returns false.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if !writeTooLarge(w, r, err) {
			writeError(w, r, fmt.Errorf("%w: invalid request body: %v", errBadRequest, err))
		}
		return false
	}
	return true
}

// writeTooLarge answers 413 when err comes from an exhausted MaxBytesReader.
func writeTooLarge(w http.ResponseWriter, r *http.Request, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	writeJSON(w, r, http.StatusRequestEntityTooLarge, errorResponse{
		Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		Kind:  "InvalidArgument",
	})
	return true
}

// handleIngestFile handles POST /api/ingest/file. The multipart form carries
// the document under "file" plus optional "source" and "metadata" (a JSON
// object) fields.
func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, hdr, err := r.FormFile("file")
	if err != nil {
		if writeTooLarge(w, r, err) {
			return
		}
		writeError(w, r, fmt.Errorf("%w: multipart field \"file\" is required: %v", errBadRequest, err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: read upload: %v", errBadRequest, err))
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))

	var md rag.Metadata
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			writeError(w, r, fmt.Errorf("%w: metadata must be a JSON object: %v", errBadRequest, err))
			return
		}
	}

	res, err := s.ingester.IngestDocument(r.Context(), s.cfg.Extractor, ingestion.Document{
		Filename: hdr.Filename,
		MimeType: hdr.Header.Get("Content-Type"),
		Data:     data,
		SourceID: r.FormValue("source"),
		Metadata: md,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogIngest(r.Context(), logging.FromContext(r.Context()), "api:file", res.SourceID, res.ChunksProcessed)
	writeJSON(w, r, http.StatusCreated, ingestResponse{
		Success:         true,
		Message:         msgFileIngested,
		ChunksProcessed: res.ChunksProcessed,
		Source:          res.SourceID,
	})
}

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, fmt.Errorf("%w: query is required", errBadRequest))
		return
	}

	limit := 0
	if req.Limit != nil {
		limit = *req.Limit
		if limit < 1 || limit > s.cfg.MaxQueryLimit {
			writeError(w, r, fmt.Errorf("%w: limit must be between 1 and %d", rag.ErrInvalidArgument, s.cfg.MaxQueryLimit))
			return
		}
	}

	resp, err := s.answerer.Retrieve(r.Context(), req.Query, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
