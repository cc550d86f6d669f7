package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/chunker"
	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/metrics"
	"github.com/54b3r/docrag-go/internal/provider"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/store"
)

// stack is the wired core shared by the ingest, ask and serve commands.
type stack struct {
	settings *config.Settings
	embedder *embedder.Client
	store    rag.VectorStore
	// storePinger is nil for the in-memory store.
	storePinger server.Pinger
}

// Close releases the vector store.
func (s *stack) Close() error { return s.store.Close() }

// buildStack resolves settings, then constructs the embedding client and the
// vector store sized to its dimension.
func buildStack(ctx context.Context, log *slog.Logger, m *metrics.Metrics) (*stack, error) {
	settings, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewClientFromEnv(ctx, log, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", embedder.Backend()),
		slog.Int("dimensions", emb.Dimension()),
	)

	vs, pinger, err := openStore(ctx, log, settings, emb.Dimension())
	if err != nil {
		return nil, err
	}

	return &stack{settings: settings, embedder: emb, store: vs, storePinger: pinger}, nil
}

// openStore opens the vector store selected by STORE_BACKEND.
func openStore(ctx context.Context, log *slog.Logger, s *config.Settings, dim int) (rag.VectorStore, server.Pinger, error) {
	switch s.StoreBackend {
	case config.StoreMemory:
		ms, err := rag.NewMemoryStore(&rag.MemoryConfig{Dimension: dim, MaxLimit: s.MaxLimit})
		if err != nil {
			return nil, nil, err
		}
		log.Warn("store: using in-memory vector store, data is lost on exit")
		return ms, nil, nil

	case config.StoreQdrant:
		qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       s.QdrantHost,
			Port:       s.QdrantPort,
			Collection: s.QdrantCollection,
			VectorSize: uint64(dim), //nolint:gosec // dimensions are bounded
			APIKey:     s.QdrantAPIKey,
			UseTLS:     s.QdrantTLS,
			MaxLimit:   s.MaxLimit,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", s.QdrantHost, s.QdrantPort, err)
		}
		log.Info("store: qdrant ready",
			slog.String("host", s.QdrantHost),
			slog.Int("port", s.QdrantPort),
			slog.String("collection", s.QdrantCollection),
		)
		return qs, qs, nil

	default:
		path := s.StorePath
		if path == "" {
			var err error
			if path, err = store.DefaultDBPath(); err != nil {
				return nil, nil, err
			}
		}
		ss, err := store.Open(ctx, path, &store.Config{Dimension: dim, MaxLimit: s.MaxLimit})
		if err != nil {
			return nil, nil, err
		}
		log.Info("store: sqlite ready", slog.String("path", path))
		return ss, ss, nil
	}
}

// newPipeline builds the ingestion pipeline over st.
func newPipeline(st *stack, log *slog.Logger, m *metrics.Metrics) (*ingestion.Pipeline, error) {
	size, overlap := chunkSizes(st.settings)
	return ingestion.NewPipeline(st.embedder, st.store, &ingestion.Config{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Logger:       log,
		Metrics:      m,
	})
}

// chunkSizes resolves the chunker parameters. A custom size without an
// explicit overlap keeps the default overlap when it fits, else a fifth of
// the size.
func chunkSizes(s *config.Settings) (int, int) {
	if s.ChunkSize == 0 {
		if s.HasChunkOverlap() {
			return chunker.DefaultSize, s.ChunkOverlap
		}
		return 0, 0
	}
	if s.HasChunkOverlap() {
		return s.ChunkSize, s.ChunkOverlap
	}
	if chunker.DefaultOverlap < s.ChunkSize {
		return s.ChunkSize, chunker.DefaultOverlap
	}
	return s.ChunkSize, s.ChunkSize / 5
}

// newAssistant builds the chat model and the answer layer over st.
func newAssistant(ctx context.Context, st *stack, m *metrics.Metrics) (*agent.Assistant, *provider.Config, error) {
	providerCfg := provider.FromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}

	retriever, err := rag.NewRetriever(st.embedder, st.store, st.settings.DefaultLimit, st.settings.MaxLimit)
	if err != nil {
		return nil, nil, err
	}

	a, err := agent.New(&agent.Config{
		Searcher:         retriever,
		Generator:        agent.NewChatGenerator(chatModel),
		MaxContextTokens: st.settings.MaxContextTokens,
		Metrics:          m,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, providerCfg, nil
}

// buildPingers returns the readiness probes for the running configuration:
// the persistent store, and Ollama when either model or embeddings use it.
func buildPingers(st *stack, providerCfg *provider.Config) []server.Pinger {
	var pingers []server.Pinger
	if st.storePinger != nil {
		pingers = append(pingers, st.storePinger)
	}

	if providerCfg.Backend == provider.BackendOllama || embedder.Backend() == "ollama" {
		host := providerCfg.Ollama.Host
		if embedder.Backend() == "ollama" && os.Getenv("EMBEDDING_ENDPOINT") != "" {
			host = os.Getenv("EMBEDDING_ENDPOINT")
		}
		pingers = append(pingers, server.NewHTTPPinger("ollama", strings.TrimRight(host, "/")+"/api/tags", nil))
	}
	return pingers
}

// parseMeta turns repeated key=value flags into metadata. Values are kept
// as strings.
func parseMeta(pairs []string) (rag.Metadata, error) {
	md := rag.Metadata{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: --meta %q must be key=value", rag.ErrInvalidArgument, p)
		}
		md[k] = v
	}
	return md, nil
}
