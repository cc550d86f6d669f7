package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/docrag-go/internal/rag"
)

// StoreBackend names a vector store implementation.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreSQLite StoreBackend = "sqlite"
	StoreQdrant StoreBackend = "qdrant"
)

// Settings is the resolved runtime configuration for everything that is not
// a model or embedding provider. Provider settings are resolved by the
// provider and embedder packages from the same environment.
type Settings struct {
	ChunkSize    int
	ChunkOverlap int

	StoreBackend StoreBackend
	StorePath    string

	DefaultLimit     int
	MaxLimit         int
	MaxContextTokens int

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool

	ServerHost      string
	ServerPort      int
	APIKey          string
	RateLimit       float64
	RateBurst       int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// FromEnv resolves Settings from the environment. Call Load first so the
// YAML and .env layers are applied. Malformed numbers are reported rather
// than silently defaulted.
func FromEnv() (*Settings, error) {
	p := &envParser{}
	s := &Settings{
		ChunkSize:    p.int("CHUNK_SIZE", 0),
		ChunkOverlap: p.int("CHUNK_OVERLAP", -1),

		StoreBackend: StoreBackend(strings.ToLower(envOr("STORE_BACKEND", string(StoreSQLite)))),
		StorePath:    os.Getenv("STORE_PATH"),

		DefaultLimit:     p.int("RETRIEVAL_DEFAULT_LIMIT", 0),
		MaxLimit:         p.int("RETRIEVAL_MAX_LIMIT", 0),
		MaxContextTokens: p.int("RETRIEVAL_MAX_CONTEXT_TOKENS", 0),

		QdrantHost:       envOr("QDRANT_HOST", "localhost"),
		QdrantPort:       p.int("QDRANT_PORT", 6334),
		QdrantCollection: envOr("QDRANT_COLLECTION", "docrag"),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        p.bool("QDRANT_TLS"),

		ServerHost:      envOr("SERVER_HOST", "127.0.0.1"),
		ServerPort:      p.int("SERVER_PORT", 8080),
		APIKey:          os.Getenv("DOCRAG_API_KEY"),
		RateLimit:       p.float("SERVER_RATE_LIMIT", 0),
		RateBurst:       p.int("SERVER_RATE_BURST", 0),
		ReadTimeout:     p.duration("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    p.duration("SERVER_WRITE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: p.duration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints. Zero values mean "use the
// component default" and are always accepted.
func (s *Settings) Validate() error {
	switch s.StoreBackend {
	case StoreMemory, StoreSQLite, StoreQdrant:
	default:
		return fmt.Errorf("config: STORE_BACKEND %q must be memory, sqlite, or qdrant: %w", s.StoreBackend, rag.ErrInvalidConfig)
	}
	if s.ChunkSize < 0 {
		return fmt.Errorf("config: CHUNK_SIZE must be positive: %w", rag.ErrInvalidConfig)
	}
	if s.ChunkSize > 0 && s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("config: CHUNK_OVERLAP (%d) must be less than CHUNK_SIZE (%d): %w",
			s.ChunkOverlap, s.ChunkSize, rag.ErrInvalidConfig)
	}
	if s.DefaultLimit < 0 || s.MaxLimit < 0 || s.MaxContextTokens < 0 {
		return fmt.Errorf("config: retrieval limits must not be negative: %w", rag.ErrInvalidConfig)
	}
	if s.MaxLimit > 0 && s.DefaultLimit > s.MaxLimit {
		return fmt.Errorf("config: RETRIEVAL_DEFAULT_LIMIT (%d) exceeds RETRIEVAL_MAX_LIMIT (%d): %w",
			s.DefaultLimit, s.MaxLimit, rag.ErrInvalidConfig)
	}
	if s.ServerPort <= 0 || s.ServerPort > 65535 {
		return fmt.Errorf("config: SERVER_PORT %d out of range: %w", s.ServerPort, rag.ErrInvalidConfig)
	}
	if s.StoreBackend == StoreQdrant && (s.QdrantPort <= 0 || s.QdrantPort > 65535) {
		return fmt.Errorf("config: QDRANT_PORT %d out of range: %w", s.QdrantPort, rag.ErrInvalidConfig)
	}
	return nil
}

// HasChunkOverlap reports whether CHUNK_OVERLAP was set explicitly.
func (s *Settings) HasChunkOverlap() bool { return s.ChunkOverlap >= 0 }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envParser collects the first parse error across several lookups.
type envParser struct {
	err error
}

func (p *envParser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %v: %w", key, v, err, rag.ErrInvalidConfig)
	}
}

func (p *envParser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return i
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *envParser) bool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return false
	}
	return b
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}
