// Package store provides a durable, SQLite-backed rag.VectorStore. Records
// survive restarts; each InsertBatch runs in a single transaction, so a batch
// is either entirely visible or not at all. Nearest ranks by exact
// brute-force cosine similarity over every stored vector.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docrag-go/internal/rag"
)

// Config holds the settings for a SQLiteStore.
type Config struct {
	// Dimension is the fixed vector length. It is pinned in the database on
	// first open; reopening with a different value fails.
	Dimension int

	// MaxLimit caps Nearest's limit. Defaults to rag.DefaultMaxLimit if zero.
	MaxLimit int
}

// SQLiteStore is a rag.VectorStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB

	dim      int
	maxLimit int

	// beforeCommit runs inside InsertBatch after every row is written and
	// before the commit; a non-nil error aborts the batch. Tests only.
	beforeCommit func() error
}

// DefaultDBPath returns the default path for the vector database.
// It resolves to ~/.docrag/vectors.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docrag")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "vectors.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path, runs the schema
// migration, and pins the vector dimension. Use ":memory:" for an in-memory
// database in tests.
func Open(ctx context.Context, path string, cfg *Config) (*SQLiteStore, error) {
	if cfg == nil || cfg.Dimension <= 0 {
		return nil, fmt.Errorf("store: %w: dimension must be positive", rag.ErrInvalidConfig)
	}
	maxLimit := cfg.MaxLimit
	if maxLimit <= 0 {
		maxLimit = rag.DefaultMaxLimit
	}

	dsn := path
	if !IsMemoryPath(path) {
		// WAL mode improves concurrent read performance and is safe for single-host use.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps an in-memory
	// database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dim: cfg.Dimension, maxLimit: maxLimit}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.pinDimension(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    vector       BLOB    NOT NULL,  -- little-endian float32
    content      TEXT    NOT NULL,
    source_id    TEXT    NOT NULL,
    chunk_index  INTEGER NOT NULL CHECK(chunk_index >= 0),
    metadata     TEXT    NOT NULL,  -- JSON object
    created_at   INTEGER NOT NULL   -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_records_source ON records (source_id);
CREATE TABLE IF NOT EXISTS store_meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// pinDimension records the dimension on first open and verifies it after.
func (s *SQLiteStore) pinDimension(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, `INSERT INTO store_meta (key, value) VALUES ('dimension', ?)`, strconv.Itoa(s.dim)); err != nil {
			return fmt.Errorf("store: pin dimension: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("store: read dimension: %w", err)
	}

	got, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("store: corrupt dimension %q: %w", stored, err)
	}
	if got != s.dim {
		return fmt.Errorf("store: %w: database was created with another dimension: %w",
			rag.ErrInvalidConfig, &rag.DimensionError{Expected: got, Actual: s.dim})
	}
	return nil
}

// InsertBatch writes every record in one transaction and returns the ids
// assigned by SQLite, in input order.
func (s *SQLiteStore) InsertBatch(ctx context.Context, records []rag.Record) ([]uint64, error) {
	if err := rag.ValidateRecords(records, s.dim); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: %w: begin: %w", rag.ErrStorage, err)
	}
	ids, err := s.insertTx(ctx, tx, records)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: %w: commit: %w", rag.ErrStorage, err)
	}
	return ids, nil
}

func (s *SQLiteStore) insertTx(ctx context.Context, tx *sql.Tx, records []rag.Record) ([]uint64, error) {
	const q = `INSERT INTO records (vector, content, source_id, chunk_index, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: %w: prepare: %w", rag.ErrStorage, err)
	}
	defer stmt.Close()

	created := time.Now().UnixMilli()
	ids := make([]uint64, len(records))
	for i, r := range records {
		md, err := json.Marshal(r.Metadata.Clone())
		if err != nil {
			return nil, fmt.Errorf("store: %w: encode metadata of record %d: %w", rag.ErrStorage, i, err)
		}
		res, err := stmt.ExecContext(ctx, encodeVector(r.Vector), r.Content, r.SourceID, r.ChunkIndex, string(md), created)
		if err != nil {
			return nil, fmt.Errorf("store: %w: insert record %d: %w", rag.ErrStorage, i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("store: %w: record %d id: %w", rag.ErrStorage, i, err)
		}
		ids[i] = uint64(id) //nolint:gosec // AUTOINCREMENT ids are positive
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return nil, fmt.Errorf("store: %w: %w", rag.ErrStorage, err)
		}
	}
	return ids, nil
}

// Nearest scans every stored vector and returns the limit most similar.
func (s *SQLiteStore) Nearest(ctx context.Context, query []float32, limit int) ([]rag.QueryResult, error) {
	if err := rag.CheckQuery(query, limit, s.dim, s.maxLimit); err != nil {
		return nil, err
	}

	const q = `SELECT id, vector, content, source_id, chunk_index, metadata, created_at FROM records`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: %w: nearest: %w", rag.ErrStorage, err)
	}
	defer rows.Close()

	top := rag.NewTopK(limit)
	for rows.Next() {
		var (
			r       rag.Record
			id      int64
			blob    []byte
			md      string
			created int64
		)
		if err := rows.Scan(&id, &blob, &r.Content, &r.SourceID, &r.ChunkIndex, &md, &created); err != nil {
			return nil, fmt.Errorf("store: %w: nearest scan: %w", rag.ErrStorage, err)
		}
		r.ID = uint64(id) //nolint:gosec // AUTOINCREMENT ids are positive
		if r.Vector, err = decodeVector(blob, s.dim); err != nil {
			return nil, fmt.Errorf("store: %w: record %d: %w", rag.ErrStorage, id, err)
		}
		if err := json.Unmarshal([]byte(md), &r.Metadata); err != nil {
			return nil, fmt.Errorf("store: %w: record %d metadata: %w", rag.ErrStorage, id, err)
		}
		if r.Metadata == nil {
			r.Metadata = rag.Metadata{}
		}
		r.CreatedAt = time.UnixMilli(created).UTC()
		top.Push(rag.QueryResult{Record: r, Similarity: rag.CosineSimilarity(query, r.Vector)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %w: nearest rows: %w", rag.ErrStorage, err)
	}
	return top.Results(), nil
}

// Count returns the number of committed records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: %w: count: %w", rag.ErrStorage, err)
	}
	return n, nil
}

// Dimension returns the pinned vector length.
func (s *SQLiteStore) Dimension() int { return s.dim }

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Ping verifies the database connection is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeVector serialises v as little-endian float32.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector is the inverse of encodeVector and checks the length.
func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, &rag.DimensionError{Expected: dim, Actual: len(b) / 4}
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// IsMemoryPath reports whether path selects an in-memory database.
func IsMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}
