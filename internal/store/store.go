// Package store implements the vector-store collaborator: a single named
// collection per corpus, holding one DenseVector and one SparseVector per
// upserted Chunk, queryable independently by each and deletable by
// payload filter. Backed by Postgres + pgvector.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/rlmcode/internal/rlmerrors"
	"github.com/seanblong/rlmcode/pkg/models"
)

// Filter selects points by payload. Zero-valued fields are not applied.
type Filter struct {
	PathGlob   string
	Language   string
	SymbolType models.SymbolType
	FileHash   string
}

// Stats reports collection-level counters.
type Stats struct {
	PointsCount int
}

// VectorStore is the contract the core consumes from its vector-store
// collaborator: create a collection, upsert points, query dense and sparse
// independently, delete by filter, and report stats. The Retriever fuses
// dense and sparse result lists itself (RRF); the store never ranks across
// both spaces in one query.
type VectorStore interface {
	CreateCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, chunks []models.Chunk, dense []models.DenseVector, sparse []models.SparseVector) error
	QueryDense(ctx context.Context, collection string, vec models.DenseVector, limit int, filter Filter) ([]models.ScoredChunk, error)
	QuerySparse(ctx context.Context, collection string, vec models.SparseVector, limit int, filter Filter) ([]models.ScoredChunk, error)
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error
	GetChunk(ctx context.Context, collection, id string) (models.Chunk, bool, error)
	Stats(ctx context.Context, collection string) (Stats, error)
}

// Store is the pgvector-backed VectorStore implementation.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at url.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rlmerrors.ErrStoreUnavailable, err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rlmerrors.ErrStoreUnavailable, err)
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity with a short deadline, used by
// get_status to report store_connected.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// CreateCollection creates the chunks table for a named collection with a
// dense vector column of the given dimension plus a jsonb sparse column.
// Every collection in this implementation lives in its own table, named
// after the collection, to keep multiple corpora isolated in one database.
func (s *Store) CreateCollection(ctx context.Context, collection string, dim int) error {
	table := tableName(collection)
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
  id            TEXT PRIMARY KEY,
  path          TEXT NOT NULL,
  language      TEXT,
  symbol_type   TEXT,
  symbol_name   TEXT,
  start_line    INT,
  end_line      INT,
  file_hash     TEXT,
  text          TEXT,
  embedding     vector(%[2]d),
  sparse_terms  JSONB,
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[1]s_path_idx ON %[1]s (path);
CREATE INDEX IF NOT EXISTS %[1]s_hash_idx ON %[1]s (file_hash);
CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx
  ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, table, dim)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("%w: create collection %s: %v", rlmerrors.ErrStoreUnavailable, collection, err)
	}
	return nil
}

// Upsert writes chunks, their dense vectors, and their sparse vectors as
// one batch keyed by chunk id.
func (s *Store) Upsert(ctx context.Context, collection string, chunks []models.Chunk, dense []models.DenseVector, sparse []models.SparseVector) error {
	if len(chunks) != len(dense) || len(chunks) != len(sparse) {
		return fmt.Errorf("store: mismatched batch lengths: chunks=%d dense=%d sparse=%d", len(chunks), len(dense), len(sparse))
	}
	table := tableName(collection)
	batch := &pgx.Batch{}
	q := fmt.Sprintf(`
		INSERT INTO %s (
			id, path, language, symbol_type, symbol_name, start_line, end_line,
			file_hash, text, embedding, sparse_terms, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path, language = EXCLUDED.language,
			symbol_type = EXCLUDED.symbol_type, symbol_name = EXCLUDED.symbol_name,
			start_line = EXCLUDED.start_line, end_line = EXCLUDED.end_line,
			file_hash = EXCLUDED.file_hash, text = EXCLUDED.text,
			embedding = EXCLUDED.embedding, sparse_terms = EXCLUDED.sparse_terms;`, table)

	for i, c := range chunks {
		sparseJSON, err := encodeSparse(sparse[i])
		if err != nil {
			return err
		}
		batch.Queue(q,
			c.ID, c.Metadata.Path, c.Metadata.Language, string(c.Metadata.SymbolType),
			c.Metadata.SymbolName, c.Metadata.StartLine, c.Metadata.EndLine,
			c.Metadata.FileHash, c.Text, pgvector.NewVector(dense[i]), sparseJSON,
		)
	}
	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for range chunks {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("%w: upsert: %v", rlmerrors.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// QueryDense returns the top-limit points ranked by cosine similarity.
func (s *Store) QueryDense(ctx context.Context, collection string, vec models.DenseVector, limit int, filter Filter) ([]models.ScoredChunk, error) {
	table := tableName(collection)
	where, args, _ := buildFilter(filter, 2)
	q := fmt.Sprintf(`
		SELECT id, path, language, symbol_type, symbol_name, start_line, end_line, file_hash, text,
		       1.0 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1::vector
		LIMIT %d`, table, where, limit)
	allArgs := append([]any{pgvector.NewVector(vec)}, args...)
	return s.runScoredQuery(ctx, q, allArgs)
}

// QuerySparse returns the top-limit points ranked by sparse dot product
// against the query's term weights.
func (s *Store) QuerySparse(ctx context.Context, collection string, vec models.SparseVector, limit int, filter Filter) ([]models.ScoredChunk, error) {
	table := tableName(collection)
	termsJSON, err := encodeSparse(vec)
	if err != nil {
		return nil, err
	}
	where, args, _ := buildFilter(filter, 2)
	q := fmt.Sprintf(`
		WITH query_terms AS (
		  SELECT key::text AS term, (value::text)::double precision AS weight
		  FROM jsonb_each($1::jsonb)
		)
		SELECT c.id, c.path, c.language, c.symbol_type, c.symbol_name, c.start_line, c.end_line, c.file_hash, c.text,
		       COALESCE(SUM(qt.weight * (c.sparse_terms->>qt.term)::double precision), 0) AS score
		FROM %s c
		LEFT JOIN query_terms qt ON c.sparse_terms ? qt.term
		WHERE %s
		GROUP BY c.id, c.path, c.language, c.symbol_type, c.symbol_name, c.start_line, c.end_line, c.file_hash, c.text
		ORDER BY score DESC
		LIMIT %d`, table, where, limit)
	allArgs := append([]any{termsJSON}, args...)
	return s.runScoredQuery(ctx, q, allArgs)
}

func (s *Store) runScoredQuery(ctx context.Context, q string, args []any) ([]models.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rlmerrors.ErrRetrieval, err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var c models.Chunk
		var symbolType string
		var score float64
		if err := rows.Scan(&c.ID, &c.Metadata.Path, &c.Metadata.Language, &symbolType,
			&c.Metadata.SymbolName, &c.Metadata.StartLine, &c.Metadata.EndLine,
			&c.Metadata.FileHash, &c.Text, &score); err != nil {
			return nil, fmt.Errorf("%w: %v", rlmerrors.ErrRetrieval, err)
		}
		c.Metadata.SymbolType = models.SymbolType(symbolType)
		out = append(out, models.ScoredChunk{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

// DeleteByFilter removes every point matching filter, used by the indexer
// to clear points under a file's old content hash before upserting its new
// chunks.
func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	table := tableName(collection)
	where, args, _ := buildFilter(filter, 1)
	q := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("%w: delete: %v", rlmerrors.ErrStoreUnavailable, err)
	}
	return nil
}

// GetChunk looks up a single point by id.
func (s *Store) GetChunk(ctx context.Context, collection, id string) (models.Chunk, bool, error) {
	table := tableName(collection)
	q := fmt.Sprintf(`SELECT id, path, language, symbol_type, symbol_name, start_line, end_line, file_hash, text
		FROM %s WHERE id = $1`, table)
	var c models.Chunk
	var symbolType string
	err := s.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Metadata.Path, &c.Metadata.Language,
		&symbolType, &c.Metadata.SymbolName, &c.Metadata.StartLine, &c.Metadata.EndLine,
		&c.Metadata.FileHash, &c.Text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Chunk{}, false, nil
		}
		return models.Chunk{}, false, fmt.Errorf("%w: %v", rlmerrors.ErrStoreUnavailable, err)
	}
	c.Metadata.SymbolType = models.SymbolType(symbolType)
	return c, true, nil
}

// Stats reports the collection's point count.
func (s *Store) Stats(ctx context.Context, collection string) (Stats, error) {
	table := tableName(collection)
	var n int
	q := fmt.Sprintf("SELECT count(*) FROM %s", table)
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return Stats{}, fmt.Errorf("%w: %v", rlmerrors.ErrStoreUnavailable, err)
	}
	return Stats{PointsCount: n}, nil
}

func buildFilter(f Filter, startArg int) (string, []any, int) {
	where := "TRUE"
	var args []any
	next := startArg
	if f.PathGlob != "" {
		where += fmt.Sprintf(" AND path LIKE $%d", next)
		args = append(args, globToSQLLike(f.PathGlob))
		next++
	}
	if f.Language != "" {
		where += fmt.Sprintf(" AND language = $%d", next)
		args = append(args, f.Language)
		next++
	}
	if f.SymbolType != "" {
		where += fmt.Sprintf(" AND symbol_type = $%d", next)
		args = append(args, string(f.SymbolType))
		next++
	}
	if f.FileHash != "" {
		where += fmt.Sprintf(" AND file_hash = $%d", next)
		args = append(args, f.FileHash)
		next++
	}
	return where, args, next
}

// globToSQLLike converts a simple "*" glob into a SQL LIKE pattern.
func globToSQLLike(glob string) string {
	return strings.ReplaceAll(glob, "*", "%")
}

func tableName(collection string) string {
	// Collection names come from trusted configuration, not request input, so direct interpolation into
	// the table identifier is acceptable here; defensively restrict to a
	// safe character set anyway.
	var sb strings.Builder
	for _, r := range collection {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	name := sb.String()
	if name == "" {
		name = "rlm_chunks"
	}
	return name
}

func encodeSparse(v models.SparseVector) ([]byte, error) {
	flat := make(map[string]float64, len(v))
	for term, weight := range v {
		flat[fmt.Sprintf("%d", term)] = weight
	}
	b, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("store: encode sparse vector: %w", err)
	}
	return b, nil
}
