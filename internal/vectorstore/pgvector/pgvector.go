// Package pgvector backs the vector store with Postgres + the pgvector
// extension. It trades the flat index's file pair for database durability:
// Save and Load are no-ops, every Add is immediately durable.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/didi/gendry/builder"
	_ "github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"askdoc/internal/filestore"
	"askdoc/internal/model"
	"askdoc/internal/pkg/dbutil"
	apperr "askdoc/internal/pkg/errors"
	"askdoc/internal/vectorstore"
)

type Config struct {
	DSN       string `json:"dsn"`
	Table     string `json:"table"`
	Dimension int    `json:"dimension"`
}

type Store struct {
	db    *sql.DB
	table string
	dim   int
}

func init() {
	vectorstore.Register("pgvector", func(_ filestore.Store, args interface{}) (vectorstore.Store, error) {
		cfg := Config{}
		if err := vectorstore.DecodeConfig(args, &cfg); err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector store dsn is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: pgvector store needs a fixed dimension", apperr.ErrInvalidConfig)
	}
	if cfg.Table == "" {
		cfg.Table = "askdoc_chunks"
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{db: db, table: cfg.Table, dim: cfg.Dimension}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ord bigserial PRIMARY KEY,
			filename text NOT NULL,
			chunk_index int NOT NULL,
			chunk_text text NOT NULL,
			file_path text NOT NULL,
			total_chunks int NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, s.dim),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, vectors [][]float32, metas []model.ChunkMeta) error {
	if len(vectors) != len(metas) {
		return fmt.Errorf("%w: %d vectors, %d metadata records", apperr.ErrCountMismatch, len(vectors), len(metas))
	}
	if len(vectors) == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("%w: expected %d, got %d at position %d", apperr.ErrDimensionMismatch, s.dim, len(v), i)
		}
	}

	rows := make([]map[string]interface{}, 0, len(vectors))
	for i, v := range vectors {
		rows = append(rows, map[string]interface{}{
			"filename":     metas[i].Filename,
			"chunk_index":  metas[i].ChunkIndex,
			"chunk_text":   metas[i].ChunkText,
			"file_path":    metas[i].FilePath,
			"total_chunks": metas[i].TotalChunks,
			"embedding":    pgv.NewVector(normalized(v)),
		})
	}
	sqlStr, args, err := builder.BuildInsert(s.table, rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, query []float32, topK int) ([]model.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", apperr.ErrDimensionMismatch, s.dim, len(query))
	}
	// <-> is pgvector's L2 distance over the already-normalized stored
	// vectors; square it to score identically to the flat index.
	queryStr := fmt.Sprintf(`
		SELECT filename, chunk_index, chunk_text, file_path, total_chunks, embedding <-> $1 AS distance
		FROM %s
		ORDER BY embedding <-> $1 ASC, ord ASC
		LIMIT $2
	`, s.table)
	rows, err := s.db.QueryContext(ctx, queryStr, pgv.NewVector(normalized(query)), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var m model.ChunkMeta
		var dist float64
		if err := rows.Scan(&m.Filename, &m.ChunkIndex, &m.ChunkText, &m.FilePath, &m.TotalChunks, &dist); err != nil {
			return nil, err
		}
		results = append(results, model.SearchResult{Meta: m, Score: 1 / (1 + dist*dist)})
	}
	return results, rows.Err()
}

func (s *Store) Save(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *Store) Load(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table))
	return err
}

func (s *Store) Size(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&count)
	return count, err
}

func (s *Store) Dimension(ctx context.Context) (int, error) {
	_ = ctx
	return s.dim, nil
}

func (s *Store) AllMetadata(ctx context.Context) ([]model.ChunkMeta, error) {
	where := map[string]interface{}{
		"_orderby": "ord asc",
	}
	sqlStr, args, err := builder.BuildSelect(s.table, where,
		[]string{"filename", "chunk_index", "chunk_text", "file_path", "total_chunks"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []model.ChunkMeta
	for rows.Next() {
		var m model.ChunkMeta
		if err := rows.Scan(&m.Filename, &m.ChunkIndex, &m.ChunkText, &m.FilePath, &m.TotalChunks); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func normalized(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
