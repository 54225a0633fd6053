package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

var pgvectorTracer = otel.Tracer("ragd.vectorstore.pgvector")

// PgvectorConfig configures the PostgreSQL backend.
type PgvectorConfig struct {
	DSN string
	// Collection names the table. Default "documents".
	Collection string
	// Dimension is the vector column size and is required.
	Dimension int
	Breaker   BreakerConfig
}

// PgvectorIndex is an Index stored in a PostgreSQL table with a pgvector
// column and an HNSW cosine index.
type PgvectorIndex struct {
	pool    *pgxpool.Pool
	config  PgvectorConfig
	table   string
	breaker *breaker
	logger  *zap.Logger
}

// NewPgvectorIndex connects and creates the extension, table and index if missing.
func NewPgvectorIndex(ctx context.Context, cfg PgvectorConfig, logger *zap.Logger) (*PgvectorIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, errdefs.Configuration("vectorstore.postgres_dsn is required for the pgvector provider")
	}
	if cfg.Dimension <= 0 {
		return nil, errdefs.Configuration("pgvector requires a positive embeddings.dimension")
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, errdefs.Configuration("invalid postgres dsn: %v", err)
	}

	idx := &PgvectorIndex{
		pool:    pool,
		config:  cfg,
		table:   pgx.Identifier{"ragd_" + cfg.Collection}.Sanitize(),
		breaker: newBreaker("pgvector", cfg.Breaker, logger),
		logger:  logger,
	}

	err = exec(idx.breaker, "migrate", func() error {
		if err := pool.Ping(ctx); err != nil {
			return err
		}
		return idx.migrate(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("pgvector index connected",
		zap.String("table", idx.table),
		zap.Int("dimension", cfg.Dimension),
	)
	return idx, nil
}

func (s *PgvectorIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, s.table, s.config.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{"ragd_" + s.config.Collection + "_embedding_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	// An existing table created for another model keeps its old size.
	var size int
	err := s.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`, s.table).Scan(&size)
	if err == nil && size > 0 && size != s.config.Dimension {
		return fmt.Errorf("%w: table %s has size %d, configured %d", ErrDimensionMismatch, s.table, size, s.config.Dimension)
	}
	return nil
}

// Upsert inserts or replaces rows in one batch.
func (s *PgvectorIndex) Upsert(ctx context.Context, chunks []document.Chunk, embeddings [][]float32) error {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 && len(embeddings) == 0 {
		return nil
	}
	if err := validateUpsert(chunks, embeddings, s.config.Dimension); err != nil {
		span.RecordError(err)
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.table)

	batch := &pgx.Batch{}
	for i, c := range chunks {
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		batch.Queue(query, c.ID, c.Content, metadata, pgvector.NewVector(embeddings[i]))
	}

	err := exec(s.breaker, "upsert", func() error {
		return s.pool.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Query orders rows by cosine distance (the <=> operator).
func (s *PgvectorIndex) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, errdefs.Configuration("k must be positive, got %d", k)
	}
	if err := checkDimension(embedding, s.config.Dimension); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id::text, content, metadata, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.table)

	matches, err := run(s.breaker, "query", func() ([]Match, error) {
		rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), k)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
			var m Match
			err := row.Scan(&m.Chunk.ID, &m.Chunk.Content, &m.Chunk.Metadata, &m.Distance)
			return m, err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// Count returns the number of rows.
func (s *PgvectorIndex) Count(ctx context.Context) (int, error) {
	return run(s.breaker, "count", func() (int, error) {
		var n int
		err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n)
		return n, err
	})
}

// DeleteSource deletes the rows of one source file.
func (s *PgvectorIndex) DeleteSource(ctx context.Context, sourcePath string) error {
	ctx, span := pgvectorTracer.Start(ctx, "PgvectorIndex.DeleteSource")
	defer span.End()
	span.SetAttributes(attribute.String("source_path", sourcePath))

	if sourcePath == "" {
		return errdefs.Configuration("source path is required")
	}
	err := exec(s.breaker, "delete_source", func() error {
		_, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE metadata->>'source_path' = $1`, s.table), sourcePath)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Reset deletes every row.
func (s *PgvectorIndex) Reset(ctx context.Context) error {
	err := exec(s.breaker, "reset", func() error {
		_, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table))
		return err
	})
	if err == nil {
		s.logger.Info("pgvector table reset", zap.String("table", s.table))
	}
	return err
}

// Close releases the connection pool.
func (s *PgvectorIndex) Close() error {
	s.pool.Close()
	return nil
}

var _ Index = (*PgvectorIndex)(nil)
