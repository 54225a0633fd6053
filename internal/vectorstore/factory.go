package vectorstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

// Config selects and configures a backend.
type Config struct {
	// Provider is "chromem" (default), "qdrant" or "pgvector".
	Provider   string
	Collection string
	// Dimension is the embedding size shared by every backend.
	Dimension int

	// chromem
	Path     string
	Compress bool

	// qdrant
	QdrantHost   string
	QdrantPort   int
	QdrantTLS    bool
	QdrantAPIKey string

	// pgvector
	PostgresDSN string
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Index, error) {
	var (
		idx Index
		err error
	)

	switch cfg.Provider {
	case "chromem", "":
		idx, err = NewChromemIndex(ChromemConfig{
			Path:       cfg.Path,
			Collection: cfg.Collection,
			Compress:   cfg.Compress,
			Dimension:  cfg.Dimension,
		}, logger)

	case "qdrant":
		idx, err = NewQdrantIndex(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			UseTLS:     cfg.QdrantTLS,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		}, logger)

	case "pgvector":
		idx, err = NewPgvectorIndex(ctx, PgvectorConfig{
			DSN:        cfg.PostgresDSN,
			Collection: cfg.Collection,
			Dimension:  cfg.Dimension,
		}, logger)

	default:
		return nil, errdefs.Configuration("unsupported vectorstore provider %q (supported: chromem, qdrant, pgvector)", cfg.Provider)
	}

	// Avoid returning a typed nil inside a non-nil interface.
	if err != nil {
		return nil, err
	}
	return idx, nil
}
