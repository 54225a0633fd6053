// Package embeddings turns text into vectors.
//
// Three backends are supported: Ollama and OpenAI through langchaingo, and
// FastEmbed for local ONNX models (cgo builds only). Every backend is wrapped
// by Service, which adds rate limiting, dimension checks, error
// classification and metrics.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

// ErrEmptyInput is returned when a query text is empty.
var ErrEmptyInput = errors.New("empty input text")

// Embedder is the minimal contract of an embedding backend.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is "ollama", "openai" or "fastembed".
	Provider string
	Model    string
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
	// BatchSize bounds the texts sent in one provider request.
	BatchSize int
	// RequestsPerSecond throttles provider calls. Zero means unlimited.
	RequestsPerSecond float64

	OllamaBaseURL string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	// CacheDir holds downloaded FastEmbed models.
	CacheDir string
}

// New builds the configured backend and wraps it in a Service.
func New(cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		backend Embedder
		closer  func() error
	)

	switch cfg.Provider {
	case "ollama", "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaBaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, errdefs.Configuration("ollama embeddings: %v", err)
		}
		backend, err = embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize(cfg)))
		if err != nil {
			return nil, errdefs.Configuration("ollama embeddings: %v", err)
		}
		cfg.Provider = "ollama"

	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, errdefs.Configuration("openai embeddings require an API key (embeddings.openai_api_key or OPENAI_API_KEY)")
		}
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, errdefs.Configuration("openai embeddings: %v", err)
		}
		backend, err = embeddings.NewEmbedder(llm, embeddings.WithBatchSize(batchSize(cfg)))
		if err != nil {
			return nil, errdefs.Configuration("openai embeddings: %v", err)
		}

	case "fastembed":
		fe, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Dimension == 0 {
			cfg.Dimension = fe.Dimension()
		}
		backend, closer = fe, fe.Close

	default:
		return nil, errdefs.Configuration("unknown embeddings provider %q (want ollama, openai or fastembed)", cfg.Provider)
	}

	svc := NewService(backend, cfg, logger)
	svc.closer = closer
	return svc, nil
}

func batchSize(cfg Config) int {
	if cfg.BatchSize > 0 {
		return cfg.BatchSize
	}
	return 100
}

// Service decorates an Embedder. It is safe for concurrent use when the
// backend is.
type Service struct {
	backend   Embedder
	provider  string
	model     string
	dimension int
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *zap.Logger
	closer    func() error
}

// NewService wraps backend using the provider, model, dimension and rate
// settings from cfg.
func NewService(backend Embedder, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		backend:   backend,
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		metrics:   NewMetrics(logger),
		logger:    logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := max(1, int(cfg.RequestsPerSecond))
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

// Dimension returns the expected vector length, or 0 if unchecked.
func (s *Service) Dimension() int { return s.dimension }

// Model returns the configured model name.
func (s *Service) Model() string { return s.model }

// EmbedDocuments embeds texts in order. An empty input yields no vectors.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	vectors, err := s.embedDocuments(ctx, texts)
	s.metrics.RecordGeneration(ctx, s.model, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		s.logger.Warn("embedding documents failed",
			zap.String("provider", s.provider),
			zap.Int("texts", len(texts)),
			zap.Error(err),
		)
	}
	return vectors, err
}

func (s *Service) embedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	vectors, err := s.backend.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, errdefs.Provider(s.provider, "embed_documents", err)
	}
	if len(vectors) != len(texts) {
		return nil, errdefs.Provider(s.provider, "embed_documents",
			fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts)))
	}
	for _, v := range vectors {
		if err := s.checkDimension(v); err != nil {
			return nil, err
		}
	}
	return vectors, nil
}

// EmbedQuery embeds a single search query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	vector, err := s.embedQuery(ctx, text)
	s.metrics.RecordGeneration(ctx, s.model, "embed_query", time.Since(start), 1, err)
	return vector, err
}

func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	vector, err := s.backend.EmbedQuery(ctx, text)
	if err != nil {
		return nil, errdefs.Provider(s.provider, "embed_query", err)
	}
	if err := s.checkDimension(vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// Close releases backend resources.
func (s *Service) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	return s.limiter.Wait(ctx)
}

func (s *Service) checkDimension(v []float32) error {
	if s.dimension > 0 && len(v) != s.dimension {
		return errdefs.Configuration("embedding dimension mismatch: %s/%s returned %d, configured %d",
			s.provider, s.model, len(v), s.dimension)
	}
	return nil
}
