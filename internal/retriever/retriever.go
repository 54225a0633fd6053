// Package retriever finds the chunks most relevant to a question.
//
// The question is embedded with the same provider used at ingestion, the
// vector index is queried for the top k records, distances are converted to
// similarities in [0, 1] and records below the configured threshold are
// dropped. The index's rank order is kept as returned.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var tracer = otel.Tracer("ragd.retriever")

// ErrEmptyQuestion is returned when the question is blank.
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Defaults applied by New for zero Config fields.
const (
	DefaultMaxResults = 5
	DefaultCacheSize  = 256
)

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds the retrieval policy.
type Config struct {
	// MaxResults is the default k. Default 5.
	MaxResults int
	// SimilarityThreshold drops results scoring below it. Range [0, 1].
	SimilarityThreshold float64
	// CacheSize bounds the query-embedding cache. Negative disables it,
	// zero selects DefaultCacheSize.
	CacheSize int
}

// Result is a retrieved chunk with its similarity to the question.
type Result struct {
	Chunk      document.Chunk
	Similarity float64
}

// Retriever runs similarity search against a vector index.
type Retriever struct {
	embedder QueryEmbedder
	index    vectorstore.Index
	config   Config
	cache    *lru.Cache[string, []float32]
	logger   *zap.Logger
}

// New creates a Retriever.
func New(embedder QueryEmbedder, index vectorstore.Index, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, errdefs.Configuration("retriever requires an embedder and an index")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.MaxResults < 0 {
		return nil, errdefs.Configuration("retrieval.max_results must be positive, got %d", cfg.MaxResults)
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, errdefs.Configuration("retrieval.similarity_threshold must be in [0, 1], got %g", cfg.SimilarityThreshold)
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	r := &Retriever{embedder: embedder, index: index, config: cfg, logger: logger}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, errdefs.Configuration("query cache: %v", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Config returns the retrieval policy in effect.
func (r *Retriever) Config() Config {
	return r.config
}

// Retrieve returns the chunks passing the threshold, best first.
// A k of zero or less selects Config.MaxResults.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]document.Chunk, error) {
	results, err := r.RetrieveWithScores(ctx, question, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]document.Chunk, len(results))
	for i, res := range results {
		chunks[i] = res.Chunk
	}
	return chunks, nil
}

// RetrieveWithScores is Retrieve with the similarity of each chunk.
// An empty result is not an error.
func (r *Retriever) RetrieveWithScores(ctx context.Context, question string, k int) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Retriever.RetrieveWithScores")
	defer span.End()

	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if k <= 0 {
		k = r.config.MaxResults
	}
	span.SetAttributes(
		attribute.Int("k", k),
		attribute.Float64("threshold", r.config.SimilarityThreshold),
	)

	embedding, err := r.embed(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	matches, err := r.index.Query(ctx, embedding, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying index: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		score := Similarity(m.Distance)
		if score < r.config.SimilarityThreshold {
			continue
		}
		results = append(results, Result{Chunk: m.Chunk, Similarity: score})
	}

	span.SetAttributes(
		attribute.Int("candidates", len(matches)),
		attribute.Int("results_count", len(results)),
	)
	r.logger.Debug("retrieval completed",
		zap.Int("k", k),
		zap.Int("candidates", len(matches)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

func (r *Retriever) embed(ctx context.Context, question string) ([]float32, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(question); ok {
			return v, nil
		}
	}
	v, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(question, v)
	}
	return v, nil
}

// Similarity maps a cosine distance in [0, 2] to a score in [0, 1].
// Smaller distances give larger scores.
func Similarity(distance float64) float64 {
	s := 1 - distance
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// FormatContext renders chunks in rank order, each prefixed with its
// source, separated by blank lines. No chunks give an empty string.
func FormatContext(chunks []document.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		source := c.SourcePath()
		if source == "" {
			source = "unknown"
		}
		fmt.Fprintf(&b, "[Document %d] Source: %s\n%s", i+1, source, strings.TrimSpace(c.Content))
	}
	return b.String()
}
