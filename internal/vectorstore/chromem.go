package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

var chromemTracer = otel.Tracer("ragd.vectorstore.chromem")

// errNoEmbeddingFunc guards against chromem embedding text on its own; every
// record arrives with a precomputed vector.
var errNoEmbeddingFunc = errors.New("chromem: documents must carry precomputed embeddings")

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory. A leading ~ is expanded.
	Path string
	// Collection is the collection name. Default "documents".
	Collection string
	// Compress gzips persisted files.
	Compress bool
	// Dimension is the expected vector length. Zero disables the check.
	Dimension int
}

// ChromemIndex is an Index backed by a persistent chromem-go database.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// mu guards collection against Reset swapping it out.
	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) the database under cfg.Path.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errdefs.Configuration("chromem path is required")
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, errdefs.StoreUnavailable("chromem open", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errdefs.StoreUnavailable("chromem open", fmt.Errorf("creating %s: %w", path, err))
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, errdefs.StoreUnavailable("chromem open", err)
	}

	idx := &ChromemIndex{db: db, config: cfg, logger: logger}
	if _, err := idx.getCollection(); err != nil {
		return nil, err
	}

	logger.Info("chromem index opened",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Bool("compress", cfg.Compress),
	)
	return idx, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemIndex) getCollection() (*chromem.Collection, error) {
	s.mu.RLock()
	c := s.collection
	s.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collection != nil {
		return s.collection, nil
	}

	c, err := s.db.GetOrCreateCollection(s.config.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, errdefs.StoreUnavailable("chromem collection", err)
	}
	s.collection = c
	return c, nil
}

func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Upsert stores chunks with their embeddings.
func (s *ChromemIndex) Upsert(ctx context.Context, chunks []document.Chunk, embeddings [][]float32) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() {
		observe("chromem", "upsert", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if len(chunks) == 0 && len(embeddings) == 0 {
		return nil
	}
	if err := validateUpsert(chunks, embeddings, s.config.Dimension); err != nil {
		return err
	}

	collection, err := s.getCollection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  toStringMetadata(c.Metadata),
			Embedding: embeddings[i],
		}
	}

	// Concurrency 1: embeddings are precomputed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return errdefs.StoreUnavailable("chromem upsert", err)
	}

	s.logger.Debug("upserted chunks", zap.Int("count", len(chunks)))
	return nil
}

// Query returns the k nearest chunks.
func (s *ChromemIndex) Query(ctx context.Context, embedding []float32, k int) (matches []Match, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	start := time.Now()
	defer func() {
		observe("chromem", "query", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if k <= 0 {
		return nil, errdefs.Configuration("k must be positive, got %d", k)
	}
	if err := checkDimension(embedding, s.config.Dimension); err != nil {
		return nil, err
	}

	collection, err := s.getCollection()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	k = min(k, count)

	results, err := collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		if strings.Contains(err.Error(), "same length") || strings.Contains(err.Error(), "dimension") {
			return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
		}
		return nil, errdefs.StoreUnavailable("chromem query", err)
	}

	matches = make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Chunk: document.Chunk{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: fromStringMetadata(r.Metadata),
			},
			Distance: 1 - float64(r.Similarity),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// Count returns the number of stored chunks.
func (s *ChromemIndex) Count(_ context.Context) (int, error) {
	collection, err := s.getCollection()
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// DeleteSource deletes the chunks of one source file.
func (s *ChromemIndex) DeleteSource(ctx context.Context, sourcePath string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteSource")
	defer span.End()
	span.SetAttributes(attribute.String("source_path", sourcePath))

	start := time.Now()
	defer func() {
		observe("chromem", "delete_source", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if sourcePath == "" {
		return errdefs.Configuration("source path is required")
	}
	collection, err := s.getCollection()
	if err != nil {
		return err
	}
	if collection.Count() == 0 {
		return nil
	}
	if err := collection.Delete(ctx, map[string]string{document.MetaSourcePath: sourcePath}, nil); err != nil {
		return errdefs.StoreUnavailable("chromem delete", err)
	}
	return nil
}

// Reset deletes the collection from memory and disk.
func (s *ChromemIndex) Reset(ctx context.Context) (err error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.Reset")
	defer span.End()

	start := time.Now()
	defer func() { observe("chromem", "reset", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.config.Collection); err != nil {
		span.RecordError(err)
		return errdefs.StoreUnavailable("chromem reset", err)
	}
	s.collection = nil

	s.logger.Info("chromem collection reset", zap.String("collection", s.config.Collection))
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemIndex) Close() error {
	return nil
}

// Metadata keys whose values are integers. chromem stores strings only.
var intMetadataKeys = map[string]bool{
	document.MetaChunkIndex: true,
	document.MetaChunkSize:  true,
	document.MetaPageCount:  true,
}

func toStringMetadata(metadata map[string]any) map[string]string {
	if metadata == nil {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

func fromStringMetadata(metadata map[string]string) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if intMetadataKeys[k] {
			if n, err := strconv.Atoi(v); err == nil {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	return out
}

var _ Index = (*ChromemIndex)(nil)
