package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/loader"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Registry provides access to the ragd components built from one
// configuration. Close releases them in reverse order of creation.
type Registry interface {
	Config() *config.Config
	Pipeline() *pipeline.Pipeline
	Index() vectorstore.Index
	Embeddings() *embeddings.Service
	Generator() *generator.Generator
	Logger() *zap.Logger
	Close() error
}

// Options configures a registry with prebuilt components.
type Options struct {
	Config     *config.Config
	Pipeline   *pipeline.Pipeline
	Index      vectorstore.Index
	Embeddings *embeddings.Service
	Generator  *generator.Generator
	Logger     *zap.Logger
}

type registry struct {
	config     *config.Config
	pipeline   *pipeline.Pipeline
	index      vectorstore.Index
	embeddings *embeddings.Service
	generator  *generator.Generator
	logger     *zap.Logger
}

// NewRegistry wraps prebuilt components.
func NewRegistry(opts Options) Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &registry{
		config:     opts.Config,
		pipeline:   opts.Pipeline,
		index:      opts.Index,
		embeddings: opts.Embeddings,
		generator:  opts.Generator,
		logger:     opts.Logger,
	}
}

func (r *registry) Config() *config.Config          { return r.config }
func (r *registry) Pipeline() *pipeline.Pipeline    { return r.pipeline }
func (r *registry) Index() vectorstore.Index        { return r.index }
func (r *registry) Embeddings() *embeddings.Service { return r.embeddings }
func (r *registry) Generator() *generator.Generator { return r.generator }
func (r *registry) Logger() *zap.Logger             { return r.logger }

func (r *registry) Close() error {
	var errs []error
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing vector store: %w", err))
		}
	}
	if r.embeddings != nil {
		if err := r.embeddings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embeddings: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Build constructs every component from cfg. Configuration errors surface
// before any backend is contacted where possible. On failure, components
// already opened are closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	splitter, err := chunker.New(chunker.Config{
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	model, err := generator.NewModel(ModelConfig(cfg))
	if err != nil {
		return nil, err
	}

	var redactor pipeline.Redactor
	if cfg.Documents.RedactSecrets {
		r, err := secrets.New()
		if err != nil {
			return nil, err
		}
		redactor = r
	}

	emb, err := embeddings.New(EmbeddingsConfig(cfg), logger.Named("embeddings"))
	if err != nil {
		return nil, err
	}

	reg := &registry{config: cfg, embeddings: emb, logger: logger}
	fail := func(err error) (Registry, error) {
		if cerr := reg.Close(); cerr != nil {
			logger.Warn("closing partially built registry", zap.Error(cerr))
		}
		return nil, err
	}

	dim := cfg.Embeddings.Dimension
	if dim == 0 {
		dim = emb.Dimension()
	}
	index, err := vectorstore.New(ctx, VectorStoreConfig(cfg, dim), logger.Named("vectorstore"))
	if err != nil {
		return fail(err)
	}
	reg.index = index

	ret, err := retriever.New(emb, index, retriever.Config{
		MaxResults:          cfg.Retrieval.MaxResults,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		CacheSize:           cacheSize(cfg.Retrieval.QueryCacheSize),
	}, logger.Named("retriever"))
	if err != nil {
		return fail(err)
	}

	gen, err := generator.New(model, generator.Config{
		Provider:         cfg.LLM.Provider,
		Model:            ModelConfig(cfg).Name(),
		Temperature:      cfg.Generation.Temperature,
		MaxTokens:        cfg.Generation.MaxTokens,
		MaxContextTokens: cfg.Generation.MaxContextTokens,
	}, logger.Named("generator"))
	if err != nil {
		return fail(err)
	}
	reg.generator = gen

	p, err := pipeline.New(pipeline.Options{
		Loader:        loader.New(logger.Named("loader")),
		Splitter:      splitter,
		Embedder:      emb,
		Index:         index,
		Retriever:     ret,
		Generator:     gen,
		Redactor:      redactor,
		DocumentsPath: cfg.Documents.Path,
		BatchSize:     cfg.Embeddings.BatchSize,
		Logger:        logger.Named("pipeline"),
	})
	if err != nil {
		return fail(err)
	}
	reg.pipeline = p

	logger.Info("components initialized",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", gen.Config().Model),
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.String("embeddings_model", emb.Model()),
		zap.Int("dimension", dim),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("collection", cfg.VectorStore.Collection),
		zap.Bool("redact_secrets", redactor != nil),
	)
	return reg, nil
}

// Zero in the settings disables the query cache; the retriever uses a
// negative size for that.
func cacheSize(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// ModelConfig maps the llm section of the settings.
func ModelConfig(cfg *config.Config) generator.ModelConfig {
	return generator.ModelConfig{
		Provider:       cfg.LLM.Provider,
		OpenAIModel:    cfg.LLM.OpenAIModel,
		OpenAIAPIKey:   cfg.LLM.OpenAIAPIKey.Value(),
		OpenAIBaseURL:  cfg.LLM.OpenAIBaseURL,
		OllamaBaseURL:  cfg.LLM.OllamaBaseURL,
		OllamaModel:    cfg.LLM.OllamaModel,
		RequestTimeout: cfg.LLM.RequestTimeout.Duration(),
	}
}

// EmbeddingsConfig maps the embeddings section of the settings.
func EmbeddingsConfig(cfg *config.Config) embeddings.Config {
	return embeddings.Config{
		Provider:          cfg.Embeddings.Provider,
		Model:             cfg.Embeddings.Model,
		Dimension:         cfg.Embeddings.Dimension,
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		OllamaBaseURL:     cfg.Embeddings.OllamaBaseURL,
		OpenAIAPIKey:      cfg.Embeddings.OpenAIAPIKey.Value(),
		OpenAIBaseURL:     cfg.Embeddings.OpenAIBaseURL,
		CacheDir:          cfg.Embeddings.CacheDir,
	}
}

// VectorStoreConfig maps the vectorstore section of the settings.
func VectorStoreConfig(cfg *config.Config, dimension int) vectorstore.Config {
	return vectorstore.Config{
		Provider:     cfg.VectorStore.Provider,
		Collection:   cfg.VectorStore.Collection,
		Dimension:    dimension,
		Path:         cfg.VectorStore.Path,
		Compress:     cfg.VectorStore.Compress,
		QdrantHost:   cfg.VectorStore.QdrantHost,
		QdrantPort:   cfg.VectorStore.QdrantPort,
		QdrantTLS:    cfg.VectorStore.QdrantTLS,
		QdrantAPIKey: cfg.VectorStore.QdrantAPIKey.Value(),
		PostgresDSN:  cfg.VectorStore.PostgresDSN.Value(),
	}
}
