// Package pipeline orchestrates ingestion and question answering.
//
// Ingest loads documents, redacts secrets, splits them into chunks, embeds
// the chunks in batches and upserts them into the vector index. Query
// retrieves the relevant chunks and asks the generator for an answer.
//
// Queries are read-only and may run concurrently. Ingest and reset calls are
// serialized by the Pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/loader"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

var tracer = otel.Tracer("ragd.pipeline")

// DefaultBatchSize is the number of chunks embedded per provider call.
const DefaultBatchSize = 100

// DocumentEmbedder embeds chunk texts.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Redactor removes secrets from document text.
type Redactor interface {
	Redact(content string) secrets.Result
}

// Options wires the pipeline components.
type Options struct {
	Loader    *loader.Loader
	Splitter  *chunker.Splitter
	Embedder  DocumentEmbedder
	Index     vectorstore.Index
	Retriever *retriever.Retriever
	Generator *generator.Generator
	// Redactor is optional. Nil disables redaction.
	Redactor Redactor

	// DocumentsPath is the directory ingested when no file is given.
	DocumentsPath string
	// BatchSize bounds chunks per embedding call. Default 100.
	BatchSize int
	Logger    *zap.Logger
}

// Pipeline is the RAG orchestrator.
type Pipeline struct {
	loader    *loader.Loader
	splitter  *chunker.Splitter
	embedder  DocumentEmbedder
	index     vectorstore.Index
	retriever *retriever.Retriever
	generator *generator.Generator
	redactor  Redactor

	documentsPath string
	batchSize     int
	logger        *zap.Logger

	// ingestMu serializes Ingest and ResetVectorStore.
	ingestMu sync.Mutex
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Loader == nil || opts.Splitter == nil || opts.Embedder == nil ||
		opts.Index == nil || opts.Retriever == nil || opts.Generator == nil {
		return nil, errdefs.Configuration("pipeline requires a loader, splitter, embedder, index, retriever and generator")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		loader:        opts.Loader,
		splitter:      opts.Splitter,
		embedder:      opts.Embedder,
		index:         opts.Index,
		retriever:     opts.Retriever,
		generator:     opts.Generator,
		redactor:      opts.Redactor,
		documentsPath: opts.DocumentsPath,
		batchSize:     opts.BatchSize,
		logger:        opts.Logger,
	}, nil
}

// DocumentsPath returns the default ingest directory.
func (p *Pipeline) DocumentsPath() string {
	return p.documentsPath
}

// Loader returns the document loader.
func (p *Pipeline) Loader() *loader.Loader {
	return p.loader
}

// IngestRequest selects what to ingest.
type IngestRequest struct {
	// FilePath ingests a single file. Empty ingests DocumentsPath.
	FilePath string
	// Reset clears the index first.
	Reset bool
}

// FileFailure is a file that could not be loaded.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// IngestReport summarizes an ingest run.
type IngestReport struct {
	FilesProcessed  int           `json:"files_processed"`
	FilesFailed     int           `json:"files_failed"`
	Chunks          int           `json:"chunks_ingested"`
	SecretsRedacted int           `json:"secrets_redacted"`
	Reset           bool          `json:"reset"`
	Failures        []FileFailure `json:"failures,omitempty"`
	Duration        time.Duration `json:"duration_ns"`
}

// Ingest loads, splits, embeds and stores documents. Per-file loader failures
// in directory mode are recorded in the report and do not abort the batch.
// A single-file ingest that cannot load its file returns the LoaderError.
// Each ingested file replaces every chunk previously stored for it.
// Provider and store failures abort the run; chunks already stored remain.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (IngestReport, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("file_path", req.FilePath),
		attribute.Bool("reset", req.Reset),
	)

	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	start := time.Now()
	report := IngestReport{Reset: req.Reset}

	if req.Reset {
		if err := p.reset(ctx); err != nil {
			span.RecordError(err)
			return report, err
		}
	}

	docs, failures, err := p.load(ctx, req.FilePath)
	for _, f := range failures {
		report.Failures = append(report.Failures, FileFailure{Path: f.Path, Error: f.Err.Error()})
	}
	report.FilesFailed = len(failures)
	report.FilesProcessed = len(docs)
	IngestedFiles.WithLabelValues("ok").Add(float64(len(docs)))
	IngestedFiles.WithLabelValues("failed").Add(float64(len(failures)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	var chunks []document.Chunk
	for _, doc := range docs {
		doc, redacted := p.redact(doc)
		report.SecretsRedacted += redacted
		split := p.splitter.Split(doc)
		if len(split) == 0 {
			// An emptied file keeps nothing from its previous version.
			if err := p.clearSource(ctx, doc.SourcePath()); err != nil {
				span.RecordError(err)
				return report, err
			}
			continue
		}
		chunks = append(chunks, split...)
	}

	stored, err := p.store(ctx, chunks)
	report.Chunks = stored
	report.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	span.SetAttributes(
		attribute.Int("files", report.FilesProcessed),
		attribute.Int("failed", report.FilesFailed),
		attribute.Int("chunks", report.Chunks),
	)
	p.logger.Info("ingest completed",
		zap.Int("files", report.FilesProcessed),
		zap.Int("failed", report.FilesFailed),
		zap.Int("chunks", report.Chunks),
		zap.Int("secrets_redacted", report.SecretsRedacted),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// load returns the documents to ingest and the per-file failures.
func (p *Pipeline) load(ctx context.Context, filePath string) ([]document.Document, []*errdefs.LoaderError, error) {
	if filePath != "" {
		doc, err := p.loader.Load(ctx, filePath)
		if err != nil {
			var le *errdefs.LoaderError
			if !errors.As(err, &le) {
				le = &errdefs.LoaderError{Path: filePath, Err: err}
			}
			return nil, []*errdefs.LoaderError{le}, le
		}
		return []document.Document{doc}, nil, nil
	}

	if p.documentsPath == "" {
		return nil, nil, errdefs.Configuration("documents.path is not set")
	}
	if _, err := os.Stat(p.documentsPath); errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("documents directory does not exist", zap.String("path", p.documentsPath))
		return nil, nil, nil
	}
	return p.loader.LoadDirectory(ctx, p.documentsPath)
}

func (p *Pipeline) redact(doc document.Document) (document.Document, int) {
	if p.redactor == nil {
		return doc, 0
	}
	result := p.redactor.Redact(doc.Content)
	if !result.Redacted() {
		return doc, 0
	}

	n := len(result.Findings)
	RedactedSecrets.Add(float64(n))
	p.logger.Warn("redacted secrets from document",
		zap.String("path", doc.SourcePath()),
		zap.Int("count", n),
		zap.Any("rules", result.ByRule),
	)
	doc.Content = result.Content
	return doc, n
}

// store embeds and upserts chunks in batches and returns how many were stored.
// The previous chunks of a source are deleted right before its first batch
// is upserted, so a re-ingested file never keeps chunks past its new end.
func (p *Pipeline) store(ctx context.Context, chunks []document.Chunk) (int, error) {
	stored := 0
	cleared := make(map[string]bool)
	for start := 0; start < len(chunks); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		batch := chunks[start:min(start+p.batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		embeddings, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			p.countProviderError("ingest", err)
			return stored, fmt.Errorf("embedding chunks %d-%d: %w", start, start+len(batch)-1, err)
		}
		for _, c := range batch {
			if src := c.SourcePath(); !cleared[src] {
				if err := p.clearSource(ctx, src); err != nil {
					return stored, err
				}
				cleared[src] = true
			}
		}
		if err := p.index.Upsert(ctx, batch, embeddings); err != nil {
			return stored, fmt.Errorf("storing chunks %d-%d: %w", start, start+len(batch)-1, err)
		}

		stored += len(batch)
		IngestedChunks.Add(float64(len(batch)))
		p.logger.Debug("stored batch",
			zap.Int("batch_start", start),
			zap.Int("batch_size", len(batch)),
		)
	}
	return stored, nil
}

// clearSource deletes the stored chunks of one source file.
func (p *Pipeline) clearSource(ctx context.Context, sourcePath string) error {
	if sourcePath == "" {
		return nil
	}
	if err := p.index.DeleteSource(ctx, sourcePath); err != nil {
		return fmt.Errorf("deleting previous chunks of %s: %w", sourcePath, err)
	}
	p.logger.Debug("cleared previous chunks", zap.String("path", sourcePath))
	return nil
}

// ResetVectorStore deletes every record from the index.
func (p *Pipeline) ResetVectorStore(ctx context.Context) error {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()
	return p.reset(ctx)
}

func (p *Pipeline) reset(ctx context.Context) error {
	if err := p.index.Reset(ctx); err != nil {
		return fmt.Errorf("resetting vector store: %w", err)
	}
	p.logger.Info("vector store reset")
	return nil
}

func (p *Pipeline) countProviderError(stage string, err error) {
	if errors.Is(err, errdefs.ErrProvider) {
		ProviderErrors.WithLabelValues(stage, strconv.FormatBool(errdefs.IsRetryable(err))).Inc()
	}
}
