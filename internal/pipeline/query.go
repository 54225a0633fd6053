package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
)

// QueryRequest is a question with optional conversation history.
type QueryRequest struct {
	Question string
	// History is read, never modified.
	History       []generator.Turn
	ReturnSources bool
	// MaxSources caps returned sources. Zero returns every retrieved chunk.
	MaxSources int
}

// Source is a retrieved chunk reported with an answer.
type Source struct {
	Content    string  `json:"content"`
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
}

// QueryResult is an answer and, when requested, its sources.
type QueryResult struct {
	Answer string `json:"answer"`
	// ContextFound is false when no chunk passed the similarity threshold.
	ContextFound bool     `json:"context_found"`
	Sources      []Source `json:"sources,omitempty"`
}

// Query answers a question from the indexed documents.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Query")
	defer span.End()

	start := time.Now()
	defer func() { QueryDuration.WithLabelValues("single").Observe(time.Since(start).Seconds()) }()

	results, err := p.retrieve(ctx, req.Question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QueryResult{}, err
	}

	answer, err := p.generator.GenerateFromDocuments(ctx, req.Question, chunksOf(results), req.History)
	if err != nil {
		p.countProviderError("query", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return QueryResult{}, err
	}

	out := QueryResult{Answer: answer, ContextFound: len(results) > 0}
	if req.ReturnSources {
		out.Sources = sourcesOf(results, req.MaxSources)
	}
	span.SetAttributes(
		attribute.Int("results_count", len(results)),
		attribute.Bool("context_found", out.ContextFound),
	)
	return out, nil
}

// StreamResult is a streaming answer plus the sources it is based on.
type StreamResult struct {
	Stream       *generator.Stream
	Sources      []Source
	ContextFound bool
}

// StreamQuery retrieves context fully, then streams the answer. The caller
// must Close the stream; the query span and latency end there.
func (p *Pipeline) StreamQuery(ctx context.Context, req QueryRequest) (*StreamResult, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.StreamQuery")
	start := time.Now()
	fail := func(err error) (*StreamResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		QueryDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
		return nil, err
	}

	results, err := p.retrieve(ctx, req.Question)
	if err != nil {
		return fail(err)
	}

	chunks := chunksOf(results)
	stream, err := p.generator.StreamGenerate(ctx, req.Question, retriever.FormatContext(chunks), req.History)
	if err != nil {
		p.countProviderError("query", err)
		return fail(err)
	}
	span.SetAttributes(
		attribute.Int("results_count", len(results)),
		attribute.Bool("context_found", len(results) > 0),
	)
	stream.OnClose(func() {
		QueryDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
		span.End()
	})

	out := &StreamResult{Stream: stream, ContextFound: len(results) > 0}
	if req.ReturnSources {
		out.Sources = sourcesOf(results, req.MaxSources)
	}
	return out, nil
}

func (p *Pipeline) retrieve(ctx context.Context, question string) ([]retriever.Result, error) {
	results, err := p.retriever.RetrieveWithScores(ctx, question, 0)
	if err != nil {
		p.countProviderError("query", err)
		return nil, err
	}
	if len(results) == 0 {
		EmptyContextAnswers.Inc()
		p.logger.Info("no chunk passed the similarity threshold",
			zap.Float64("threshold", p.retriever.Config().SimilarityThreshold),
		)
	}
	return results, nil
}

func chunksOf(results []retriever.Result) []document.Chunk {
	chunks := make([]document.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}
	return chunks
}

func sourcesOf(results []retriever.Result, limit int) []Source {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			Content:    r.Chunk.Content,
			SourcePath: r.Chunk.SourcePath(),
			ChunkIndex: r.Chunk.Index(),
			Similarity: r.Similarity,
		}
	}
	return sources
}

// Stats describes the index and the documents directory.
type Stats struct {
	DocumentsInStore int `json:"documents_in_store"`
	SourceFiles      int `json:"source_files"`
}

// Stats reports the number of stored chunks and supported source files.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	n, err := p.index.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{DocumentsInStore: n}

	if p.documentsPath != "" {
		files, err := p.loader.CountFiles(ctx, p.documentsPath)
		switch {
		case err == nil:
			stats.SourceFiles = files
		case errors.Is(err, os.ErrNotExist):
		case errors.Is(err, errdefs.ErrLoader):
			p.logger.Warn("counting source files", zap.Error(err))
		default:
			return Stats{}, err
		}
	}
	return stats, nil
}
