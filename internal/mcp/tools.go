package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

const maxSourcesLimit = 20

func (s *Server) registerTools() {
	s.registerQueryTool()
	s.registerIngestTool()
	s.registerStatsTool()
}

// instrument wraps a tool body with metrics and logging.
func (s *Server) instrument(ctx context.Context, tool string) func(err *error) {
	start := time.Now()
	done := s.metrics.begin(ctx, tool)
	return func(err *error) {
		done(*err)
		if *err != nil {
			s.logger.Warn("tool failed", zap.String("tool", tool), zap.Error(*err))
			return
		}
		s.logger.Debug("tool completed", zap.String("tool", tool), zap.Duration("duration", time.Since(start)))
	}
}

// ===== QUERY =====

type queryInput struct {
	Question      string           `json:"question" jsonschema:"Question to answer from the indexed documents"`
	History       []generator.Turn `json:"history,omitempty" jsonschema:"Earlier turns of the conversation, oldest first"`
	ReturnSources bool             `json:"return_sources,omitempty" jsonschema:"Include the retrieved chunks in the result"`
	MaxSources    int              `json:"max_sources,omitempty" jsonschema:"Maximum sources to return (1-20)"`
}

type querySource struct {
	SourcePath string  `json:"source_path" jsonschema:"File the chunk came from"`
	ChunkIndex int     `json:"chunk_index" jsonschema:"Position of the chunk in its file"`
	Similarity float64 `json:"similarity" jsonschema:"Similarity to the question in [0, 1]"`
	Content    string  `json:"content" jsonschema:"Chunk text"`
}

type queryOutput struct {
	Answer       string        `json:"answer" jsonschema:"Generated answer"`
	ContextFound bool          `json:"context_found" jsonschema:"False when no document was relevant"`
	Sources      []querySource `json:"sources,omitempty" jsonschema:"Retrieved chunks"`
}

func (s *Server) registerQueryTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: "Answer a question using the documents indexed by ragd",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args queryInput) (_ *mcp.CallToolResult, _ queryOutput, err error) {
		defer s.instrument(ctx, "rag_query")(&err)

		if strings.TrimSpace(args.Question) == "" {
			return nil, queryOutput{}, fmt.Errorf("invalid input: question is required")
		}
		if args.MaxSources < 0 || args.MaxSources > maxSourcesLimit {
			return nil, queryOutput{}, fmt.Errorf("invalid input: max_sources must be between 1 and %d", maxSourcesLimit)
		}

		result, err := s.pipeline.Query(ctx, pipeline.QueryRequest{
			Question:      args.Question,
			History:       args.History,
			ReturnSources: args.ReturnSources,
			MaxSources:    args.MaxSources,
		})
		if err != nil {
			return nil, queryOutput{}, err
		}

		out := queryOutput{
			Answer:       s.scrub(result.Answer),
			ContextFound: result.ContextFound,
		}
		for _, src := range result.Sources {
			out.Sources = append(out.Sources, querySource{
				SourcePath: src.SourcePath,
				ChunkIndex: src.ChunkIndex,
				Similarity: src.Similarity,
				Content:    s.scrub(src.Content),
			})
		}
		if args.ReturnSources {
			s.metrics.recordSources(ctx, len(out.Sources))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: formatAnswer(out)}},
		}, out, nil
	})
}

// formatAnswer renders the answer followed by a numbered source list.
func formatAnswer(out queryOutput) string {
	if len(out.Sources) == 0 {
		return out.Answer
	}
	var b strings.Builder
	b.WriteString(out.Answer)
	b.WriteString("\n\nSources:\n")
	for i, src := range out.Sources {
		fmt.Fprintf(&b, "%d. %s (chunk %d, similarity %.2f)\n", i+1, src.SourcePath, src.ChunkIndex, src.Similarity)
	}
	return b.String()
}

// ===== INGEST =====

type ingestInput struct {
	FilePath string `json:"file_path,omitempty" jsonschema:"File to ingest; omit to ingest the documents directory"`
	Reset    bool   `json:"reset,omitempty" jsonschema:"Clear the index before ingesting"`
}

type ingestOutput struct {
	FilesProcessed  int                    `json:"files_processed" jsonschema:"Files loaded"`
	FilesFailed     int                    `json:"files_failed" jsonschema:"Files that could not be loaded"`
	Chunks          int                    `json:"chunks_ingested" jsonschema:"Chunks stored"`
	SecretsRedacted int                    `json:"secrets_redacted" jsonschema:"Secrets removed before indexing"`
	Failures        []pipeline.FileFailure `json:"failures,omitempty" jsonschema:"Per-file load errors"`
}

func (s *Server) registerIngestTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_ingest",
		Description: "Load, chunk and index a document file or the whole documents directory",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args ingestInput) (_ *mcp.CallToolResult, _ ingestOutput, err error) {
		defer s.instrument(ctx, "rag_ingest")(&err)

		report, err := s.pipeline.Ingest(ctx, pipeline.IngestRequest{
			FilePath: args.FilePath,
			Reset:    args.Reset,
		})
		if err != nil {
			return nil, ingestOutput{}, err
		}

		out := ingestOutput{
			FilesProcessed:  report.FilesProcessed,
			FilesFailed:     report.FilesFailed,
			Chunks:          report.Chunks,
			SecretsRedacted: report.SecretsRedacted,
			Failures:        report.Failures,
		}
		text := fmt.Sprintf("Ingested %d chunks from %d files", out.Chunks, out.FilesProcessed)
		if out.FilesFailed > 0 {
			text += fmt.Sprintf(" (%d files failed)", out.FilesFailed)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	})
}

// ===== STATS =====

type statsInput struct{}

type statsOutput struct {
	DocumentsInStore int `json:"documents_in_store" jsonschema:"Chunks in the vector index"`
	SourceFiles      int `json:"source_files" jsonschema:"Supported files in the documents directory"`
}

func (s *Server) registerStatsTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_stats",
		Description: "Report how many chunks are indexed and how many source files exist",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args statsInput) (_ *mcp.CallToolResult, _ statsOutput, err error) {
		defer s.instrument(ctx, "rag_stats")(&err)

		stats, err := s.pipeline.Stats(ctx)
		if err != nil {
			return nil, statsOutput{}, err
		}
		out := statsOutput{DocumentsInStore: stats.DocumentsInStore, SourceFiles: stats.SourceFiles}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("%d chunks indexed, %d source files", out.DocumentsInStore, out.SourceFiles),
			}},
		}, out, nil
	})
}
