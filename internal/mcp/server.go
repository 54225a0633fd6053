package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
)

// Pipeline is the subset of *pipeline.Pipeline the tools call.
type Pipeline interface {
	Query(ctx context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error)
	Ingest(ctx context.Context, req pipeline.IngestRequest) (pipeline.IngestReport, error)
	Stats(ctx context.Context) (pipeline.Stats, error)
}

// Redactor scrubs secrets from tool output.
type Redactor interface {
	Redact(content string) secrets.Result
}

// Server is an MCP server backed by the RAG pipeline.
type Server struct {
	mcp      *mcp.Server
	pipeline Pipeline
	redactor Redactor
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Redactor is optional. Nil returns tool output unchanged.
	Redactor Redactor
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server and registers the RAG tools.
func NewServer(cfg *Config, p Pipeline) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Name == "" {
		cfg.Name = "ragd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		&mcp.ServerOptions{
			Instructions: "Answers questions from a local document collection. " +
				"Call rag_query with a question; call rag_ingest after adding documents.",
		},
	)

	s := &Server{
		mcp:      mcpServer,
		pipeline: p,
		redactor: cfg.Redactor,
		metrics:  NewMetrics(cfg.Logger),
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin/stdout until ctx is cancelled or the client
// disconnects. Nothing else may write to stdout while it runs.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	return s.serve(ctx, &mcp.StdioTransport{})
}

func (s *Server) serve(ctx context.Context, t mcp.Transport) error {
	if err := s.mcp.Run(ctx, t); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// scrub redacts secrets from text sent to the client.
func (s *Server) scrub(text string) string {
	if s.redactor == nil {
		return text
	}
	return s.redactor.Redact(text).Content
}
