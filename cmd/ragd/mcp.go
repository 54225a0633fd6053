package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mcpserver "github.com/fyrsmithlabs/ragd/internal/mcp"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing the
rag_query, rag_ingest and rag_stats tools.

Example client configuration:
  {"mcpServers": {"ragd": {"command": "ragd", "args": ["mcp"]}}}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), runMCP)
	},
}

func runMCP(ctx context.Context, a *app) error {
	cfg := &mcpserver.Config{
		Name:    "ragd",
		Version: version,
		Logger:  a.logger.Underlying(),
	}
	if a.cfg.Documents.RedactSecrets {
		redactor, err := secrets.New()
		if err != nil {
			return fmt.Errorf("creating secret redactor: %w", err)
		}
		cfg.Redactor = redactor
	}

	srv, err := mcpserver.NewServer(cfg, a.reg.Pipeline())
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
