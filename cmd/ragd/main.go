// Ragd answers questions from a local document collection.
//
// Documents are loaded, redacted, chunked, embedded and stored in a vector
// index; questions are answered by a language model from the most similar
// chunks. The same pipeline is served as a CLI, an HTTP API, an MCP stdio
// server and an interactive chat.
//
// Usage:
//
//	ragd ingest --reset
//	ragd query "How do I rotate the API keys?" --show-sources
//	ragd serve --watch
//	ragd interactive
//
// Configuration is read from ~/.config/ragd/config.yaml (or --config) and
// RAGD_* environment variables. Logs go to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath is the YAML configuration file; empty uses the default path
	configPath string
	// logLevel overrides logging.level when set
	logLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragd",
	Short: "Retrieval-augmented question answering over your documents",
	Long: `ragd indexes a directory of documents (txt, md, pdf, docx) in a vector store
and answers questions about them with a language model.

It runs as a CLI, an HTTP API (ragd serve), an MCP stdio server (ragd mcp)
and an interactive chat (ragd interactive).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/ragd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
