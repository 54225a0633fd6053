package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

var (
	ingestFile  string
	ingestReset bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest documents into the vector store",
	Long: `Load, chunk, embed and store documents.

Without --file every supported file under documents.path is ingested; files
that cannot be loaded are reported and skipped.

Examples:
  # Ingest the documents directory
  ragd ingest

  # Rebuild the index from scratch
  ragd ingest --reset

  # Ingest one file
  ragd ingest --file docs/guide.pdf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runIngest(ctx, a, cmd.OutOrStdout())
		})
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "ingest a single file instead of documents.path")
	ingestCmd.Flags().BoolVarP(&ingestReset, "reset", "r", false, "clear the vector store first")
}

func runIngest(ctx context.Context, a *app, out io.Writer) error {
	p := a.reg.Pipeline()
	report, err := p.Ingest(ctx, pipeline.IngestRequest{FilePath: ingestFile, Reset: ingestReset})
	printReport(out, report)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	stats, err := p.Stats(ctx)
	if err != nil {
		a.logger.Warn(ctx, "reading stats after ingest", zap.Error(err))
		return nil
	}
	fmt.Fprintf(out, "Vector store now contains %d chunks\n", stats.DocumentsInStore)
	return nil
}

func printReport(out io.Writer, r pipeline.IngestReport) {
	if r.Reset {
		fmt.Fprintln(out, "Vector store reset")
	}
	fmt.Fprintf(out, "Ingested %d chunks from %d files in %s\n", r.Chunks, r.FilesProcessed, r.Duration.Round(time.Millisecond))
	if r.SecretsRedacted > 0 {
		fmt.Fprintf(out, "Redacted %d secrets\n", r.SecretsRedacted)
	}
	if r.FilesFailed > 0 {
		fmt.Fprintf(out, "%d files failed:\n", r.FilesFailed)
		for _, f := range r.Failures {
			fmt.Fprintf(out, "  %s: %s\n", f.Path, f.Error)
		}
	}
}
