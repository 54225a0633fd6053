package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			stats, err := a.reg.Pipeline().Stats(ctx)
			if err != nil {
				return fmt.Errorf("getting stats: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "\n=== ragd statistics ===")
			fmt.Fprintf(out, "Source files in directory:       %d\n", stats.SourceFiles)
			fmt.Fprintf(out, "Document chunks in vector store: %d\n", stats.DocumentsInStore)
			fmt.Fprintf(out, "Vector store:                    %s (%s)\n", a.cfg.VectorStore.Provider, a.cfg.VectorStore.Collection)
			fmt.Fprintf(out, "Embeddings:                      %s %s\n", a.cfg.Embeddings.Provider, a.cfg.Embeddings.Model)
			fmt.Fprintln(out)
			return nil
		})
	},
}
