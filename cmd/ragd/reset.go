package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every chunk from the vector store",
	Long: `Delete every chunk from the vector store. Source documents are not touched;
run "ragd ingest" to rebuild the index.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			if err := a.reg.Pipeline().ResetVectorStore(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Vector store reset")
			return nil
		})
	},
}
