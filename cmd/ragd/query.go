package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

const sourcePreviewLen = 200

var (
	queryStream      bool
	queryShowSources bool
	queryVerbose     bool
)

var queryCmd = &cobra.Command{
	Use:   "query QUESTION",
	Short: "Ask a question about the ingested documents",
	Long: `Retrieve the chunks most similar to QUESTION and generate an answer from them.

Examples:
  ragd query "What is the refund policy?"
  ragd query "Summarize the release notes" --stream
  ragd query "Who owns billing?" --show-sources --verbose`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			return runQuery(ctx, a.reg.Pipeline(), cmd.OutOrStdout(), args[0])
		})
	},
}

func init() {
	queryCmd.Flags().BoolVarP(&queryStream, "stream", "s", false, "print the answer as it is generated")
	queryCmd.Flags().BoolVar(&queryShowSources, "show-sources", false, "list the source chunks")
	queryCmd.Flags().BoolVarP(&queryVerbose, "verbose", "v", false, "include a preview of each source chunk")
}

// querier is the subset of *pipeline.Pipeline the query command uses.
type querier interface {
	Query(ctx context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error)
	StreamQuery(ctx context.Context, req pipeline.QueryRequest) (*pipeline.StreamResult, error)
}

func runQuery(ctx context.Context, q querier, out io.Writer, question string) error {
	req := pipeline.QueryRequest{Question: question, ReturnSources: queryShowSources}

	if queryStream {
		result, err := q.StreamQuery(ctx, req)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer result.Stream.Close()

		fmt.Fprint(out, "\nAnswer: ")
		for {
			frag, err := result.Stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				fmt.Fprintln(out)
				return fmt.Errorf("query failed: %w", err)
			}
			fmt.Fprint(out, frag)
		}
		fmt.Fprintln(out)
		printSources(out, result.Sources, queryVerbose)
		return nil
	}

	result, err := q.Query(ctx, req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	fmt.Fprintf(out, "\nQuestion: %s\n", question)
	fmt.Fprintf(out, "\nAnswer: %s\n", result.Answer)
	printSources(out, result.Sources, queryVerbose)
	return nil
}

func printSources(out io.Writer, sources []pipeline.Source, verbose bool) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\n--- Sources ---")
	for i, src := range sources {
		fmt.Fprintf(out, "\n[%d] %s (chunk %d, similarity %.2f)\n", i+1, src.SourcePath, src.ChunkIndex, src.Similarity)
		if verbose {
			fmt.Fprintf(out, "Content: %s\n", preview(src.Content, sourcePreviewLen))
		}
	}
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
