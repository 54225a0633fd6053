package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// Run starts the chat on the process's terminal. It falls back to RunREPL
// when stdin or stdout is not a terminal.
func Run(ctx context.Context, q Querier, opts Options) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return RunREPL(ctx, q, os.Stdin, os.Stdout, opts)
	}

	p := tea.NewProgram(New(ctx, q, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// RunREPL reads one question per line from in and streams each answer to
// out. It returns at EOF, on "quit" or "exit", or when ctx is done.
// Query errors are printed and do not end the session.
func RunREPL(ctx context.Context, q Querier, in io.Reader, out io.Writer, opts Options) error {
	opts = opts.withDefaults()

	fmt.Fprintln(out, "\n=== ragd interactive mode ===")
	if stats, err := q.Stats(ctx); err == nil {
		fmt.Fprintf(out, "Vector store contains %d document chunks\n", stats.DocumentsInStore)
	}
	fmt.Fprint(out, "Type 'quit' or 'exit' to leave\n\n")

	var history []generator.Turn
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(out, "Question: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "quit", "exit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "/clear":
			history = nil
			fmt.Fprintln(out, "History cleared.")
			continue
		}

		answer, err := streamAnswer(ctx, q, out, pipeline.QueryRequest{
			Question:      question,
			History:       slices.Clone(history),
			ReturnSources: opts.ShowSources,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "\nError: %v\n\n", err)
			continue
		}
		history = appendTurns(history, opts.MaxHistory,
			generator.Turn{Role: generator.RoleUser, Content: question},
			generator.Turn{Role: generator.RoleAssistant, Content: answer},
		)
	}
}

// streamAnswer prints the answer as it arrives and returns the full text.
func streamAnswer(ctx context.Context, q Querier, out io.Writer, req pipeline.QueryRequest) (string, error) {
	result, err := q.StreamQuery(ctx, req)
	if err != nil {
		return "", err
	}
	defer result.Stream.Close()

	fmt.Fprint(out, "\nAnswer: ")
	var answer strings.Builder
	for {
		frag, err := result.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		answer.WriteString(frag)
		fmt.Fprint(out, frag)
	}
	fmt.Fprintln(out)

	if len(result.Sources) > 0 {
		fmt.Fprintln(out, "\n--- Sources ---")
		for i, src := range result.Sources {
			fmt.Fprintf(out, "[%d] %s (chunk %d, similarity %.2f)\n", i+1, src.SourcePath, src.ChunkIndex, src.Similarity)
		}
	}
	fmt.Fprintln(out)
	return answer.String(), nil
}
