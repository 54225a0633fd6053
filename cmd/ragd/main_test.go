package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

func TestRootCommand(t *testing.T) {
	want := []string{"serve", "ingest", "query", "stats", "reset", "interactive", "mcp", "version"}

	var got []string
	for _, cmd := range rootCmd.Commands() {
		got = append(got, cmd.Name())
		assert.NotEmpty(t, cmd.Short, "command %s needs a short description", cmd.Name())
		assert.True(t, cmd.RunE != nil || cmd.Run != nil, "command %s has no handler", cmd.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd       *cobra.Command
		flag      string
		shorthand string
	}{
		{serveCmd, "watch", "w"},
		{ingestCmd, "file", "f"},
		{ingestCmd, "reset", "r"},
		{queryCmd, "stream", "s"},
		{queryCmd, "show-sources", ""},
		{queryCmd, "verbose", "v"},
		{interactiveCmd, "show-sources", ""},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			f := tt.cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.shorthand, f.Shorthand)
		})
	}
}

func TestQueryCommandArgs(t *testing.T) {
	assert.Error(t, queryCmd.Args(queryCmd, nil))
	assert.Error(t, queryCmd.Args(queryCmd, []string{"a", "b"}))
	assert.NoError(t, queryCmd.Args(queryCmd, []string{"what?"}))
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)

	out := buf.String()
	assert.Contains(t, out, "ragd by Fyrsmith Labs")
	assert.Contains(t, out, "Version:    "+version)
	assert.Contains(t, out, "Commit:     "+gitCommit)
	assert.Contains(t, out, "Go:")
}

func TestPrintReport(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, pipeline.IngestReport{
			FilesProcessed: 3,
			Chunks:         12,
			Duration:       1500 * time.Millisecond,
		})
		assert.Equal(t, "Ingested 12 chunks from 3 files in 1.5s\n", buf.String())
	})

	t.Run("reset, redactions and failures", func(t *testing.T) {
		var buf bytes.Buffer
		printReport(&buf, pipeline.IngestReport{
			FilesProcessed:  1,
			FilesFailed:     1,
			Chunks:          2,
			SecretsRedacted: 4,
			Reset:           true,
			Failures:        []pipeline.FileFailure{{Path: "docs/broken.pdf", Error: "no text"}},
		})

		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "Vector store reset\n"))
		assert.Contains(t, out, "Redacted 4 secrets\n")
		assert.Contains(t, out, "1 files failed:\n")
		assert.Contains(t, out, "  docs/broken.pdf: no text\n")
	})
}

func TestPrintSources(t *testing.T) {
	sources := []pipeline.Source{
		{Content: strings.Repeat("x", 250), SourcePath: "docs/a.md", ChunkIndex: 2, Similarity: 0.876},
		{Content: "short", SourcePath: "docs/b.txt", ChunkIndex: 0, Similarity: 0.5},
	}

	t.Run("empty prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		printSources(&buf, nil, true)
		assert.Empty(t, buf.String())
	})

	t.Run("summary", func(t *testing.T) {
		var buf bytes.Buffer
		printSources(&buf, sources, false)

		out := buf.String()
		assert.Contains(t, out, "--- Sources ---")
		assert.Contains(t, out, "[1] docs/a.md (chunk 2, similarity 0.88)")
		assert.Contains(t, out, "[2] docs/b.txt (chunk 0, similarity 0.50)")
		assert.NotContains(t, out, "Content:")
	})

	t.Run("verbose previews content", func(t *testing.T) {
		var buf bytes.Buffer
		printSources(&buf, sources, true)

		out := buf.String()
		assert.Contains(t, out, "Content: "+strings.Repeat("x", 200)+"...\n")
		assert.Contains(t, out, "Content: short\n")
	})
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"equal to limit", "hello", 5, "hello"},
		{"longer than limit", "hello world", 5, "hello..."},
		{"multibyte", "héllo wörld", 4, "héll..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preview(tt.input, tt.n))
		})
	}
}

type fakeQuerier struct {
	result pipeline.QueryResult
	err    error
	last   pipeline.QueryRequest
}

func (f *fakeQuerier) Query(_ context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error) {
	f.last = req
	return f.result, f.err
}

func (f *fakeQuerier) StreamQuery(context.Context, pipeline.QueryRequest) (*pipeline.StreamResult, error) {
	return nil, errors.New("not used")
}

func setQueryFlags(t *testing.T, stream, showSources bool) {
	t.Helper()
	prevStream, prevSources := queryStream, queryShowSources
	queryStream, queryShowSources = stream, showSources
	t.Cleanup(func() { queryStream, queryShowSources = prevStream, prevSources })
}

func TestRunQuery(t *testing.T) {
	t.Run("prints question, answer and sources", func(t *testing.T) {
		setQueryFlags(t, false, true)
		q := &fakeQuerier{result: pipeline.QueryResult{
			Answer:       "Keys rotate monthly.",
			ContextFound: true,
			Sources:      []pipeline.Source{{SourcePath: "docs/keys.md", ChunkIndex: 1, Similarity: 0.9}},
		}}

		var buf bytes.Buffer
		require.NoError(t, runQuery(context.Background(), q, &buf, "How often do keys rotate?"))

		assert.True(t, q.last.ReturnSources)
		assert.Equal(t, "How often do keys rotate?", q.last.Question)
		out := buf.String()
		assert.Contains(t, out, "Question: How often do keys rotate?\n")
		assert.Contains(t, out, "Answer: Keys rotate monthly.\n")
		assert.Contains(t, out, "[1] docs/keys.md (chunk 1, similarity 0.90)")
	})

	t.Run("wraps pipeline errors", func(t *testing.T) {
		setQueryFlags(t, false, false)
		q := &fakeQuerier{err: errdefs.ErrStoreUnavailable}

		err := runQuery(context.Background(), q, &bytes.Buffer{}, "q")
		require.Error(t, err)
		assert.ErrorIs(t, err, errdefs.ErrStoreUnavailable)
		assert.Contains(t, err.Error(), "query failed")
	})
}

func setGlobals(t *testing.T, path, level string) {
	t.Helper()
	prevPath, prevLevel := configPath, logLevel
	configPath, logLevel = path, level
	t.Cleanup(func() { configPath, logLevel = prevPath, prevLevel })
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "documents:\n  path: " + filepath.Join(dir, "docs") + "\nlogging:\n  level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Run("reads the file", func(t *testing.T) {
		setGlobals(t, path, "")
		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, filepath.Join(dir, "docs"), cfg.Documents.Path)
	})

	t.Run("log level flag overrides the file", func(t *testing.T) {
		setGlobals(t, path, "debug")
		cfg, err := loadConfig()
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("invalid log level", func(t *testing.T) {
		setGlobals(t, path, "loud")
		_, err := loadConfig()
		assert.Error(t, err)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		setGlobals(t, filepath.Join(dir, "missing.yaml"), "")
		_, err := loadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading configuration")
	})
}
