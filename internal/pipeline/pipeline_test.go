package pipeline_test

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/loader"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// angleEmbedder puts every document at docAngle and every query at 0
// degrees, so the query similarity is cos(docAngle).
type angleEmbedder struct {
	mu       sync.Mutex
	docAngle float64
	batches  []int
	err      error
}

func vec(degrees float64) []float32 {
	rad := degrees * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad)), 0}
}

func (e *angleEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.batches = append(e.batches, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vec(e.docAngle)
	}
	return out, nil
}

func (e *angleEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return vec(0), nil
}

type countingModel struct {
	mu     sync.Mutex
	answer string
	calls  int
}

func (m *countingModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if opts.StreamingFunc != nil {
		for _, w := range strings.SplitAfter(m.answer, " ") {
			if err := opts.StreamingFunc(ctx, []byte(w)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *countingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *countingModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type env struct {
	pipeline *pipeline.Pipeline
	embedder *angleEmbedder
	model    *countingModel
	docsDir  string
}

type envConfig struct {
	threshold float64
	docAngle  float64
	batchSize int
	redactor  pipeline.Redactor
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()
	logger := zap.NewNop()
	docsDir := filepath.Join(t.TempDir(), "docs")
	require.NoError(t, os.MkdirAll(docsDir, 0o755))

	splitter, err := chunker.New(chunker.Config{ChunkSize: 100, ChunkOverlap: 10})
	require.NoError(t, err)

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		Path:      filepath.Join(t.TempDir(), "store"),
		Dimension: 3,
	}, logger)
	require.NoError(t, err)

	emb := &angleEmbedder{docAngle: cfg.docAngle}
	ret, err := retriever.New(emb, index, retriever.Config{MaxResults: 5, SimilarityThreshold: cfg.threshold}, logger)
	require.NoError(t, err)

	model := &countingModel{answer: "The answer is in the documents."}
	gen, err := generator.New(model, generator.Config{Provider: "fake", MaxTokens: 100}, logger)
	require.NoError(t, err)

	p, err := pipeline.New(pipeline.Options{
		Loader:        loader.New(logger),
		Splitter:      splitter,
		Embedder:      emb,
		Index:         index,
		Retriever:     ret,
		Generator:     gen,
		Redactor:      cfg.redactor,
		DocumentsPath: docsDir,
		BatchSize:     cfg.batchSize,
		Logger:        logger,
	})
	require.NoError(t, err)

	return &env{pipeline: p, embedder: emb, model: model, docsDir: docsDir}
}

// paragraph returns an 80-character paragraph tagged with label.
func paragraph(label string) string {
	p := label + " " + strings.Repeat("z", 80)
	return p[:80]
}

// writeTwoDocs writes documents that split into 3 and 2 chunks.
func writeTwoDocs(t *testing.T, dir string) {
	t.Helper()
	a := strings.Join([]string{paragraph("alpha one"), paragraph("alpha two"), paragraph("alpha three")}, "\n\n")
	b := strings.Join([]string{paragraph("beta one"), paragraph("beta two")}, "\n\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(a), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte(b), 0o644))
}

func TestIngest_EmptyDirectory(t *testing.T) {
	e := newEnv(t, envConfig{threshold: 0.5})

	report, err := e.pipeline.Ingest(context.Background(), pipeline.IngestRequest{})
	require.NoError(t, err)
	assert.Zero(t, report.Chunks)
	assert.Zero(t, report.FilesProcessed)
	assert.Empty(t, e.embedder.batches)
}

func TestIngest_MissingDirectory(t *testing.T) {
	e := newEnv(t, envConfig{})
	require.NoError(t, os.RemoveAll(e.docsDir))

	report, err := e.pipeline.Ingest(context.Background(), pipeline.IngestRequest{})
	require.NoError(t, err)
	assert.Zero(t, report.Chunks)

	stats, err := e.pipeline.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.SourceFiles)
}

func TestIngest_ResetThenTwoDocuments(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0.5})
	writeTwoDocs(t, e.docsDir)

	// Seed stale content that reset must remove.
	stale := filepath.Join(t.TempDir(), "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))
	_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{FilePath: stale})
	require.NoError(t, err)

	report, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{Reset: true})
	require.NoError(t, err)
	assert.True(t, report.Reset)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Zero(t, report.FilesFailed)
	assert.Equal(t, 5, report.Chunks)

	stats, err := e.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.DocumentsInStore)
	assert.Equal(t, 2, stats.SourceFiles)
}

func TestIngest_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	writeTwoDocs(t, e.docsDir)

	for range 2 {
		_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
		require.NoError(t, err)
	}

	stats, err := e.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.DocumentsInStore, "re-ingesting replaces chunks by ID")
}

func TestIngest_ReingestReplacesSourceChunks(t *testing.T) {
	tests := []struct {
		name       string
		rewrite    string
		wantChunks int
	}{
		{name: "shrunk file", rewrite: "new short text.", wantChunks: 1},
		{name: "emptied file", rewrite: "", wantChunks: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, envConfig{threshold: 0})
			writeTwoDocs(t, e.docsDir)
			path := filepath.Join(e.docsDir, "a.txt")

			_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
			require.NoError(t, err)

			require.NoError(t, os.WriteFile(path, []byte(tt.rewrite), 0o644))
			report, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{FilePath: path})
			require.NoError(t, err)
			assert.Equal(t, tt.wantChunks, report.Chunks)

			stats, err := e.pipeline.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantChunks+2, stats.DocumentsInStore, "b.md keeps its 2 chunks")

			res, err := e.pipeline.Query(ctx, pipeline.QueryRequest{Question: "q", ReturnSources: true})
			require.NoError(t, err)
			for _, src := range res.Sources {
				assert.NotContains(t, src.Content, "alpha")
			}
		})
	}
}

func TestIngest_Batches(t *testing.T) {
	e := newEnv(t, envConfig{batchSize: 2})
	writeTwoDocs(t, e.docsDir)

	report, err := e.pipeline.Ingest(context.Background(), pipeline.IngestRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Chunks)
	assert.Equal(t, []int{2, 2, 1}, e.embedder.batches)
}

func TestIngest_CollectsLoaderFailures(t *testing.T) {
	e := newEnv(t, envConfig{})
	writeTwoDocs(t, e.docsDir)
	require.NoError(t, os.WriteFile(filepath.Join(e.docsDir, "broken.docx"), []byte("not a zip"), 0o644))

	report, err := e.pipeline.Ingest(context.Background(), pipeline.IngestRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesProcessed)
	assert.Equal(t, 1, report.FilesFailed)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Path, "broken.docx")
	assert.Equal(t, 5, report.Chunks)
}

func TestIngest_SingleFileFailure(t *testing.T) {
	e := newEnv(t, envConfig{})

	report, err := e.pipeline.Ingest(context.Background(), pipeline.IngestRequest{
		FilePath: filepath.Join(e.docsDir, "missing.txt"),
	})
	assert.ErrorIs(t, err, errdefs.ErrLoader)
	assert.Equal(t, 1, report.FilesFailed)
}

func TestIngest_ProviderErrorAborts(t *testing.T) {
	e := newEnv(t, envConfig{})
	writeTwoDocs(t, e.docsDir)
	e.embedder.err = &errdefs.ProviderError{Provider: "fake", Op: "embed", Err: errors.New("401 unauthorized")}

	report, err := e.pipeline.Ingest(context.Background(), pipeline.IngestRequest{})
	assert.ErrorIs(t, err, errdefs.ErrProvider)
	assert.False(t, errdefs.IsRetryable(err))
	assert.Zero(t, report.Chunks)
}

type fakeRedactor struct{}

func (fakeRedactor) Redact(content string) secrets.Result {
	if !strings.Contains(content, "alpha") {
		return secrets.Result{Content: content}
	}
	return secrets.Result{
		Content:  strings.ReplaceAll(content, "alpha", secrets.Marker),
		Findings: []secrets.Finding{{RuleID: "fake-rule"}},
		ByRule:   map[string]int{"fake-rule": 1},
	}
}

func TestIngest_RedactsBeforeChunking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0, redactor: fakeRedactor{}})
	writeTwoDocs(t, e.docsDir)

	report, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SecretsRedacted)

	res, err := e.pipeline.Query(ctx, pipeline.QueryRequest{Question: "q", ReturnSources: true})
	require.NoError(t, err)
	for _, s := range res.Sources {
		assert.NotContains(t, s.Content, "alpha")
	}
}

func TestQuery_ThresholdYieldsNotFound(t *testing.T) {
	ctx := context.Background()
	// cos(60) = 0.5 best similarity against a 0.9 threshold.
	e := newEnv(t, envConfig{threshold: 0.9, docAngle: 60})
	writeTwoDocs(t, e.docsDir)
	_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
	require.NoError(t, err)

	res, err := e.pipeline.Query(ctx, pipeline.QueryRequest{Question: "what is alpha?", ReturnSources: true})
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "not found in context")
	assert.False(t, res.ContextFound)
	assert.Empty(t, res.Sources)
	assert.Zero(t, e.model.callCount())
}

func TestQuery_WithSources(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0.4, docAngle: 60})
	writeTwoDocs(t, e.docsDir)
	_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
	require.NoError(t, err)

	history := []generator.Turn{{Role: generator.RoleUser, Content: "hi"}, {Role: generator.RoleAssistant, Content: "hello"}}
	res, err := e.pipeline.Query(ctx, pipeline.QueryRequest{
		Question:      "what is alpha?",
		History:       history,
		ReturnSources: true,
		MaxSources:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is in the documents.", res.Answer)
	assert.True(t, res.ContextFound)
	require.Len(t, res.Sources, 3)
	for _, s := range res.Sources {
		assert.InDelta(t, 0.5, s.Similarity, 1e-3)
		assert.NotEmpty(t, s.SourcePath)
		assert.GreaterOrEqual(t, s.ChunkIndex, 0)
	}
	assert.Equal(t, 1, e.model.callCount())
	assert.Len(t, history, 2)

	res, err = e.pipeline.Query(ctx, pipeline.QueryRequest{Question: "what is alpha?"})
	require.NoError(t, err)
	assert.Nil(t, res.Sources)
}

func TestStreamQuery(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0.4, docAngle: 60})
	writeTwoDocs(t, e.docsDir)
	_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
	require.NoError(t, err)

	single, err := e.pipeline.Query(ctx, pipeline.QueryRequest{Question: "q"})
	require.NoError(t, err)

	res, err := e.pipeline.StreamQuery(ctx, pipeline.QueryRequest{Question: "q", ReturnSources: true})
	require.NoError(t, err)
	defer res.Stream.Close()
	assert.True(t, res.ContextFound)
	assert.NotEmpty(t, res.Sources)

	var b strings.Builder
	for {
		frag, err := res.Stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b.WriteString(frag)
	}
	assert.Equal(t, single.Answer, b.String())
}

func streamQueryCount(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	obs := pipeline.QueryDuration.WithLabelValues("stream")
	require.NoError(t, obs.(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestStreamQuery_DurationCoversStream(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0.4, docAngle: 60})
	writeTwoDocs(t, e.docsDir)
	_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
	require.NoError(t, err)

	before := streamQueryCount(t)
	res, err := e.pipeline.StreamQuery(ctx, pipeline.QueryRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, before, streamQueryCount(t), "observed before the answer was read")

	_, err = res.Stream.Collect()
	require.NoError(t, err)
	require.NoError(t, res.Stream.Close())
	assert.Equal(t, before+1, streamQueryCount(t))
}

func TestStreamQuery_NotFound(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0.9, docAngle: 60})

	res, err := e.pipeline.StreamQuery(ctx, pipeline.QueryRequest{Question: "q"})
	require.NoError(t, err)
	got, err := res.Stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, generator.NotFoundAnswer, got)
	assert.False(t, res.ContextFound)
}

func TestResetVectorStore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{})
	writeTwoDocs(t, e.docsDir)
	_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
	require.NoError(t, err)

	require.NoError(t, e.pipeline.ResetVectorStore(ctx))
	require.NoError(t, e.pipeline.ResetVectorStore(ctx))

	stats, err := e.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentsInStore)
	assert.Equal(t, 2, stats.SourceFiles)
}

func TestConcurrentQueriesAndIngest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, envConfig{threshold: 0.4, docAngle: 60})
	writeTwoDocs(t, e.docsDir)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.pipeline.Ingest(ctx, pipeline.IngestRequest{})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.pipeline.Query(ctx, pipeline.QueryRequest{Question: "q"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stats, err := e.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.DocumentsInStore)
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := pipeline.New(pipeline.Options{})
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}
