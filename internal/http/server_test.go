package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/generator"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
	"github.com/fyrsmithlabs/ragd/internal/retriever"
)

type fakePipeline struct {
	queryFn  func(pipeline.QueryRequest) (pipeline.QueryResult, error)
	streamFn func(context.Context, pipeline.QueryRequest) (*pipeline.StreamResult, error)
	ingestFn func(pipeline.IngestRequest) (pipeline.IngestReport, error)
	resetErr error
	stats    pipeline.Stats
	statsErr error

	lastQuery  pipeline.QueryRequest
	lastIngest pipeline.IngestRequest
	resets     int
}

func (f *fakePipeline) Query(_ context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error) {
	f.lastQuery = req
	if f.queryFn == nil {
		return pipeline.QueryResult{Answer: "answer", ContextFound: true}, nil
	}
	return f.queryFn(req)
}

func (f *fakePipeline) StreamQuery(ctx context.Context, req pipeline.QueryRequest) (*pipeline.StreamResult, error) {
	f.lastQuery = req
	return f.streamFn(ctx, req)
}

func (f *fakePipeline) Ingest(_ context.Context, req pipeline.IngestRequest) (pipeline.IngestReport, error) {
	f.lastIngest = req
	if f.ingestFn == nil {
		return pipeline.IngestReport{FilesProcessed: 1, Chunks: 3}, nil
	}
	return f.ingestFn(req)
}

func (f *fakePipeline) ResetVectorStore(context.Context) error {
	f.resets++
	return f.resetErr
}

func (f *fakePipeline) Stats(context.Context) (pipeline.Stats, error) {
	return f.stats, f.statsErr
}

// wordModel streams its answer word by word, or fails with err.
type wordModel struct {
	answer string
	err    error
}

func (m *wordModel) GenerateContent(ctx context.Context, _ []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	if opts.StreamingFunc != nil {
		for _, word := range strings.SplitAfter(m.answer, " ") {
			if err := opts.StreamingFunc(ctx, []byte(word)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.answer}}}, nil
}

func (m *wordModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func streamFrom(t *testing.T, model llms.Model, sources []pipeline.Source) func(context.Context, pipeline.QueryRequest) (*pipeline.StreamResult, error) {
	t.Helper()
	gen, err := generator.New(model, generator.Config{Provider: "fake", Temperature: 0.7, MaxTokens: 100}, nil)
	require.NoError(t, err)
	return func(ctx context.Context, req pipeline.QueryRequest) (*pipeline.StreamResult, error) {
		stream, err := gen.StreamGenerate(ctx, req.Question, "Paris is the capital of France.", req.History)
		if err != nil {
			return nil, err
		}
		return &pipeline.StreamResult{Stream: stream, Sources: sources, ContextFound: true}, nil
	}
}

func newTestServer(t *testing.T, p Pipeline, opts ...Option) (*Server, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	s, err := NewServer(p, logger.Logger, &Config{Host: "127.0.0.1", Port: 0}, opts...)
	require.NoError(t, err)
	return s, logger
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestNewServer(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		s, err := NewServer(&fakePipeline{}, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:8000", s.Addr())
		assert.Equal(t, 10*time.Second, s.config.ShutdownTimeout)
		assert.Equal(t, []string{"*"}, s.config.CORSOrigins)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakePipeline{}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when pipeline is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline cannot be nil")
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s, _ := newTestServer(t, &fakePipeline{stats: pipeline.Stats{DocumentsInStore: 42}}, WithVersion("1.2.3"))

		rec := do(t, s, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, HealthResponse{Status: "ok", DocumentsInStore: 42, Version: "1.2.3"}, resp)
	})

	t.Run("unavailable when the store fails", func(t *testing.T) {
		s, _ := newTestServer(t, &fakePipeline{statsErr: errdefs.StoreUnavailable("count", errors.New("down"))})

		rec := do(t, s, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"unavailable"`)
	})
}

func TestStats(t *testing.T) {
	settings := map[string]any{"chunk_size": 1000}
	s, _ := newTestServer(t, &fakePipeline{stats: pipeline.Stats{DocumentsInStore: 7, SourceFiles: 2}}, WithSettings(settings))

	rec := do(t, s, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 7, resp["documents_in_store"])
	assert.EqualValues(t, 2, resp["source_files"])
	assert.Equal(t, map[string]any{"chunk_size": float64(1000)}, resp["settings"])
}

func TestQuery(t *testing.T) {
	t.Run("answers with sources", func(t *testing.T) {
		p := &fakePipeline{queryFn: func(req pipeline.QueryRequest) (pipeline.QueryResult, error) {
			return pipeline.QueryResult{
				Answer:       "Paris.",
				ContextFound: true,
				Sources:      []pipeline.Source{{Content: "Paris is...", SourcePath: "/docs/a.txt", Similarity: 0.9}},
			}, nil
		}}
		s, _ := newTestServer(t, p)

		body := `{"question":"capital of France?","return_sources":true,"max_sources":3,
			"history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
		rec := do(t, s, http.MethodPost, "/api/v1/query", body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp pipeline.QueryResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Paris.", resp.Answer)
		assert.True(t, resp.ContextFound)
		require.Len(t, resp.Sources, 1)
		assert.Equal(t, "/docs/a.txt", resp.Sources[0].SourcePath)

		assert.Equal(t, "capital of France?", p.lastQuery.Question)
		assert.True(t, p.lastQuery.ReturnSources)
		assert.Equal(t, 3, p.lastQuery.MaxSources)
		assert.Len(t, p.lastQuery.History, 2)
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"missing question", `{}`},
			{"max_sources too large", `{"question":"q","max_sources":21}`},
			{"negative max_sources", `{"question":"q","max_sources":-1}`},
			{"malformed json", `{"question":`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				p := &fakePipeline{}
				s, _ := newTestServer(t, p)

				rec := do(t, s, http.MethodPost, "/api/v1/query", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).Error.Code)
				assert.Empty(t, p.lastQuery.Question)
			})
		}
	})

	t.Run("validation errors name the field", func(t *testing.T) {
		s, _ := newTestServer(t, &fakePipeline{})

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":""}`)
		resp := decodeError(t, rec)
		require.NotEmpty(t, resp.Error.Details)
		assert.Contains(t, resp.Error.Details[0], "Question")
	})

	t.Run("maps pipeline errors", func(t *testing.T) {
		p := &fakePipeline{queryFn: func(pipeline.QueryRequest) (pipeline.QueryResult, error) {
			return pipeline.QueryResult{}, errdefs.Provider("ollama", "generate", errors.New("model not found"))
		}}
		s, logger := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"q"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, CodeProviderFailed, decodeError(t, rec).Error.Code)
		logger.AssertLogged(t, zapcore.ErrorLevel, "request failed")
	})
}

func TestStreamQuery(t *testing.T) {
	t.Run("streams fragments then done", func(t *testing.T) {
		p := &fakePipeline{streamFn: streamFrom(t, &wordModel{answer: "Paris is the capital."}, nil)}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"capital?","stream":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
		assert.Equal(t, "no-cache", rec.Header().Get(echo.HeaderCacheControl))

		want := "data: Paris \n\n" +
			"data: is \n\n" +
			"data: the \n\n" +
			"data: capital.\n\n" +
			"event: done\ndata: {\"context_found\":true}\n\n"
		assert.Equal(t, want, rec.Body.String())
	})

	t.Run("sends sources first", func(t *testing.T) {
		sources := []pipeline.Source{{Content: "c", SourcePath: "/docs/a.md", ChunkIndex: 2, Similarity: 0.8}}
		p := &fakePipeline{streamFn: streamFrom(t, &wordModel{answer: "Yes."}, sources)}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"q","stream":true,"return_sources":true}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		require.True(t, strings.HasPrefix(body, "event: sources\ndata: "), body)
		assert.Contains(t, body, `"source_path":"/docs/a.md"`)
		assert.Less(t, strings.Index(body, "event: sources"), strings.Index(body, "data: Yes."))
	})

	t.Run("splits multi-line fragments", func(t *testing.T) {
		p := &fakePipeline{streamFn: streamFrom(t, &wordModel{answer: "first\nsecond"}, nil)}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"q","stream":true}`)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "data: first\ndata: second\n\n"), rec.Body.String())
	})

	t.Run("error before any output is a regular response", func(t *testing.T) {
		p := &fakePipeline{streamFn: streamFrom(t, &wordModel{err: errors.New("connection refused")}, nil)}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"q","stream":true}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, CodeProviderFailed, decodeError(t, rec).Error.Code)
	})

	t.Run("error after output is an error event", func(t *testing.T) {
		p := &fakePipeline{streamFn: streamFrom(t, &wordModel{err: errors.New("connection refused")}, []pipeline.Source{})}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"q","stream":true,"return_sources":true}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "event: sources\ndata: []\n\n")
		assert.Contains(t, body, "event: error\n")
		assert.Contains(t, body, `"code":"provider_failed"`)
		assert.NotContains(t, body, "event: done")
	})

	t.Run("retrieval failure", func(t *testing.T) {
		p := &fakePipeline{streamFn: func(context.Context, pipeline.QueryRequest) (*pipeline.StreamResult, error) {
			return nil, retriever.ErrEmptyQuestion
		}}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/query", `{"question":"   ","stream":true}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIngest(t *testing.T) {
	t.Run("returns the report", func(t *testing.T) {
		p := &fakePipeline{}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/ingest", `{"file_path":"/docs/a.txt","reset":true}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var report pipeline.IngestReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 3, report.Chunks)
		assert.Equal(t, pipeline.IngestRequest{FilePath: "/docs/a.txt", Reset: true}, p.lastIngest)
	})

	t.Run("empty body ingests the documents directory", func(t *testing.T) {
		p := &fakePipeline{}
		s, _ := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/ingest", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, pipeline.IngestRequest{}, p.lastIngest)
	})

	t.Run("loader failure is unprocessable", func(t *testing.T) {
		p := &fakePipeline{ingestFn: func(req pipeline.IngestRequest) (pipeline.IngestReport, error) {
			return pipeline.IngestReport{FilesFailed: 1}, &errdefs.LoaderError{Path: req.FilePath, Err: errors.New("unsupported file type")}
		}}
		s, logger := newTestServer(t, p)

		rec := do(t, s, http.MethodPost, "/api/v1/ingest", `{"file_path":"/docs/a.exe"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, CodeLoaderFailed, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "unsupported file type")
		logger.AssertLogged(t, zapcore.WarnLevel, "request rejected")
	})
}

func TestReset(t *testing.T) {
	p := &fakePipeline{}
	s, _ := newTestServer(t, p)

	rec := do(t, s, http.MethodPost, "/api/v1/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"reset"}`, rec.Body.String())
	assert.Equal(t, 1, p.resets)
}

func TestRequestID(t *testing.T) {
	p := &fakePipeline{resetErr: errdefs.StoreUnavailable("reset", errors.New("down"))}
	s, _ := newTestServer(t, p)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "req-123", decodeError(t, rec).RequestID)
}

func TestRequestLogging(t *testing.T) {
	s, logger := newTestServer(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-abc")
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	logger.AssertField(t, "http request", "status", int64(http.StatusOK))
	logger.AssertField(t, "http request", "request.id", "req-abc")
}

func TestCORS(t *testing.T) {
	logger := logging.NewTestLogger()
	s, err := NewServer(&fakePipeline{}, logger.Logger, &Config{CORSOrigins: []string{"http://localhost:3000"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set(echo.HeaderOrigin, "http://evil.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakePipeline{})

	rec := do(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeInvalidRequest, decodeError(t, rec).Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakePipeline{})

	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty question", retriever.ErrEmptyQuestion, http.StatusBadRequest, CodeInvalidRequest},
		{"bad history", generator.ErrInvalidHistory, http.StatusBadRequest, CodeInvalidRequest},
		{"loader", &errdefs.LoaderError{Path: "x", Err: errors.New("boom")}, http.StatusUnprocessableEntity, CodeLoaderFailed},
		{"store", errdefs.StoreUnavailable("query", errors.New("down")), http.StatusServiceUnavailable, CodeStoreUnavailable},
		{"retryable provider", &errdefs.ProviderError{Provider: "openai", Op: "embed", Retryable: true, Err: errors.New("429")}, http.StatusServiceUnavailable, CodeProviderFailed},
		{"permanent provider", &errdefs.ProviderError{Provider: "openai", Op: "embed", Err: errors.New("401")}, http.StatusBadGateway, CodeProviderFailed},
		{"configuration", errdefs.Configuration("bad"), http.StatusInternalServerError, CodeConfiguration},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{"echo", echo.NewHTTPError(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed, CodeInvalidRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	p := &fakePipeline{resetErr: errors.New("open /secret/path: permission denied")}
	s, _ := newTestServer(t, p)

	rec := do(t, s, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/secret/path")
}
