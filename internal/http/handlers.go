package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

func (s *Server) handleHealth(c echo.Context) error {
	stats, err := s.pipeline.Stats(c.Request().Context())
	if err != nil {
		s.logger.Warn(c.Request().Context(), "health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Version: s.version})
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:           "ok",
		DocumentsInStore: stats.DocumentsInStore,
		Version:          s.version,
	})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pipeline.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatsResponse{Stats: stats, Settings: s.settings})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if req.Stream {
		return s.streamQuery(c, req)
	}

	result, err := s.pipeline.Query(c.Request().Context(), req.toPipeline())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// streamQuery replies with Server-Sent Events: an optional "sources" event,
// one unnamed event per answer fragment and a final "done" event. Errors
// after the first byte are sent as an "error" event.
func (s *Server) streamQuery(c echo.Context, req QueryRequest) error {
	ctx := c.Request().Context()

	result, err := s.pipeline.StreamQuery(ctx, req.toPipeline())
	if err != nil {
		return err
	}
	defer result.Stream.Close()

	w := newSSEWriter(c.Response())
	if req.ReturnSources {
		sources := result.Sources
		if sources == nil {
			sources = []pipeline.Source{}
		}
		if err := w.event("sources", sources); err != nil {
			return nil
		}
	}

	for {
		fragment, err := result.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !w.started {
			// Nothing sent yet; reply with a regular error response.
			return err
		}
		if err != nil {
			status, code := classify(err)
			s.logger.Error(ctx, "answer stream failed", zap.Int("status", status), zap.Error(err))
			_ = w.event("error", errorBody(err, status, code))
			return nil
		}
		if err := w.data(fragment); err != nil {
			// Client went away; Close cancels the producer.
			s.logger.Debug(ctx, "stream client disconnected", zap.Error(err))
			return nil
		}
	}

	_ = w.event("done", StreamDone{ContextFound: result.ContextFound})
	return nil
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	report, err := s.pipeline.Ingest(c.Request().Context(), pipeline.IngestRequest{
		FilePath: req.FilePath,
		Reset:    req.Reset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.pipeline.ResetVectorStore(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResetResponse{Status: "reset"})
}
