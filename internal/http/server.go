// Package http serves the ragd REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// Pipeline is the subset of *pipeline.Pipeline the API serves.
type Pipeline interface {
	Query(ctx context.Context, req pipeline.QueryRequest) (pipeline.QueryResult, error)
	StreamQuery(ctx context.Context, req pipeline.QueryRequest) (*pipeline.StreamResult, error)
	Ingest(ctx context.Context, req pipeline.IngestRequest) (pipeline.IngestReport, error)
	ResetVectorStore(ctx context.Context) error
	Stats(ctx context.Context) (pipeline.Stats, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// Server provides the ragd HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	pipeline Pipeline
	logger   *logging.Logger
	config   *Config
	settings any
	version  string
}

// Option configures a Server.
type Option func(*Server)

// WithSettings sets the settings snapshot reported by /api/v1/stats. The
// value is JSON-encoded as is, so secrets must marshal redacted.
func WithSettings(settings any) Option {
	return func(s *Server) { s.settings = settings }
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// NewServer creates the server and registers its routes.
func NewServer(p Pipeline, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8000}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New(validator.WithRequiredStructEnabled())}

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(NewHTTPMetrics(s.logger.Underlying()).MetricsMiddleware())
	e.Use(s.requestLogger())

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.POST("/query", s.handleQuery)
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/reset", s.handleReset)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Resolve the status now so that it is logged.
				c.Error(err)
			}
			s.logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start serves until ctx is cancelled, then shuts down within the
// configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := s.Addr()
	s.logger.Info(ctx, "starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
