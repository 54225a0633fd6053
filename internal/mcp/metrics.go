package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/mcp"

// Metrics records tool calls. Instruments that fail to register are nil and
// skipped.
type Metrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	sources  metric.Int64Histogram
}

// NewMetrics registers the tool instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	var (
		m   Metrics
		err error
	)
	m.calls, err = meter.Int64Counter("ragd.mcp.tool.calls_total",
		metric.WithDescription("Tool calls by tool and outcome"),
		metric.WithUnit("{call}"))
	warn("calls", err)

	m.duration, err = meter.Float64Histogram("ragd.mcp.tool.duration_seconds",
		metric.WithDescription("Tool call latency; rag_query includes generation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120))
	warn("duration", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragd.mcp.tool.in_flight",
		metric.WithDescription("Tool calls currently running"),
		metric.WithUnit("{call}"))
	warn("in_flight", err)

	m.sources, err = meter.Int64Histogram("ragd.mcp.query.sources",
		metric.WithDescription("Sources returned per rag_query call"),
		metric.WithUnit("{source}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20))
	warn("sources", err)

	return &m
}

// begin marks a call of tool as running. The returned func records its
// outcome and must be called exactly once.
func (m *Metrics) begin(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}

	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		outcome := "ok"
		if err != nil {
			outcome = categorizeError(err)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome),
			))
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), toolAttr)
		}
	}
}

// recordSources records how many sources a rag_query call returned.
func (m *Metrics) recordSources(ctx context.Context, n int) {
	if m.sources != nil {
		m.sources.Record(ctx, int64(n))
	}
}

// categorizeError maps an error to a low-cardinality outcome label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errdefs.ErrLoader):
		return "loader_error"
	case errors.Is(err, errdefs.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, errdefs.ErrProvider):
		return "provider_error"
	case errors.Is(err, errdefs.ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case strings.Contains(strings.ToLower(err.Error()), "invalid"):
		return "validation_error"
	default:
		return "internal_error"
	}
}
