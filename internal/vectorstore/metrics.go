package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks index call latency.
	// Labels: provider (chromem, qdrant, pgvector), operation (upsert, query, count, reset)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// OperationErrors counts failed index calls.
	// Labels: provider, operation
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector index operations",
		},
		[]string{"provider", "operation"},
	)

	// BreakerState reports the circuit breaker state per provider
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)
)

func observe(provider, operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(provider, operation).Inc()
	}
}
