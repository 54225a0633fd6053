package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestedChunks counts chunks written to the index.
	IngestedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks embedded and stored",
		},
	)

	// IngestedFiles counts files seen by ingest.
	// Labels: result (ok, failed)
	IngestedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of files processed by ingest",
		},
		[]string{"result"},
	)

	// RedactedSecrets counts secrets removed before indexing.
	RedactedSecrets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "ingest",
			Name:      "redacted_secrets_total",
			Help:      "Total number of secrets redacted from documents before indexing",
		},
	)

	// QueryDuration tracks end-to-end query latency.
	// Labels: mode (single, stream)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Duration of RAG queries in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	// EmptyContextAnswers counts queries answered without any context.
	EmptyContextAnswers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "query",
			Name:      "empty_context_total",
			Help:      "Total number of queries where no chunk passed the similarity threshold",
		},
	)

	// ProviderErrors counts embedding and generation failures.
	// Labels: stage (ingest, query), retryable (true, false)
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Name:      "provider_errors_total",
			Help:      "Total number of embedding or generation provider errors",
		},
		[]string{"stage", "retryable"},
	)
)
