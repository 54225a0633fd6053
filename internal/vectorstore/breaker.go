package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

// BreakerConfig tunes the circuit breaker in front of remote backends.
type BreakerConfig struct {
	// ConsecutiveFailures opens the breaker. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration
}

// breaker fails fast while a remote backend is down. It never retries.
type breaker struct {
	provider string
	cb       *gobreaker.CircuitBreaker
}

func newBreaker(provider string, cfg BreakerConfig, logger *zap.Logger) *breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	threshold := cfg.ConsecutiveFailures

	BreakerState.WithLabelValues(provider).Set(0)
	return &breaker{
		provider: provider,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Caller mistakes and cancellations say nothing about backend health.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, context.Canceled) ||
					errors.Is(err, errdefs.ErrConfiguration)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				BreakerState.WithLabelValues(name).Set(float64(to))
				logger.Warn("vector store circuit breaker state change",
					zap.String("provider", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}
}

// run executes fn through the breaker and maps backend failures to
// errdefs.ErrStoreUnavailable.
func run[T any](b *breaker, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := b.cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	observe(b.provider, op, start, err)

	if err != nil {
		var zero T
		if errors.Is(err, errdefs.ErrConfiguration) {
			return zero, err
		}
		return zero, errdefs.StoreUnavailable(b.provider+" "+op, err)
	}
	return out.(T), nil
}

// exec is run for operations without a result.
func exec(b *breaker, op string, fn func() error) error {
	_, err := run(b, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
