// Package errdefs defines the error kinds shared across ragd.
//
// Every failure that crosses a package boundary wraps one of the sentinel
// errors below so callers can branch with errors.Is / errors.As:
//
//	ErrConfiguration     invalid settings, dimension mismatch, missing credentials
//	ErrLoader            a single document could not be read (see LoaderError)
//	ErrStoreUnavailable  the vector index could not be reached or failed
//	ErrProvider          an embedding or generation call failed (see ProviderError)
//
// An empty retrieval result is not an error.
package errdefs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrConfiguration indicates invalid or inconsistent configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrLoader indicates a document could not be loaded.
	ErrLoader = errors.New("loader error")

	// ErrStoreUnavailable indicates the vector index failed.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrProvider indicates an embedding or language model call failed.
	ErrProvider = errors.New("provider error")
)

// Configuration returns an error wrapping ErrConfiguration.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// StoreUnavailable wraps err as ErrStoreUnavailable for the named operation.
// Context cancellation is passed through unchanged.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// LoaderError records a failure to load one file.
type LoaderError struct {
	Path string
	Err  error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }

// Is reports ErrLoader as a match so errors.Is(err, ErrLoader) works.
func (e *LoaderError) Is(target error) bool { return target == ErrLoader }

// ProviderError records a failed call to an embedding or generation provider.
type ProviderError struct {
	Provider  string
	Op        string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "non-retryable"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s %s failed (%s): %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports ErrProvider as a match so errors.Is(err, ErrProvider) works.
func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// Provider wraps err as a ProviderError, classifying whether a caller may retry.
// Errors that already are ProviderErrors, configuration errors and context
// cancellation are returned unchanged.
func Provider(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) || errors.Is(err, ErrConfiguration) || errors.Is(err, context.Canceled) {
		return err
	}
	return &ProviderError{
		Provider:  provider,
		Op:        op,
		Retryable: isTransient(err),
		Err:       err,
	}
}

// IsRetryable reports whether the whole operation that produced err may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, ErrStoreUnavailable)
}

// transientMarkers are lower-cased fragments that identify rate limiting,
// timeouts and server-side failures in provider error messages.
var transientMarkers = []string{
	"429", "rate limit", "too many requests",
	"500", "502", "503", "504", "bad gateway", "service unavailable", "gateway timeout",
	"timeout", "timed out", "connection refused", "connection reset", "eof",
	"overloaded", "temporarily unavailable",
}

// permanentMarkers take precedence over transientMarkers.
var permanentMarkers = []string{
	"401", "403", "unauthorized", "forbidden", "invalid api key", "incorrect api key",
	"authentication", "permission denied", "400", "bad request", "model not found", "404",
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
