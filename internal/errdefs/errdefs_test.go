package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rate limited", errors.New("API returned unexpected status code: 429: Rate limit reached"), true},
		{"deadline", fmt.Errorf("calling model: %w", context.DeadlineExceeded), true},
		{"server error", errors.New("status 503: service unavailable"), true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), true},
		{"bad key", errors.New("status 401: Incorrect API key provided"), false},
		{"missing model", errors.New(`model "llama9" not found, try pulling it first`), false},
		{"unknown", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Provider("ollama", "generate", tt.err)

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.ErrorIs(t, err, ErrProvider)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestProvider_PassThrough(t *testing.T) {
	assert.NoError(t, Provider("openai", "embed", nil))

	cfgErr := Configuration("dimension %d != %d", 3, 4)
	assert.Same(t, cfgErr, Provider("openai", "embed", cfgErr))

	assert.Same(t, context.Canceled, Provider("openai", "embed", context.Canceled))

	inner := &ProviderError{Provider: "openai", Op: "embed", Retryable: true, Err: errors.New("x")}
	wrapped := fmt.Errorf("batch 2: %w", inner)
	assert.Same(t, wrapped, Provider("ollama", "generate", wrapped))
}

func TestStoreUnavailable(t *testing.T) {
	assert.NoError(t, StoreUnavailable("query", nil))
	assert.Same(t, context.Canceled, StoreUnavailable("query", context.Canceled))

	cause := errors.New("disk full")
	err := StoreUnavailable("upsert", cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upsert")
	assert.True(t, IsRetryable(err))
}

func TestLoaderError(t *testing.T) {
	cause := errors.New("permission denied")
	err := fmt.Errorf("ingest: %w", &LoaderError{Path: "/docs/a.pdf", Err: cause})

	assert.ErrorIs(t, err, ErrLoader)
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsRetryable(err))

	var le *LoaderError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "/docs/a.pdf", le.Path)
}

func TestConfiguration(t *testing.T) {
	err := Configuration("chunk_overlap (%d) must be smaller than chunk_size (%d)", 200, 100)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.EqualError(t, err, "configuration error: chunk_overlap (200) must be smaller than chunk_size (100)")
}
