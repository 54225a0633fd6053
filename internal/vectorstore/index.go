// Package vectorstore persists chunk embeddings and answers nearest-neighbour
// queries.
//
// Three backends implement Index: chromem-go (embedded, default), Qdrant
// (gRPC) and PostgreSQL with pgvector. All of them use cosine distance, so a
// returned Match.Distance lies in [0, 2] with 0 meaning identical direction.
// Backends never retry; every failure surfaces as errdefs.ErrStoreUnavailable
// except dimension mismatches, which are configuration errors.
package vectorstore

import (
	"context"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from
	// the index dimension. It wraps errdefs.ErrConfiguration.
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", errdefs.ErrConfiguration)

	// ErrInvalidCollectionName is returned for names outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = fmt.Errorf("%w: invalid collection name", errdefs.ErrConfiguration)
)

// Match is one query result.
type Match struct {
	Chunk document.Chunk
	// Distance is the cosine distance to the query vector.
	Distance float64
}

// Index stores chunks with their embeddings.
type Index interface {
	// Upsert stores chunks[i] with embeddings[i], replacing records that share an ID.
	Upsert(ctx context.Context, chunks []document.Chunk, embeddings [][]float32) error
	// Query returns up to k records ordered by increasing distance.
	Query(ctx context.Context, embedding []float32, k int) ([]Match, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// DeleteSource deletes every record whose source_path metadata equals
	// sourcePath. Deleting an unknown source is not an error.
	DeleteSource(ctx context.Context, sourcePath string) error
	// Reset deletes every record. Resetting an empty index is not an error.
	Reset(ctx context.Context) error
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names that are unsafe as directory or table names.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateUpsert(chunks []document.Chunk, embeddings [][]float32, dimension int) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("%w: %d chunks but %d embeddings", errdefs.ErrConfiguration, len(chunks), len(embeddings))
	}
	for i, e := range embeddings {
		if err := checkDimension(e, dimension); err != nil {
			return fmt.Errorf("chunk %s: %w", chunks[i].ID, err)
		}
	}
	return nil
}

func checkDimension(v []float32, dimension int) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if dimension > 0 && len(v) != dimension {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(v), dimension)
	}
	return nil
}
