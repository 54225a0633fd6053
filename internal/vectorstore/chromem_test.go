package vectorstore_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// unit returns a normalized 3-d vector at angle degrees in the xy-plane.
func unit(degrees float64) []float32 {
	rad := degrees * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad)), 0}
}

func testChunk(source string, i int) document.Chunk {
	return document.Chunk{
		ID:      document.ChunkID(source, i),
		Content: fmt.Sprintf("%s chunk %d", source, i),
		Metadata: map[string]any{
			document.MetaSourcePath: source,
			document.MetaChunkIndex: i,
			document.MetaFileType:   "txt",
		},
	}
}

func newChromem(t *testing.T, dir string) *vectorstore.ChromemIndex {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		Path:       dir,
		Collection: "test_docs",
		Dimension:  3,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestChromemIndex_UpsertQueryOrder(t *testing.T) {
	ctx := context.Background()
	idx := newChromem(t, t.TempDir())

	chunks := []document.Chunk{testChunk("/a.txt", 0), testChunk("/a.txt", 1), testChunk("/b.txt", 0)}
	embeddings := [][]float32{unit(60), unit(10), unit(120)}
	require.NoError(t, idx.Upsert(ctx, chunks, embeddings))

	matches, err := idx.Query(ctx, unit(0), 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	assert.Equal(t, chunks[1].ID, matches[0].Chunk.ID)
	assert.Equal(t, chunks[0].ID, matches[1].Chunk.ID)
	assert.Equal(t, chunks[2].ID, matches[2].Chunk.ID)

	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i-1].Distance, matches[i].Distance)
	}
	assert.InDelta(t, 1-math.Cos(10*math.Pi/180), matches[0].Distance, 1e-4)
	assert.InDelta(t, 1.5, matches[2].Distance, 1e-4)

	top := matches[0].Chunk
	assert.Equal(t, "/a.txt chunk 1", top.Content)
	assert.Equal(t, "/a.txt", top.SourcePath())
	assert.Equal(t, 1, top.Index())
	assert.Equal(t, 1, top.Metadata[document.MetaChunkIndex])
	assert.Equal(t, "txt", top.Metadata[document.MetaFileType])
}

func TestChromemIndex_QueryCapsK(t *testing.T) {
	ctx := context.Background()
	idx := newChromem(t, t.TempDir())

	matches, err := idx.Query(ctx, unit(0), 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, idx.Upsert(ctx, []document.Chunk{testChunk("/a.txt", 0)}, [][]float32{unit(0)}))

	matches, err = idx.Query(ctx, unit(0), 5)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	_, err = idx.Query(ctx, unit(0), 0)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestChromemIndex_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	idx := newChromem(t, t.TempDir())

	c := testChunk("/a.txt", 0)
	require.NoError(t, idx.Upsert(ctx, []document.Chunk{c}, [][]float32{unit(0)}))

	c.Content = "rewritten"
	require.NoError(t, idx.Upsert(ctx, []document.Chunk{c}, [][]float32{unit(30)}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := idx.Query(ctx, unit(30), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "rewritten", matches[0].Chunk.Content)
}

func TestChromemIndex_DeleteSource(t *testing.T) {
	ctx := context.Background()
	idx := newChromem(t, t.TempDir())

	// Deleting from an empty collection is a no-op.
	require.NoError(t, idx.DeleteSource(ctx, "/a.txt"))

	chunks := []document.Chunk{testChunk("/a.txt", 0), testChunk("/a.txt", 1), testChunk("/b.txt", 0)}
	require.NoError(t, idx.Upsert(ctx, chunks, [][]float32{unit(0), unit(10), unit(20)}))

	require.NoError(t, idx.DeleteSource(ctx, "/a.txt"))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := idx.Query(ctx, unit(0), 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "/b.txt", matches[0].Chunk.SourcePath())

	require.NoError(t, idx.DeleteSource(ctx, "/missing.txt"))
	assert.ErrorIs(t, idx.DeleteSource(ctx, ""), errdefs.ErrConfiguration)
}

func TestChromemIndex_ResetIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := newChromem(t, t.TempDir())

	require.NoError(t, idx.Reset(ctx))

	require.NoError(t, idx.Upsert(ctx,
		[]document.Chunk{testChunk("/a.txt", 0), testChunk("/a.txt", 1)},
		[][]float32{unit(0), unit(45)}))
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, idx.Reset(ctx))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, idx.Reset(ctx))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Still usable after reset.
	require.NoError(t, idx.Upsert(ctx, []document.Chunk{testChunk("/c.txt", 0)}, [][]float32{unit(0)}))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChromemIndex_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx := newChromem(t, dir)
	require.NoError(t, idx.Upsert(ctx,
		[]document.Chunk{testChunk("/a.txt", 0), testChunk("/a.txt", 1)},
		[][]float32{unit(0), unit(90)}))
	require.NoError(t, idx.Close())

	reopened := newChromem(t, dir)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChromemIndex_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := newChromem(t, t.TempDir())

	err := idx.Upsert(ctx, []document.Chunk{testChunk("/a.txt", 0)}, [][]float32{{1, 0, 0, 0}})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)

	_, err = idx.Query(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)

	err = idx.Upsert(ctx, []document.Chunk{testChunk("/a.txt", 0)}, nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestChromemIndex_EmptyUpsert(t *testing.T) {
	idx := newChromem(t, t.TempDir())
	assert.NoError(t, idx.Upsert(context.Background(), nil, nil))
}

func TestNewChromemIndex_Validation(t *testing.T) {
	_, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{Path: t.TempDir(), Collection: "Bad-Name"}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)

	_, err = vectorstore.NewChromemIndex(vectorstore.ChromemConfig{}, nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
}

func TestNew_Factory(t *testing.T) {
	ctx := context.Background()

	idx, err := vectorstore.New(ctx, vectorstore.Config{Path: t.TempDir(), Dimension: 3}, nil)
	require.NoError(t, err)
	assert.IsType(t, &vectorstore.ChromemIndex{}, idx)
	require.NoError(t, idx.Close())

	idx, err = vectorstore.New(ctx, vectorstore.Config{Provider: "faiss"}, nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
	assert.Nil(t, idx)

	idx, err = vectorstore.New(ctx, vectorstore.Config{Provider: "pgvector", Dimension: 3}, nil)
	assert.ErrorIs(t, err, errdefs.ErrConfiguration)
	assert.Nil(t, idx)
}
