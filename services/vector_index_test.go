package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qa-agent/models"
)

// indexFactories builds each VectorIndex backend fresh for the shared
// contract tests. Chroma needs a running server and is exercised against the
// same contract in integration environments.
func indexFactories(t *testing.T) map[string]func(t *testing.T) VectorIndex {
	t.Helper()
	return map[string]func(t *testing.T) VectorIndex{
		"memory": func(t *testing.T) VectorIndex {
			return NewMemoryVectorIndex()
		},
		"sqlite": func(t *testing.T) VectorIndex {
			idx, err := NewSQLiteVectorIndex(filepath.Join(t.TempDir(), "index.db"))
			require.NoError(t, err)
			t.Cleanup(func() { idx.Close() })
			return idx
		},
	}
}

func entry(id, source string, st models.SourceType, seq int, text string, vec []float32) models.IndexEntry {
	return models.IndexEntry{
		Chunk: models.Chunk{
			ID:            id,
			Text:          text,
			SourceName:    source,
			SourceType:    st,
			SequenceIndex: seq,
		},
		Vector: vec,
	}
}

func TestVectorIndexOrdersBySimilarity(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "doc.md", models.SourceSupportDoc, 0, "orthogonal", []float32{0, 1}),
				entry("b", "doc.md", models.SourceSupportDoc, 1, "exact", []float32{1, 0}),
				entry("c", "doc.md", models.SourceSupportDoc, 2, "diagonal", []float32{1, 1}),
			}))

			scored, err := idx.Query(ctx, []float32{1, 0}, 3, "")
			require.NoError(t, err)
			require.Len(t, scored, 3)

			assert.Equal(t, "b", scored[0].Chunk.ID)
			assert.Equal(t, "c", scored[1].Chunk.ID)
			assert.Equal(t, "a", scored[2].Chunk.ID)
			for i := 1; i < len(scored); i++ {
				assert.GreaterOrEqual(t, scored[i-1].Similarity, scored[i].Similarity,
					"similarity must be non-increasing")
			}
			assert.InDelta(t, 1.0, float64(scored[0].Similarity), 1e-6)
		})
	}
}

func TestVectorIndexBreaksTiesDeterministically(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			// Same direction, so every entry ties at similarity 1.
			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "zeta.md", models.SourceSupportDoc, 2, "", []float32{2, 0}),
				entry("b", "alpha.md", models.SourceSupportDoc, 2, "", []float32{1, 0}),
				entry("c", "alpha.md", models.SourceSupportDoc, 0, "", []float32{3, 0}),
			}))

			scored, err := idx.Query(ctx, []float32{1, 0}, 3, "")
			require.NoError(t, err)
			require.Len(t, scored, 3)

			// Sequence index first, then source name.
			assert.Equal(t, "c", scored[0].Chunk.ID)
			assert.Equal(t, "b", scored[1].Chunk.ID)
			assert.Equal(t, "a", scored[2].Chunk.ID)
		})
	}
}

func TestVectorIndexClampsTopK(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "doc.md", models.SourceSupportDoc, 0, "", []float32{1, 0}),
				entry("b", "doc.md", models.SourceSupportDoc, 1, "", []float32{0, 1}),
			}))

			scored, err := idx.Query(ctx, []float32{1, 0}, 10, "")
			require.NoError(t, err)
			assert.Len(t, scored, 2)

			scored, err = idx.Query(ctx, []float32{1, 0}, 1, "")
			require.NoError(t, err)
			assert.Len(t, scored, 1)

			scored, err = idx.Query(ctx, []float32{1, 0}, 0, "")
			require.NoError(t, err)
			assert.Empty(t, scored)
		})
	}
}

func TestVectorIndexFiltersBySourceType(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("doc", "policy.md", models.SourceSupportDoc, 0, "", []float32{1, 0}),
				entry("page", "target_page.html", models.SourceHTML, 0, "", []float32{1, 0}),
			}))

			scored, err := idx.Query(ctx, []float32{1, 0}, 10, models.SourceSupportDoc)
			require.NoError(t, err)
			require.Len(t, scored, 1)
			assert.Equal(t, "doc", scored[0].Chunk.ID)

			scored, err = idx.Query(ctx, []float32{1, 0}, 10, models.SourceHTML)
			require.NoError(t, err)
			require.Len(t, scored, 1)
			assert.Equal(t, "page", scored[0].Chunk.ID)

			scored, err = idx.Query(ctx, []float32{1, 0}, 10, "")
			require.NoError(t, err)
			assert.Len(t, scored, 2)
		})
	}
}

func TestVectorIndexReplacesByChunkID(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "doc.md", models.SourceSupportDoc, 0, "old text", []float32{0, 1}),
			}))
			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "doc.md", models.SourceSupportDoc, 0, "new text", []float32{1, 0}),
			}))

			count, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			scored, err := idx.Query(ctx, []float32{1, 0}, 1, "")
			require.NoError(t, err)
			require.Len(t, scored, 1)
			assert.Equal(t, "new text", scored[0].Chunk.Text)
			assert.InDelta(t, 1.0, float64(scored[0].Similarity), 1e-6)
		})
	}
}

func TestVectorIndexEmptyQueryAndReset(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			scored, err := idx.Query(ctx, []float32{1, 0}, 5, "")
			require.NoError(t, err)
			assert.Empty(t, scored)

			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "doc.md", models.SourceSupportDoc, 0, "", []float32{1, 0}),
			}))
			require.NoError(t, idx.Reset(ctx))

			count, err := idx.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)

			// After a reset the index accepts a different dimensionality.
			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("b", "doc.md", models.SourceSupportDoc, 0, "", []float32{1, 0, 0}),
			}))
		})
	}
}

func TestVectorIndexRejectsDimensionMismatch(t *testing.T) {
	for name, newIndex := range indexFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := newIndex(t)

			require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
				entry("a", "doc.md", models.SourceSupportDoc, 0, "", []float32{1, 0}),
			}))

			err := idx.Upsert(ctx, []models.IndexEntry{
				entry("b", "doc.md", models.SourceSupportDoc, 1, "", []float32{1, 0, 0}),
			})
			var mismatch *IndexDimensionMismatchError
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, 2, mismatch.IndexDim)
			assert.Equal(t, 3, mismatch.GotDim)

			_, err = idx.Query(ctx, []float32{1, 0, 0}, 5, "")
			require.ErrorAs(t, err, &mismatch)
		})
	}
}

func TestSQLiteIndexPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := NewSQLiteVectorIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, []models.IndexEntry{
		entry("a", "policy.md", models.SourceSupportDoc, 0, "free shipping over $50", []float32{1, 0}),
		entry("b", "policy.md", models.SourceSupportDoc, 1, "returns within 30 days", []float32{0, 1}),
	}))
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteVectorIndex(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	scored, err := reopened.Query(ctx, []float32{1, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, scored, 1)
	assert.Equal(t, "free shipping over $50", scored[0].Chunk.Text)

	// The persisted dimension still guards queries after a restart.
	var mismatch *IndexDimensionMismatchError
	_, err = reopened.Query(ctx, []float32{1, 0, 0}, 1, "")
	require.ErrorAs(t, err, &mismatch)
}
