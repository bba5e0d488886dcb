package services

import (
	"context"
	"math"
	"sort"
	"sync"

	"qa-agent/models"
)

// VectorIndex is a persistent chunk-id → (vector, text, metadata) store with
// nearest-neighbor search. Implementations must order query results by
// descending similarity, breaking ties by ascending sequence index and then
// source name, and must clamp topK to the number of stored entries. Writes and
// reads against different embedding dimensions fail with
// IndexDimensionMismatchError instead of producing meaningless scores.
type VectorIndex interface {
	// Upsert writes entries keyed by chunk id, replacing any existing entry
	// with the same id.
	Upsert(ctx context.Context, entries []models.IndexEntry) error
	// Query returns the topK most similar chunks. An empty filter matches all
	// source types. Querying an empty index returns an empty result.
	Query(ctx context.Context, vector []float32, topK int, filter models.SourceType) ([]models.ScoredChunk, error)
	// Count reports the number of stored entries.
	Count(ctx context.Context) (int, error)
	// Reset removes every entry and forgets the persisted dimension.
	Reset(ctx context.Context) error
	Close() error
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Zero-norm inputs score 0.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// sortScored applies the deterministic result ordering shared by all backends.
func sortScored(scored []models.ScoredChunk) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		if scored[i].Chunk.SequenceIndex != scored[j].Chunk.SequenceIndex {
			return scored[i].Chunk.SequenceIndex < scored[j].Chunk.SequenceIndex
		}
		return scored[i].Chunk.SourceName < scored[j].Chunk.SourceName
	})
}

// rankEntries scores entries against the query vector, filters by source type,
// orders deterministically and clamps to topK. Used by the in-process backends.
func rankEntries(entries []models.IndexEntry, vector []float32, topK int, filter models.SourceType) []models.ScoredChunk {
	scored := make([]models.ScoredChunk, 0, len(entries))
	for _, entry := range entries {
		if filter != "" && entry.Chunk.SourceType != filter {
			continue
		}
		scored = append(scored, models.ScoredChunk{
			Chunk:      entry.Chunk,
			Similarity: cosineSimilarity(vector, entry.Vector),
		})
	}
	sortScored(scored)
	if topK < 0 {
		topK = 0
	}
	if topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK]
}

// memoryIndex is an in-process VectorIndex. It does not survive restarts and
// is meant for ephemeral runs and tests.
type memoryIndex struct {
	mu      sync.RWMutex
	byID    map[string]int
	entries []models.IndexEntry
	dim     int
}

var _ VectorIndex = (*memoryIndex)(nil)

// NewMemoryVectorIndex creates an empty in-process index.
func NewMemoryVectorIndex() VectorIndex {
	return &memoryIndex{byID: make(map[string]int)}
}

func (m *memoryIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		if m.dim == 0 {
			m.dim = len(entry.Vector)
		} else if len(entry.Vector) != m.dim {
			return &IndexDimensionMismatchError{IndexDim: m.dim, GotDim: len(entry.Vector)}
		}
		if i, ok := m.byID[entry.Chunk.ID]; ok {
			m.entries[i] = entry
			continue
		}
		m.byID[entry.Chunk.ID] = len(m.entries)
		m.entries = append(m.entries, entry)
	}
	return nil
}

func (m *memoryIndex) Query(ctx context.Context, vector []float32, topK int, filter models.SourceType) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) != m.dim {
		return nil, &IndexDimensionMismatchError{IndexDim: m.dim, GotDim: len(vector)}
	}
	return rankEntries(m.entries, vector, topK, filter), nil
}

func (m *memoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *memoryIndex) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID = make(map[string]int)
	m.entries = nil
	m.dim = 0
	return nil
}

func (m *memoryIndex) Close() error { return nil }
