package services

import (
	"context"
	"fmt"

	"qa-agent/models"
)

// DefaultTopK is how many chunks a retrieval pulls when the caller has no
// stronger opinion.
const DefaultTopK = 5

// Retriever embeds a query and returns the most similar chunks. Similarity
// scores are dropped here; downstream consumers only see ordered text. The
// embedder must be the same instance used at ingestion, otherwise the index
// rejects the query with a dimension mismatch.
type Retriever struct {
	embedder Embedder
	index    VectorIndex
}

// NewRetriever wires a retriever over an embedder and index pair.
func NewRetriever(embedder Embedder, index VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns up to topK chunks ordered by descending similarity. An
// empty filter searches every source type.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter models.SourceType) ([]models.Chunk, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	scored, err := r.index.Query(ctx, vector, topK, filter)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, len(scored))
	for i, hit := range scored {
		chunks[i] = hit.Chunk
	}
	return chunks, nil
}
