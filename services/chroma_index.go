package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"qa-agent/models"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

// chromaIndex stores the vector index in a Chroma collection (v2 API). Every
// chunk field travels in document metadata so query results can be rebuilt
// without a second lookup; the embedding dimension is recorded there too and
// recovered from persisted collections on startup.
type chromaIndex struct {
	client     chromago.Client
	collection chromago.Collection
	name       string
	dim        int
}

var _ VectorIndex = (*chromaIndex)(nil)

// NewChromaVectorIndex connects to a Chroma server and binds (or creates) the
// named collection. An empty baseURL uses the client default (localhost:8000).
func NewChromaVectorIndex(ctx context.Context, baseURL, collectionName string) (VectorIndex, error) {
	var (
		client chromago.Client
		err    error
	)
	if baseURL != "" {
		client, err = chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	} else {
		client, err = chromago.NewHTTPClient()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	collection, err := ensureCollection(ctx, client, collectionName)
	if err != nil {
		client.Close()
		return nil, err
	}

	idx := &chromaIndex{client: client, collection: collection, name: collectionName}
	if err := idx.recoverDimension(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

// ensureCollection gets or creates the collection with cosine distance, so
// query distances convert directly to cosine similarities.
func ensureCollection(ctx context.Context, client chromago.Client, name string) (chromago.Collection, error) {
	collection, err := client.GetOrCreateCollection(
		ctx,
		name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", "cosine"),
				chromago.NewStringAttribute("created_by", "qa_agent"),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection %q: %w", name, err)
	}
	return collection, nil
}

// recoverDimension reads the embedding dimension recorded in any persisted
// document's metadata. Chroma would otherwise accept a mixed-dimension write
// only by failing deep inside the server.
func (c *chromaIndex) recoverDimension(ctx context.Context) error {
	results, err := c.collection.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect collection %q: %w", c.name, err)
	}
	for _, meta := range results.GetMetadatas() {
		metaMap := metadataToMap(meta)
		if dim, ok := metaMap["dimension"].(float64); ok && dim > 0 {
			c.dim = int(dim)
			return nil
		}
	}
	return nil
}

func (c *chromaIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	for _, entry := range entries {
		if c.dim == 0 {
			c.dim = len(entry.Vector)
		} else if len(entry.Vector) != c.dim {
			return &IndexDimensionMismatchError{IndexDim: c.dim, GotDim: len(entry.Vector)}
		}

		embedding := embeddings.NewEmbeddingFromFloat32(entry.Vector)
		metadata := chromago.NewDocumentMetadata(
			chromago.NewStringAttribute("chunk_id", entry.Chunk.ID),
			chromago.NewStringAttribute("source_name", entry.Chunk.SourceName),
			chromago.NewStringAttribute("source_type", string(entry.Chunk.SourceType)),
			chromago.NewIntAttribute("sequence_index", int64(entry.Chunk.SequenceIndex)),
			chromago.NewIntAttribute("dimension", int64(len(entry.Vector))),
		)
		err := c.collection.Add(ctx,
			chromago.WithIDs(chromago.DocumentID(entry.Chunk.ID)),
			chromago.WithTexts(entry.Chunk.Text),
			chromago.WithEmbeddings(embedding),
			chromago.WithMetadatas(metadata),
		)
		if err != nil {
			return fmt.Errorf("failed to add chunk %s to chromadb: %w", entry.Chunk.ID, err)
		}
	}
	return nil
}

func (c *chromaIndex) Query(ctx context.Context, vector []float32, topK int, filter models.SourceType) ([]models.ScoredChunk, error) {
	count, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}
	if count == 0 || topK <= 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) != c.dim && c.dim != 0 {
		return nil, &IndexDimensionMismatchError{IndexDim: c.dim, GotDim: len(vector)}
	}
	if topK > count {
		topK = count
	}

	opts := []chromago.CollectionQueryOption{
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(topK),
	}
	if filter != "" {
		opts = append(opts, chromago.WithWhereQuery(chromago.EqString("source_type", string(filter))))
	}

	results, err := c.collection.Query(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromadb: %w", err)
	}

	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()
	if len(documentGroups) == 0 {
		return []models.ScoredChunk{}, nil
	}

	scored := make([]models.ScoredChunk, 0, len(documentGroups[0]))
	for i, doc := range documentGroups[0] {
		if doc.ContentString() == "" {
			continue
		}
		chunk := models.Chunk{Text: doc.ContentString()}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			metaMap := metadataToMap(metadataGroups[0][i])
			if v, ok := metaMap["chunk_id"].(string); ok {
				chunk.ID = v
			}
			if v, ok := metaMap["source_name"].(string); ok {
				chunk.SourceName = v
			}
			if v, ok := metaMap["source_type"].(string); ok {
				chunk.SourceType = models.SourceType(v)
			}
			if v, ok := metaMap["sequence_index"].(float64); ok {
				chunk.SequenceIndex = int(v)
			}
		}
		similarity := float32(0)
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			// Collection runs in cosine space, so distance = 1 - similarity.
			similarity = 1 - float32(distanceGroups[0][i])
		}
		scored = append(scored, models.ScoredChunk{Chunk: chunk, Similarity: similarity})
	}

	sortScored(scored)
	if topK > len(scored) {
		topK = len(scored)
	}
	return scored[:topK], nil
}

func (c *chromaIndex) Count(ctx context.Context) (int, error) {
	count, err := c.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in collection: %w", err)
	}
	return int(count), nil
}

// Reset drops and recreates the collection. Deleting the collection (rather
// than its documents) also clears any persisted dimension, matching the
// rebuild-from-scratch semantics of the other backends.
func (c *chromaIndex) Reset(ctx context.Context) error {
	if err := c.client.DeleteCollection(ctx, c.name); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", c.name, err)
	}
	collection, err := ensureCollection(ctx, c.client, c.name)
	if err != nil {
		return err
	}
	c.collection = collection
	c.dim = 0
	return nil
}

func (c *chromaIndex) Close() error {
	if err := c.client.Close(); err != nil {
		log.Printf("WARN: failed to close chroma client: %v", err)
		return err
	}
	return nil
}

// metadataToMap converts chroma document metadata into a plain map. The
// DocumentMetadata type exposes no direct value accessors, so the conversion
// goes through a JSON round-trip.
func metadataToMap(meta chromago.DocumentMetadata) map[string]interface{} {
	metaMap := make(map[string]interface{})
	if meta == nil {
		return metaMap
	}
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		log.Printf("WARN: could not marshal document metadata: %v", err)
		return metaMap
	}
	if err := json.Unmarshal(jsonBytes, &metaMap); err != nil {
		log.Printf("WARN: could not unmarshal document metadata: %v", err)
		return make(map[string]interface{})
	}
	return metaMap
}
