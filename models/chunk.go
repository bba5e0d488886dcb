package models

// SourceType distinguishes support documentation from the target page markup.
type SourceType string

const (
	SourceSupportDoc SourceType = "support_doc"
	SourceHTML       SourceType = "html"
)

// Chunk is a bounded slice of a source document prepared for embedding and retrieval.
type Chunk struct {
	ID            string     `json:"id"`
	Text          string     `json:"text"`
	SourceName    string     `json:"source_name"`
	SourceType    SourceType `json:"source_type"`
	SequenceIndex int        `json:"sequence_index"`
}

// IndexEntry pairs a chunk with its embedding for storage in a vector index.
type IndexEntry struct {
	Chunk  Chunk
	Vector []float32
}

// ScoredChunk is a retrieval hit with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float32 `json:"similarity"`
}

// Document is a named plain-text source handed to the knowledge base for ingestion.
type Document struct {
	Name       string     `json:"name"`
	Text       string     `json:"text"`
	SourceType SourceType `json:"source_type"`
}
