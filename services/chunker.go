package services

import (
	"fmt"
	"strings"

	"qa-agent/models"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker splits source text into overlapping segments sized for embedding.
// Splitting is recursive over "\n\n", "\n", " " and finally single characters,
// so paragraph and sentence boundaries are preserved where possible and hard
// cuts only happen inside unbroken runs of text.
type Chunker struct {
	maxSize  int
	overlap  int
	splitter textsplitter.RecursiveCharacter
}

// NewChunker validates the sizing parameters and returns a ready Chunker.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("chunker: max size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("chunker: overlap must be in [0, max size), got overlap=%d max=%d", overlap, maxSize)
	}
	return &Chunker{
		maxSize: maxSize,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(maxSize),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Chunk splits text into ordered chunks tagged with the source identity.
// Text shorter than the max size comes back as a single chunk with sequence
// index 0. Blank text yields no chunks. The returned slice has no ties to the
// chunker and may be iterated any number of times.
func (c *Chunker) Chunk(text, sourceName string, sourceType models.SourceType) ([]models.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return []models.Chunk{}, nil
	}

	pieces, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("chunker: failed to split source %q: %w", sourceName, err)
	}

	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, models.Chunk{
			ID:            uuid.New().String(),
			Text:          piece,
			SourceName:    sourceName,
			SourceType:    sourceType,
			SequenceIndex: i,
		})
	}
	return chunks, nil
}

// MaxSize reports the configured chunk size ceiling.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap reports the configured overlap between adjacent chunks.
func (c *Chunker) Overlap() int { return c.overlap }
