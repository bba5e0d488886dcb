package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotInitialized is returned when retrieval or generation is attempted before
// a knowledge base build has completed.
var ErrNotInitialized = errors.New("knowledge base not initialized: run a build first")

// ErrBusy is returned when a build is requested while another build or a
// generation holds the knowledge base.
var ErrBusy = errors.New("knowledge base is busy")

// ErrEmptyCorpus is returned when a build is requested with no support
// documents and no HTML source.
var ErrEmptyCorpus = errors.New("nothing to ingest: no support documents and no HTML source")

// UnsupportedFormatError indicates an uploaded document uses a format the
// extractor cannot convert to plain text.
type UnsupportedFormatError struct {
	Filename string
	Format   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document format %q for %q", e.Format, e.Filename)
}

// EmbeddingError indicates the embedding backend failed for a specific chunk.
// Ingestion aborts the whole build on the first EmbeddingError; a silently
// skipped chunk would leave an undetectable gap in the grounding corpus.
type EmbeddingError struct {
	SourceName string
	ChunkID    string
	Err        error
}

func (e *EmbeddingError) Error() string {
	if e.ChunkID == "" {
		return fmt.Sprintf("embedding failed for source %q: %v", e.SourceName, e.Err)
	}
	return fmt.Sprintf("embedding failed for source %q (chunk %s): %v", e.SourceName, e.ChunkID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IndexDimensionMismatchError indicates the persisted index was built with a
// different embedding dimensionality than the vectors now being written or
// queried. Similarity scores across mixed dimensions are meaningless, so the
// operation fails instead of proceeding.
type IndexDimensionMismatchError struct {
	IndexDim int
	GotDim   int
}

func (e *IndexDimensionMismatchError) Error() string {
	return fmt.Sprintf("vector index dimension mismatch: index holds %d-dimensional embeddings, got %d (was the embedding model changed? rebuild the knowledge base)", e.IndexDim, e.GotDim)
}

// GroundingViolationError indicates a generated test case cited a source that was
// not part of the retrieved context.
type GroundingViolationError struct {
	TestID         string
	UnknownSources []string
	Retrieved      []string
}

func (e *GroundingViolationError) Error() string {
	return fmt.Sprintf("test case %s cites unretrieved sources [%s]; retrieved context was [%s]",
		e.TestID, strings.Join(e.UnknownSources, ", "), strings.Join(e.Retrieved, ", "))
}

// GenerationError indicates the generative backend failed or returned output
// that does not satisfy the requested schema. Stage is "test_cases" or "script".
type GenerationError struct {
	Stage string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at stage %q: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
