package services

import (
	"context"
	"fmt"
	"log"
	"sync"

	"qa-agent/models"
)

// KBState is the lifecycle state of a knowledge base handle.
type KBState string

const (
	StateEmpty            KBState = "EMPTY"
	StateBuilding         KBState = "BUILDING"
	StateReady            KBState = "READY"
	StateGeneratingTests  KBState = "GENERATING_TESTS"
	StateGeneratingScript KBState = "GENERATING_SCRIPT"
)

// DefaultHTMLSourceName names the target page source when the caller does not.
const DefaultHTMLSourceName = "target_page.html"

// kbEmbedBatch is how many chunks are embedded per backend call during a
// build. Matching the embedder's own batch ceiling keeps one failed call
// attributable to a narrow chunk range.
const kbEmbedBatch = 64

// KnowledgeBase composes the chunker, embedder and vector index into an
// ingestion and retrieval pipeline. It owns the verbatim raw HTML of the
// target page and the lifecycle state; a handle starts EMPTY, becomes READY
// after a successful build and returns to EMPTY on any build failure, so a
// partial corpus is never queryable. All methods are safe for concurrent use;
// builds and generations are serialized through the state machine.
type KnowledgeBase struct {
	chunker   *Chunker
	embedder  Embedder
	index     VectorIndex
	retriever *Retriever

	mu          sync.Mutex
	state       KBState
	rawHTML     string
	sourceNames []string
	report      models.BuildReport
}

// NewKnowledgeBase creates an EMPTY knowledge base handle.
func NewKnowledgeBase(chunker *Chunker, embedder Embedder, index VectorIndex) *KnowledgeBase {
	return &KnowledgeBase{
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		retriever: NewRetriever(embedder, index),
		state:     StateEmpty,
	}
}

// Build ingests the given sources, replacing any previous corpus. Exactly one
// source may carry SourceHTML; its text is retained verbatim on the handle and
// additionally chunked and embedded so selector-bearing fragments stay
// retrievable. Every error is tagged with the failing source name.
func (kb *KnowledgeBase) Build(ctx context.Context, docs []models.Document) (models.BuildReport, error) {
	if err := kb.beginBuild(); err != nil {
		return models.BuildReport{}, err
	}

	report, rawHTML, names, err := kb.runBuild(ctx, docs)
	if err != nil {
		kb.abortBuild(err)
		return models.BuildReport{}, err
	}

	kb.mu.Lock()
	kb.state = StateReady
	kb.rawHTML = rawHTML
	kb.sourceNames = names
	kb.report = report
	kb.mu.Unlock()

	log.Printf("SERVICE: Knowledge base built: %d documents, %d chunks, %d bytes of HTML.",
		report.DocCount, report.ChunkCount, report.HTMLSizeBytes)
	return report, nil
}

func (kb *KnowledgeBase) beginBuild() error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.state == StateBuilding || kb.state == StateGeneratingTests || kb.state == StateGeneratingScript {
		return fmt.Errorf("%w (%s), try again once the current operation finishes", ErrBusy, kb.state)
	}
	kb.state = StateBuilding
	return nil
}

// abortBuild wipes whatever the failed build committed and drops the handle
// back to EMPTY. The wipe runs on a fresh context: the build context is often
// already dead here, and a skipped wipe would leave orphaned entries for the
// next build to trip over.
func (kb *KnowledgeBase) abortBuild(cause error) {
	if err := kb.index.Reset(context.Background()); err != nil {
		log.Printf("SERVICE: WARN: failed to reset index after aborted build: %v", err)
	}
	kb.mu.Lock()
	kb.state = StateEmpty
	kb.rawHTML = ""
	kb.sourceNames = nil
	kb.report = models.BuildReport{}
	kb.mu.Unlock()
	log.Printf("SERVICE: Build aborted, knowledge base back to EMPTY: %v", cause)
}

func (kb *KnowledgeBase) runBuild(ctx context.Context, docs []models.Document) (models.BuildReport, string, []string, error) {
	var (
		report  models.BuildReport
		rawHTML string
		names   []string
		htmlDoc *models.Document
	)

	supportDocs := make([]models.Document, 0, len(docs))
	for i := range docs {
		doc := docs[i]
		switch doc.SourceType {
		case models.SourceHTML:
			if htmlDoc != nil {
				return report, "", nil, fmt.Errorf("source %q: a build accepts exactly one HTML source, %q was already given", doc.Name, htmlDoc.Name)
			}
			if doc.Name == "" {
				doc.Name = DefaultHTMLSourceName
			}
			htmlDoc = &doc
		case models.SourceSupportDoc:
			supportDocs = append(supportDocs, doc)
		default:
			return report, "", nil, fmt.Errorf("source %q: unknown source type %q", doc.Name, doc.SourceType)
		}
	}
	if len(supportDocs) == 0 && htmlDoc == nil {
		return report, "", nil, ErrEmptyCorpus
	}

	if err := kb.index.Reset(ctx); err != nil {
		return report, "", nil, fmt.Errorf("failed to reset vector index for rebuild: %w", err)
	}

	ingest := supportDocs
	if htmlDoc != nil {
		ingest = append(ingest, *htmlDoc)
	}
	for _, doc := range ingest {
		indexed, err := kb.ingestSource(ctx, doc)
		if err != nil {
			return report, "", nil, err
		}
		report.ChunkCount += indexed
		names = append(names, doc.Name)
	}

	report.DocCount = len(supportDocs)
	if htmlDoc != nil {
		rawHTML = htmlDoc.Text
		report.HTMLSizeBytes = len(htmlDoc.Text)
	}
	return report, rawHTML, names, nil
}

// ingestSource chunks and embeds one source, committing its entries to the
// index only after the whole source has embedded. An abandoned or failed
// embedding call therefore never leaves a partially indexed source.
func (kb *KnowledgeBase) ingestSource(ctx context.Context, doc models.Document) (int, error) {
	chunks, err := kb.chunker.Chunk(doc.Text, doc.Name, doc.SourceType)
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", doc.Name, err)
	}
	if len(chunks) == 0 {
		log.Printf("SERVICE: Source %q is blank, nothing to index.", doc.Name)
		return 0, nil
	}

	entries := make([]models.IndexEntry, 0, len(chunks))
	for start := 0; start < len(chunks); start += kbEmbedBatch {
		end := start + kbEmbedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := kb.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, &EmbeddingError{SourceName: doc.Name, ChunkID: batch[0].ID, Err: err}
		}
		if len(vectors) != len(batch) {
			return 0, &EmbeddingError{SourceName: doc.Name, ChunkID: batch[0].ID,
				Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))}
		}
		for i, chunk := range batch {
			entries = append(entries, models.IndexEntry{Chunk: chunk, Vector: vectors[i]})
		}
	}

	if err := kb.index.Upsert(ctx, entries); err != nil {
		return 0, fmt.Errorf("source %q: %w", doc.Name, err)
	}
	log.Printf("SERVICE: Indexed source %q as %d chunks.", doc.Name, len(entries))
	return len(entries), nil
}

// Retrieve embeds the query with the ingestion embedder and returns the topK
// most similar chunks. Fails with ErrNotInitialized before the first
// successful build.
func (kb *KnowledgeBase) Retrieve(ctx context.Context, query string, topK int, filter models.SourceType) ([]models.Chunk, error) {
	if !kb.built() {
		return nil, ErrNotInitialized
	}
	return kb.retriever.Retrieve(ctx, query, topK, filter)
}

// built reports whether a completed corpus is queryable right now. Retrieval
// is legal during the transient generation states; the generator itself calls
// back into Retrieve while GENERATING_TESTS or GENERATING_SCRIPT.
func (kb *KnowledgeBase) built() bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	switch kb.state {
	case StateReady, StateGeneratingTests, StateGeneratingScript:
		return true
	default:
		return false
	}
}

// BeginGeneration moves READY into one of the transient generation states.
// Any other current state (never built, building, or another generation in
// flight) fails with ErrNotInitialized.
func (kb *KnowledgeBase) BeginGeneration(target KBState) error {
	if target != StateGeneratingTests && target != StateGeneratingScript {
		return fmt.Errorf("invalid generation state %q", target)
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.state != StateReady {
		return ErrNotInitialized
	}
	kb.state = target
	return nil
}

// EndGeneration returns a transient generation state to READY.
func (kb *KnowledgeBase) EndGeneration() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.state == StateGeneratingTests || kb.state == StateGeneratingScript {
		kb.state = StateReady
	}
}

// GetRawHTML returns the verbatim markup of the target page.
func (kb *KnowledgeBase) GetRawHTML() (string, error) {
	if !kb.built() {
		return "", ErrNotInitialized
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.rawHTML, nil
}

// IsReady reports whether the handle accepts generation calls right now.
func (kb *KnowledgeBase) IsReady() bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.state == StateReady
}

// State returns the current lifecycle state.
func (kb *KnowledgeBase) State() KBState {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.state
}

// SourceNames lists the names of every ingested source, HTML included.
func (kb *KnowledgeBase) SourceNames() []string {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	names := make([]string, len(kb.sourceNames))
	copy(names, kb.sourceNames)
	return names
}

// Report returns the report of the last successful build.
func (kb *KnowledgeBase) Report() models.BuildReport {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.report
}
