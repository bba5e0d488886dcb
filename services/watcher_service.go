package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"qa-agent/models"
)

// WatcherService keeps the knowledge base in sync with a documentation
// directory on disk. Because a build replaces the whole corpus atomically,
// any file change triggers a full rebuild; a content-hash snapshot of the
// directory keeps spurious editor events (temp files, double writes) from
// rebuilding when nothing actually changed.
type WatcherService struct {
	kb        *KnowledgeBase
	extractor *ExtractorService
	docsDir   string
	htmlFile  string // optional target-page file, may live outside docsDir

	mu     sync.Mutex
	hashes map[string]string
}

// NewWatcherService creates a watcher over docsDir. htmlFile may be empty, in
// which case rebuilds carry no target page and script generation stays
// unavailable until a build arrives over the API.
func NewWatcherService(kb *KnowledgeBase, extractor *ExtractorService, docsDir, htmlFile string) *WatcherService {
	return &WatcherService{
		kb:        kb,
		extractor: extractor,
		docsDir:   docsDir,
		htmlFile:  htmlFile,
		hashes:    make(map[string]string),
	}
}

// WatchDirectory starts a long-running process to watch for file changes in real-time.
func (s *WatcherService) WatchDirectory(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("WATCHER ERROR: Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	// Goroutine to handle events from the watcher.
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// We only care about the target page and supported file types.
				if !isSupportedFile(event.Name) && event.Name != s.htmlFile {
					continue
				}

				log.Printf("WATCHER EVENT: %s", event)

				// Many editors perform a "write" by creating a temp file and
				// renaming, which can trigger multiple events. Every event kind
				// funnels into the same hash-guarded rebuild.
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					if err := s.ScanAndRebuild(ctx); err != nil {
						log.Printf("WATCHER ERROR: Rebuild after %s failed: %v", event.Name, err)
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("WATCHER ERROR: %v", err)
			case <-ctx.Done():
				log.Println("WATCHER: Context cancelled, shutting down watcher.")
				return
			}
		}
	}()

	log.Printf("WATCHER: Watching directory: %s", s.docsDir)
	if err := watcher.Add(s.docsDir); err != nil {
		log.Printf("WATCHER ERROR: Failed to add path to watcher: %v", err)
	}
	if s.htmlFile != "" {
		htmlDir := filepath.Dir(s.htmlFile)
		if htmlDir != s.docsDir {
			if err := watcher.Add(htmlDir); err != nil {
				log.Printf("WATCHER ERROR: Failed to watch target page directory: %v", err)
			}
		}
	}

	// Block until the context is cancelled (e.g., server shutdown).
	<-ctx.Done()
}

// ScanAndRebuild hashes the current corpus on disk and rebuilds the knowledge
// base when the snapshot differs from the last successful rebuild.
func (s *WatcherService) ScanAndRebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("INDEXER: Starting directory scan for: %s", s.docsDir)
	snapshot, err := s.snapshotCorpus()
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", s.docsDir, err)
	}
	if maps.Equal(snapshot, s.hashes) {
		log.Println("INDEXER: Corpus unchanged, skipping rebuild.")
		return nil
	}
	if len(snapshot) == 0 {
		log.Println("INDEXER: No documents on disk, leaving knowledge base as is.")
		s.hashes = snapshot
		return nil
	}

	docs, err := s.loadCorpus()
	if err != nil {
		return err
	}
	if _, err := s.kb.Build(ctx, docs); err != nil {
		return err
	}
	s.hashes = snapshot
	log.Println("INDEXER: Directory scan finished.")
	return nil
}

// snapshotCorpus maps every corpus file to its content hash. The target page
// file participates so edits to it also trigger a rebuild.
func (s *WatcherService) snapshotCorpus() (map[string]string, error) {
	snapshot := make(map[string]string)
	err := filepath.Walk(s.docsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isSupportedFile(path) || path == s.htmlFile {
			return nil
		}
		hash, err := calculateFileHash(path)
		if err != nil {
			log.Printf("INDEXER WARN: Could not hash file %s: %v", path, err)
			return nil
		}
		snapshot[path] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.htmlFile != "" {
		if hash, err := calculateFileHash(s.htmlFile); err == nil {
			snapshot[s.htmlFile] = hash
		} else {
			log.Printf("INDEXER WARN: Could not hash target page %s: %v", s.htmlFile, err)
		}
	}
	return snapshot, nil
}

// loadCorpus extracts every support document in the directory plus the
// optional target page. Files that fail extraction are skipped with a warning
// so one bad upload cannot wedge the background sync.
func (s *WatcherService) loadCorpus() ([]models.Document, error) {
	var docs []models.Document
	err := filepath.Walk(s.docsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isSupportedFile(path) || path == s.htmlFile {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("INDEXER WARN: Skipping unreadable file %s: %v", path, err)
			return nil
		}
		name := filepath.Base(path)
		text, err := s.extractor.Extract(data, name, "")
		if err != nil {
			log.Printf("INDEXER WARN: Skipping %s: %v", path, err)
			return nil
		}
		docs = append(docs, models.Document{Name: name, Text: text, SourceType: models.SourceSupportDoc})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking the path %s: %w", s.docsDir, err)
	}

	if s.htmlFile != "" {
		data, err := os.ReadFile(s.htmlFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read target page %s: %w", s.htmlFile, err)
		}
		docs = append(docs, models.Document{
			Name:       filepath.Base(s.htmlFile),
			Text:       string(data),
			SourceType: models.SourceHTML,
		})
	}
	return docs, nil
}

func isSupportedFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".md", ".markdown", ".text", ".json", ".pdf", ".docx", ".html", ".htm":
		return true
	default:
		return false
	}
}

func calculateFileHash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
