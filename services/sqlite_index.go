package services

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"qa-agent/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// sqliteIndex persists the vector index in a single SQLite file. Vectors are
// stored as little-endian float32 blobs and similarity is computed in process;
// corpora here are a handful of support documents, so a linear scan is fine.
type sqliteIndex struct {
	db *sqlx.DB
}

var _ VectorIndex = (*sqliteIndex)(nil)

type chunkRow struct {
	ChunkID       string `db:"chunk_id"`
	SourceName    string `db:"source_name"`
	SourceType    string `db:"source_type"`
	SequenceIndex int    `db:"sequence_index"`
	Content       string `db:"content"`
	Vector        []byte `db:"vector"`
}

// NewSQLiteVectorIndex opens (creating if needed) the index database at path.
func NewSQLiteVectorIndex(path string) (VectorIndex, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create index directory %q: %w", dir, err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database %q: %w", path, err)
	}

	idx := &sqliteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return idx, nil
}

func (s *sqliteIndex) initSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			source_name TEXT NOT NULL,
			source_type TEXT NOT NULL,
			sequence_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			vector BLOB NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS index_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_chunks_source_type ON chunks(source_type)`,
	}

	for _, tableSQL := range tables {
		if _, err := s.db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// storedDimension reports the embedding dimension the index was built with,
// or 0 when the index is empty.
func (s *sqliteIndex) storedDimension(ctx context.Context) (int, error) {
	var dim int
	err := s.db.GetContext(ctx, &dim, `SELECT value FROM index_meta WHERE key = 'dimension'`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read index dimension: %w", err)
	}
	return dim, nil
}

func (s *sqliteIndex) Upsert(ctx context.Context, entries []models.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	dim, err := s.storedDimension(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if dim == 0 {
			dim = len(entry.Vector)
			continue
		}
		if len(entry.Vector) != dim {
			return &IndexDimensionMismatchError{IndexDim: dim, GotDim: len(entry.Vector)}
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('dimension', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, dim); err != nil {
		return fmt.Errorf("failed to record index dimension: %w", err)
	}

	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (chunk_id, source_name, source_type, sequence_index, content, vector)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.Chunk.ID, entry.Chunk.SourceName, string(entry.Chunk.SourceType),
			entry.Chunk.SequenceIndex, entry.Chunk.Text, encodeVector(entry.Vector)); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", entry.Chunk.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index write: %w", err)
	}
	return nil
}

func (s *sqliteIndex) Query(ctx context.Context, vector []float32, topK int, filter models.SourceType) ([]models.ScoredChunk, error) {
	dim, err := s.storedDimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) != dim {
		return nil, &IndexDimensionMismatchError{IndexDim: dim, GotDim: len(vector)}
	}

	query := `SELECT chunk_id, source_name, source_type, sequence_index, content, vector FROM chunks`
	args := []interface{}{}
	if filter != "" {
		query += ` WHERE source_type = ?`
		args = append(args, string(filter))
	}

	var rows []chunkRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load index entries: %w", err)
	}

	entries := make([]models.IndexEntry, 0, len(rows))
	for _, row := range rows {
		vec, err := decodeVector(row.Vector)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vector for chunk %s: %w", row.ChunkID, err)
		}
		entries = append(entries, models.IndexEntry{
			Chunk: models.Chunk{
				ID:            row.ChunkID,
				Text:          row.Content,
				SourceName:    row.SourceName,
				SourceType:    models.SourceType(row.SourceType),
				SequenceIndex: row.SequenceIndex,
			},
			Vector: vec,
		})
	}
	return rankEntries(entries, vector, topK, ""), nil
}

func (s *sqliteIndex) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chunks`); err != nil {
		return 0, fmt.Errorf("failed to count index entries: %w", err)
	}
	return count, nil
}

func (s *sqliteIndex) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear index entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_meta`); err != nil {
		return fmt.Errorf("failed to clear index metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index reset: %w", err)
	}
	return nil
}

func (s *sqliteIndex) Close() error { return s.db.Close() }

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
