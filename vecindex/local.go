package vecindex

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Local is the in-process backend: vectors live in a vec0 virtual table
// inside a dedicated SQLite file, with a sidecar table mapping rowids to
// vector ids and metadata. Filtering happens in SQL after the KNN pass,
// so searches oversample to keep k results after exclusions.
type Local struct {
	db        *sql.DB
	dimension int
}

// oversample multiplies k in the KNN query to leave room for hits the
// metadata filter removes.
const oversample = 4

func localSchema(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS vectors (
    id INTEGER PRIMARY KEY,
    vector_id TEXT NOT NULL UNIQUE,
    document_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL DEFAULT 0,
    document_type TEXT NOT NULL DEFAULT '',
    is_abolished INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_vectors_document ON vectors(document_id);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(
    vector_rowid INTEGER PRIMARY KEY,
    embedding float[%d] distance_metric=cosine
);
`, dim)
}

// NewLocal opens (or creates) the index file and initialises the schema.
func NewLocal(cfg Config) (*Local, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", cfg.Dimension)
	}
	if cfg.LocalPath == "" {
		return nil, fmt.Errorf("local index path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LocalPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.LocalPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}
	if _, err := db.Exec(localSchema(cfg.Dimension)); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialising index schema: %w", err)
	}
	return &Local{db: db, dimension: cfg.Dimension}, nil
}

func (l *Local) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range records {
		if len(r.Embedding) != l.dimension {
			return fmt.Errorf("vector %s has dimension %d, index expects %d", r.ID, len(r.Embedding), l.dimension)
		}
		var rowid int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO vectors (vector_id, document_id, chunk_index, document_type, is_abolished)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(vector_id) DO UPDATE SET
				document_id = excluded.document_id,
				chunk_index = excluded.chunk_index,
				document_type = excluded.document_type,
				is_abolished = excluded.is_abolished
			RETURNING id
		`, r.ID, r.Meta.DocumentID, r.Meta.ChunkIndex, r.Meta.DocumentType, boolToInt(r.Meta.IsAbolished)).Scan(&rowid)
		if err != nil {
			return fmt.Errorf("upserting vector %s: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_embeddings (vector_rowid, embedding) VALUES (?, ?)",
			rowid, serializeFloat32(r.Embedding)); err != nil {
			return fmt.Errorf("storing embedding for %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

func (l *Local) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		var rowid int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM vectors WHERE vector_id = ?", id).Scan(&rowid)
		if err == sql.ErrNoRows {
			continue // deleting an absent id is not an error
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_embeddings WHERE vector_rowid = ?", rowid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", rowid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (l *Local) Search(ctx context.Context, embedding []float32, k int, f Filter) ([]Match, error) {
	if k <= 0 {
		k = 5
	}
	if len(embedding) != l.dimension {
		return nil, fmt.Errorf("query has dimension %d, index expects %d", len(embedding), l.dimension)
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT m.vector_id, e.distance, m.document_id, m.chunk_index, m.document_type, m.is_abolished
		FROM vec_embeddings e
		JOIN vectors m ON m.id = e.vector_rowid
		WHERE e.embedding MATCH ? AND k = ?
		ORDER BY e.distance
	`, serializeFloat32(embedding), k*oversample)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var distance float64
		var abolished int
		if err := rows.Scan(&m.ID, &distance, &m.Meta.DocumentID, &m.Meta.ChunkIndex, &m.Meta.DocumentType, &abolished); err != nil {
			return nil, err
		}
		// Cosine distance to similarity.
		m.Score = 1.0 - distance
		m.Meta.IsAbolished = abolished != 0
		if !f.allowed(m.Meta) {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (l *Local) SetAbolished(ctx context.Context, documentID string, abolished bool) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE vectors SET is_abolished = ? WHERE document_id = ?",
		boolToInt(abolished), documentID)
	return err
}

func (l *Local) Close() error { return l.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
