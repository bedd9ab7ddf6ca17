// Package store persists documents, their chunks, and the typed
// relationships between documents in SQLite. It is the system of record
// for supersession and abolition; the vector index mirrors the flags it
// keeps here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// RelationSupersedes marks the edge from a new document version to the
// version it replaces.
const RelationSupersedes = "supersedes"

// ErrNotFound is returned when a document id or source key has no row.
var ErrNotFound = errors.New("document not found")

// ErrCycle is returned when recording a supersession would close a loop
// in the supersedes graph, or when resolving hits an existing loop.
var ErrCycle = errors.New("supersession cycle")

// Document represents a row in the documents table.
type Document struct {
	ID               string `json:"id"`
	SourceKey        string `json:"source_key"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	DocumentType     string `json:"document_type"`
	Language         string `json:"language"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	IsAbolished      bool   `json:"is_abolished"`
	IsUpdated        bool   `json:"is_updated"`
	ParentDocumentID string `json:"parent_document_id,omitempty"`
	ContentHash      string `json:"content_hash"`
	FileKey          string `json:"file_key,omitempty"`
	Metadata         string `json:"metadata,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID          int64  `json:"id"`
	DocumentID  string `json:"document_id"`
	SeqIndex    int    `json:"seq_index"`
	Label       string `json:"label"`
	Content     string `json:"content"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	VectorID    string `json:"vector_id"`
	Truncated   bool   `json:"truncated"`
}

// Relationship represents a row in the document_relationships table.
type Relationship struct {
	ID           int64  `json:"id"`
	SourceID     string `json:"source_id"`
	RelationType string `json:"relation_type"`
	TargetID     string `json:"target_id"`
}

// Store wraps the SQLite database for all pipeline persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Document operations ---

// UpsertDocument inserts a document or, when the source key is already
// registered, updates the existing row in place. The caller assigns ids;
// re-ingesting a source key keeps its original id.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, source_key, title, content, document_type, language,
			status, error, is_abolished, is_updated, parent_document_id, content_hash,
			file_key, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_key) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			document_type = excluded.document_type,
			language = excluded.language,
			status = excluded.status,
			error = excluded.error,
			content_hash = excluded.content_hash,
			file_key = COALESCE(excluded.file_key, file_key),
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, doc.ID, doc.SourceKey, doc.Title, doc.Content, doc.DocumentType, doc.Language,
		doc.Status, nullable(doc.Error), boolToInt(doc.IsAbolished), boolToInt(doc.IsUpdated),
		nullable(doc.ParentDocumentID), doc.ContentHash, nullable(doc.FileKey), nullable(doc.Metadata))
	if err != nil {
		return "", err
	}

	var id string
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE source_key = ?", doc.SourceKey).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

const documentColumns = `id, source_key, title, content, document_type, language,
	status, COALESCE(error, ''), is_abolished, is_updated,
	COALESCE(parent_document_id, ''), content_hash, COALESCE(file_key, ''),
	COALESCE(metadata, ''), created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	doc := &Document{}
	var abolished, updated int
	err := row.Scan(&doc.ID, &doc.SourceKey, &doc.Title, &doc.Content,
		&doc.DocumentType, &doc.Language, &doc.Status, &doc.Error,
		&abolished, &updated, &doc.ParentDocumentID, &doc.ContentHash,
		&doc.FileKey, &doc.Metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.IsAbolished = abolished != 0
	doc.IsUpdated = updated != 0
	return doc, nil
}

// GetDocument retrieves a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

// GetDocumentBySourceKey retrieves a document by its source key.
func (s *Store) GetDocumentBySourceKey(ctx context.Context, key string) (*Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE source_key = ?", key))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return doc, err
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	return s.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at, id")
}

// FindByType returns all documents of the given type.
func (s *Store) FindByType(ctx context.Context, docType string) ([]Document, error) {
	return s.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE document_type = ? ORDER BY created_at, id", docType)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateStatus moves a document through its processing state machine and
// records the failure reason when the new status is "failed".
func (s *Store) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, nullable(errMsg), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkProcessed records the outcome of a successful ingestion: the
// extracted content, detected language, optional stored-file key,
// processing stats folded into the metadata JSON, and the terminal
// "processed" status in one statement.
func (s *Store) MarkProcessed(ctx context.Context, id, content, language, fileKey string, wordCount, charCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET content = ?, language = ?, file_key = COALESCE(NULLIF(?, ''), file_key),
			metadata = json_set(
				COALESCE(NULLIF(metadata, ''), '{}'),
				'$.language', ?,
				'$.word_count', ?,
				'$.char_count', ?,
				'$.processed_at', strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			),
			status = 'processed', error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, content, language, fileKey, language, wordCount, charCount, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAbolished flips the abolition flag without touching relationships.
func (s *Store) SetAbolished(ctx context.Context, id string, abolished bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET is_abolished = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, boolToInt(abolished), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Chunk operations ---

// ReplaceChunks atomically swaps a document's chunk set for a new one.
// Used on every (re-)ingest so stale chunks never coexist with new ones.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (document_id, seq_index, label, content, start_offset, end_offset, vector_id, truncated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, documentID, c.SeqIndex, c.Label, c.Content, c.StartOffset, c.EndOffset, c.VectorID, boolToInt(c.Truncated)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.SeqIndex, err)
		}
	}
	return tx.Commit()
}

// GetChunks returns a document's chunks in sequence order.
func (s *Store) GetChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, seq_index, label, content, start_offset, end_offset, vector_id, truncated
		FROM chunks WHERE document_id = ? ORDER BY seq_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var truncated int
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.SeqIndex, &c.Label, &c.Content,
			&c.StartOffset, &c.EndOffset, &c.VectorID, &truncated); err != nil {
			return nil, err
		}
		c.Truncated = truncated != 0
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunkVectorIDs returns the vector ids currently registered for a
// document, in sequence order.
func (s *Store) GetChunkVectorIDs(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT vector_id FROM chunks WHERE document_id = ? ORDER BY seq_index", documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetChunkByVectorID maps a search hit back to its chunk.
func (s *Store) GetChunkByVectorID(ctx context.Context, vectorID string) (*Chunk, error) {
	var c Chunk
	var truncated int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, seq_index, label, content, start_offset, end_offset, vector_id, truncated
		FROM chunks WHERE vector_id = ?
	`, vectorID).Scan(&c.ID, &c.DocumentID, &c.SeqIndex, &c.Label, &c.Content,
		&c.StartOffset, &c.EndOffset, &c.VectorID, &truncated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Truncated = truncated != 0
	return &c, nil
}

// --- Relationship operations ---

// AddRelationship records a typed edge between two documents. Duplicate
// edges are ignored.
func (s *Store) AddRelationship(ctx context.Context, sourceID, relationType, targetID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_relationships (source_id, relation_type, target_id)
		VALUES (?, ?, ?)
	`, sourceID, relationType, targetID)
	return err
}

// FindRelated returns every edge touching the document, in either
// direction.
func (s *Store) FindRelated(ctx context.Context, documentID string) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, relation_type, target_id
		FROM document_relationships
		WHERE source_id = ? OR target_id = ?
		ORDER BY id
	`, documentID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.SourceID, &r.RelationType, &r.TargetID); err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// RecordSupersession marks oldID as replaced by newID: the old document
// is flagged abolished and updated, the new one gets its parent pointer,
// and the supersedes edge is written. All of it happens in one
// transaction so readers never observe a half-recorded supersession.
func (s *Store) RecordSupersession(ctx context.Context, oldID, newID string) error {
	if oldID == newID {
		return fmt.Errorf("%w: document cannot supersede itself", ErrCycle)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range []string{oldID, newID} {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE id = ?", id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	// The new edge makes newID a successor of oldID. That closes a loop
	// iff oldID is already a successor of newID, i.e. oldID is reachable
	// from newID along existing replacement links.
	reachable, err := s.reachable(ctx, tx, newID, oldID)
	if err != nil {
		return err
	}
	if reachable {
		return fmt.Errorf("%w: %s already supersedes %s", ErrCycle, oldID, newID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET is_abolished = 1, is_updated = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, oldID); err != nil {
		return fmt.Errorf("flagging superseded document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET parent_document_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, oldID, newID); err != nil {
		return fmt.Errorf("linking new version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_relationships (source_id, relation_type, target_id)
		VALUES (?, ?, ?)
	`, newID, RelationSupersedes, oldID); err != nil {
		return fmt.Errorf("recording supersedes edge: %w", err)
	}
	return tx.Commit()
}

// reachable reports whether "to" can be reached from "from" by following
// supersedes edges target -> source (old version -> its replacement).
func (s *Store) reachable(ctx context.Context, tx *sql.Tx, from, to string) (bool, error) {
	visited := map[string]bool{}
	current := from
	for {
		if current == to {
			return true, nil
		}
		if visited[current] {
			return false, nil
		}
		visited[current] = true

		var next string
		err := tx.QueryRowContext(ctx, `
			SELECT source_id FROM document_relationships
			WHERE target_id = ? AND relation_type = ?
			ORDER BY id LIMIT 1
		`, current, RelationSupersedes).Scan(&next)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		current = next
	}
}

// ResolveCurrent follows supersedes edges from the given document to the
// version currently in force. A document with no successor resolves to
// itself. A loop in the edges yields ErrCycle.
func (s *Store) ResolveCurrent(ctx context.Context, id string) (*Document, error) {
	visited := map[string]bool{}
	current := id
	for {
		if visited[current] {
			return nil, fmt.Errorf("%w: resolving %s", ErrCycle, id)
		}
		visited[current] = true

		var next string
		err := s.db.QueryRowContext(ctx, `
			SELECT source_id FROM document_relationships
			WHERE target_id = ? AND relation_type = ?
			ORDER BY id LIMIT 1
		`, current, RelationSupersedes).Scan(&next)
		if err == sql.ErrNoRows {
			return s.GetDocument(ctx, current)
		}
		if err != nil {
			return nil, err
		}
		current = next
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
