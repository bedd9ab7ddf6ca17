package store

// schemaSQL is the DDL for all tables. Vectors live in the index, not
// here; chunks carry their vector ids so the two stay reconcilable.
const schemaSQL = `
-- Document registry. Deletion is logical: superseded or abolished
-- documents keep their rows and flip flags instead.
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    source_key TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    document_type TEXT NOT NULL DEFAULT 'other',
    language TEXT NOT NULL DEFAULT 'unknown',
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT,
    is_abolished INTEGER NOT NULL DEFAULT 0,
    is_updated INTEGER NOT NULL DEFAULT 0,
    parent_document_id TEXT REFERENCES documents(id),
    content_hash TEXT NOT NULL DEFAULT '',
    file_key TEXT,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Chunks as last produced by ingestion. Replaced wholesale on
-- re-ingest; seq_index is contiguous from zero per document.
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    seq_index INTEGER NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    start_offset INTEGER NOT NULL DEFAULT 0,
    end_offset INTEGER NOT NULL DEFAULT 0,
    vector_id TEXT NOT NULL UNIQUE,
    truncated INTEGER NOT NULL DEFAULT 0,
    UNIQUE(document_id, seq_index)
);

-- Typed edges between documents (supersedes, implements, amends...).
CREATE TABLE IF NOT EXISTS document_relationships (
    id INTEGER PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES documents(id),
    relation_type TEXT NOT NULL,
    target_id TEXT NOT NULL REFERENCES documents(id),
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(source_id, relation_type, target_id)
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(document_type);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON document_relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON document_relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON document_relationships(relation_type);
`
