// Package vecindex stores chunk embeddings and serves nearest-neighbour
// queries over them. Two backends implement the same Index interface: a
// hosted Qdrant collection reached over REST, and an in-process SQLite
// index via sqlite-vec for deployments without external services. The
// backend is chosen once at startup; callers never mix the two.
package vecindex

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Metadata is the payload stored alongside each vector. The index holds
// only enough to filter searches and map hits back to the document store.
type Metadata struct {
	DocumentID   string `json:"document_id"`
	ChunkIndex   int    `json:"chunk_index"`
	DocumentType string `json:"document_type"`
	IsAbolished  bool   `json:"is_abolished"`
}

// Record is a vector with its identity and metadata.
type Record struct {
	ID        string
	Embedding []float32
	Meta      Metadata
}

// Match is a single search hit.
type Match struct {
	ID    string
	Score float64
	Meta  Metadata
}

// Filter restricts a search. The zero value excludes abolished documents
// and matches any document type.
type Filter struct {
	DocumentType     string // "" matches any type
	IncludeAbolished bool
}

// Index is the vector index shared by both backends. Implementations
// return matches sorted by descending score, ties broken by ascending id.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, embedding []float32, k int, f Filter) ([]Match, error)
	// SetAbolished updates the abolition flag on every vector belonging
	// to the given document, keeping index-side filters consistent with
	// the relationship store.
	SetAbolished(ctx context.Context, documentID string, abolished bool) error
	Close() error
}

// Config selects and configures an index backend.
type Config struct {
	Backend    string // "qdrant" or "local"
	Dimension  int
	QdrantURL  string
	APIKey     string
	Collection string
	Timeout    time.Duration
	LocalPath  string // SQLite file for the local backend
}

// New creates the configured backend.
func New(cfg Config) (Index, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrant(cfg)
	case "local":
		return NewLocal(cfg)
	case "":
		return nil, fmt.Errorf("index backend not specified")
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}

// sortMatches orders hits deterministically: descending score, then
// ascending id. Both backends run their results through this before
// returning so that equal-score hits never flap between calls.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
}

// allowed reports whether a hit passes the filter. Used by the local
// backend and by the Qdrant client as a guard for payloads written by
// older versions that lack metadata fields.
func (f Filter) allowed(m Metadata) bool {
	if !f.IncludeAbolished && m.IsAbolished {
		return false
	}
	if f.DocumentType != "" && m.DocumentType != "" && m.DocumentType != f.DocumentType {
		return false
	}
	return true
}
