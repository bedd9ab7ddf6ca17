// Package objstore keeps the original bytes of ingested documents so
// they can be re-served or re-processed later. Chunks and vectors are
// derived data; the object store holds the source of truth a document
// was extracted from. Backends: local filesystem for single-node
// deployments, S3 for shared ones.
package objstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Storage stores and retrieves original document files by key.
type Storage interface {
	// Upload stores a file under a key derived from the document id and
	// filename, and returns that key.
	Upload(ctx context.Context, documentID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by its storage key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a file by its storage key. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a storage backend.
type Config struct {
	Type      string // "local" or "s3"
	LocalPath string
	S3Bucket  string
	S3Region  string
	AccessKey string
	SecretKey string
}

// New creates the configured backend.
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.LocalPath)
	case "s3":
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown file storage type: %s", cfg.Type)
	}
}

// storageKey builds the key a document's original file is stored under.
// The document id prefix keeps keys unique across re-uploads of files
// with the same name; the two-character shard limits directory fanout.
func storageKey(documentID, filename string) string {
	base := filepath.Base(filename)
	base = strings.NewReplacer(" ", "_", "\\", "_").Replace(base)
	shard := documentID
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return fmt.Sprintf("%s/%s_%s", shard, documentID, base)
}

// contentType guesses the MIME type from the filename extension.
func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".rtf":
		return "application/rtf"
	default:
		return "application/octet-stream"
	}
}
