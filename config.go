package legalrag

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the legalrag pipeline. It is built
// once at startup and passed explicitly into each component.
type Config struct {
	// DBPath is the full path to the SQLite database holding documents,
	// chunks, and relationships. If empty, defaults to
	// ~/.legalrag/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the database name used when DBPath is empty.
	DBName string `json:"db_name" yaml:"db_name"`

	// External model services.
	Embedding  LLMConfig `json:"embedding" yaml:"embedding"`
	Generation LLMConfig `json:"generation" yaml:"generation"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// EmbedBatchSize is the maximum number of texts per embedding request.
	EmbedBatchSize int `json:"embed_batch_size" yaml:"embed_batch_size"`

	// MaxEmbedChars truncates a single chunk text before embedding.
	// Truncation is recorded on the chunk, never rejected.
	MaxEmbedChars int `json:"max_embed_chars" yaml:"max_embed_chars"`

	// Vector index backend. Chosen once at process start, never mixed.
	Index IndexConfig `json:"index" yaml:"index"`

	// Chunking fallback windows, used when no structural marker matches.
	WindowChars  int `json:"window_chars" yaml:"window_chars"`
	OverlapChars int `json:"overlap_chars" yaml:"overlap_chars"`

	// Batch ingestion.
	IngestWorkers  int `json:"ingest_workers" yaml:"ingest_workers"`
	DocTimeoutSecs int `json:"doc_timeout_secs" yaml:"doc_timeout_secs"`

	// Retrieval.
	TopK            int `json:"top_k" yaml:"top_k"`
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars"`

	// Object storage for original files. Optional; when Type is empty the
	// original bytes are not retained.
	Files FileStorageConfig `json:"files" yaml:"files"`

	// External document API (optional ingestion source).
	SourceAPI SourceAPIConfig `json:"source_api" yaml:"source_api"`
}

// LLMConfig configures a single model service endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, ollama, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "qdrant" or "local"

	// Hosted backend.
	QdrantURL         string `json:"qdrant_url" yaml:"qdrant_url"`
	QdrantAPIKey      string `json:"qdrant_api_key" yaml:"qdrant_api_key"`
	QdrantCollection  string `json:"qdrant_collection" yaml:"qdrant_collection"`
	QdrantTimeoutSecs int    `json:"qdrant_timeout_secs" yaml:"qdrant_timeout_secs"`

	// Local fallback backend (SQLite + sqlite-vec file path). If empty,
	// defaults to <DBPath dir>/index.db.
	LocalPath string `json:"local_path" yaml:"local_path"`
}

// FileStorageConfig configures object storage for original files.
type FileStorageConfig struct {
	Type      string `json:"type" yaml:"type"` // "", "local", "s3"
	LocalPath string `json:"local_path" yaml:"local_path"`
	S3Bucket  string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region  string `json:"s3_region" yaml:"s3_region"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
}

// SourceAPIConfig configures the external legal-document API.
type SourceAPIConfig struct {
	BaseURL     string `json:"base_url" yaml:"base_url"`
	APIKey      string `json:"api_key" yaml:"api_key"`
	TimeoutSecs int    `json:"timeout_secs" yaml:"timeout_secs"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		DBName: "legalrag",
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Generation: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		EmbeddingDim:    768,
		EmbedBatchSize:  32,
		MaxEmbedChars:   24000,
		Index:           IndexConfig{Backend: "local"},
		WindowChars:     2000,
		OverlapChars:    200,
		IngestWorkers:   4,
		DocTimeoutSecs:  600,
		TopK:            5,
		MaxContextChars: 12000,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	name := c.DBName
	if name == "" {
		name = "legalrag"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return name + ".db"
	}
	return filepath.Join(home, ".legalrag", name+".db")
}

// resolveIndexPath computes the local index path when none is configured.
func (c *Config) resolveIndexPath() string {
	if c.Index.LocalPath != "" {
		return c.Index.LocalPath
	}
	return filepath.Join(filepath.Dir(c.resolveDBPath()), "index.db")
}
