// Package chunker partitions a legal document's text into addressable
// units (articles, sections, clauses) aligned with its intrinsic
// structure. An ordered list of named strategies is tried in priority
// order; the first strategy that yields at least two chunks is adopted,
// preferring finer granularity when several match. Documents with no
// recognizable structure fall back to fixed-size overlapping windows so
// that no document is left unindexed.
package chunker

import (
	"strings"
)

// Chunk is one addressable sub-unit of a document. Chunks of a document
// are totally ordered by Index; their [Start, End) spans are
// non-overlapping, monotonically increasing, and cover the whole input.
type Chunk struct {
	Index   int    // sequence index, contiguous from 0
	Label   string // e.g. "Article 123"
	Content string
	Start   int // byte offset in the source text
	End     int
}

// Config controls the fallback window chunking.
type Config struct {
	WindowChars  int // window length, in bytes of source text
	OverlapChars int // leading overlap carried into each window's content
}

// Chunker splits normalized document text into chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker. Zero-value fields get defaults.
func New(cfg Config) *Chunker {
	if cfg.WindowChars <= 0 {
		cfg.WindowChars = 2000
	}
	if cfg.OverlapChars < 0 || cfg.OverlapChars >= cfg.WindowChars {
		cfg.OverlapChars = cfg.WindowChars / 10
	}
	return &Chunker{cfg: cfg}
}

// Split partitions text into chunks using the strategy order for the
// given document type. It never fails for well-formed text: when no
// structural marker matches and the text fits one window, the whole
// document becomes a single chunk.
func (c *Chunker) Split(text, docType string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return []Chunk{{Index: 0, Label: "Document", Content: text, Start: 0, End: len(text)}}
	}

	var best []Chunk
	for _, s := range strategiesFor(docType) {
		chunks, ok := s.apply(text)
		if !ok {
			continue
		}
		// More, shorter chunks win; equal counts keep the earlier
		// (more specific) strategy.
		if len(chunks) > len(best) {
			best = chunks
		}
	}
	if best != nil {
		return reindex(best)
	}

	return reindex(c.windows(text))
}

// reindex assigns contiguous sequence indices starting at 0.
func reindex(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}
