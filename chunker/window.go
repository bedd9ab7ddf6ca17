package chunker

import (
	"fmt"
	"strings"
)

// windows cuts text into fixed-size pieces when no structural marker
// matched. The recorded spans partition the text with no gaps or
// overlap; each chunk's Content additionally carries OverlapChars of
// trailing text from the previous window so embeddings keep local
// context across the cut. Cuts snap back to the nearest space or
// newline to avoid splitting a word.
func (c *Chunker) windows(text string) []Chunk {
	stride := c.cfg.WindowChars - c.cfg.OverlapChars

	if len(text) <= c.cfg.WindowChars {
		return []Chunk{{Label: "Document", Content: text, Start: 0, End: len(text)}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + stride
		if end >= len(text) {
			end = len(text)
		} else if cut := strings.LastIndexAny(text[start:end], " \n"); cut > stride/2 {
			end = start + cut + 1
		}
		contentStart := start - c.cfg.OverlapChars
		if contentStart < 0 {
			contentStart = 0
		}
		chunks = append(chunks, Chunk{
			Label:   fmt.Sprintf("Part %d", len(chunks)+1),
			Content: text[contentStart:end],
			Start:   start,
			End:     end,
		})
		start = end
	}
	return chunks
}
