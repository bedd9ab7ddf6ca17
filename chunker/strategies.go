package chunker

import (
	"fmt"
	"regexp"
	"strings"
)

// strategy is one named marker scheme. Its pattern matches a structural
// marker at the start of a line; capture group 1 is the unit number.
type strategy struct {
	name   string
	re     *regexp.Regexp
	format string // label format, applied to capture group 1
}

var (
	articleStrategy = strategy{
		name:   "article",
		re:     regexp.MustCompile(`(?m)^[ \t]*(?:Article|ARTICLE)\s+(\d+[A-Za-z]?)\b`),
		format: "Article %s",
	}
	sectionStrategy = strategy{
		name:   "section",
		re:     regexp.MustCompile(`(?m)^[ \t]*(?:Section|SECTION)\s+(\d+[A-Za-z]?)\b`),
		format: "Section %s",
	}
	chapterStrategy = strategy{
		name:   "chapter",
		re:     regexp.MustCompile(`(?m)^[ \t]*(?:Chapter|CHAPTER|Part|PART)\s+(\d+|[IVXLCDM]+)\b`),
		format: "Chapter %s",
	}
	// Hierarchical numbered clauses: "1.1", "12.3.4" at line start.
	clauseStrategy = strategy{
		name:   "clause",
		re:     regexp.MustCompile(`(?m)^[ \t]*(\d+(?:\.\d+)+)\s`),
		format: "Clause %s",
	}
	// Flat numbered items: "1. ", "12. ".
	numberedStrategy = strategy{
		name:   "numbered",
		re:     regexp.MustCompile(`(?m)^[ \t]*(\d+)\.\s`),
		format: "Clause %s",
	}
	// Roman-numeral headings: "IV. ".
	romanStrategy = strategy{
		name:   "roman",
		re:     regexp.MustCompile(`(?m)^[ \t]*([IVXLCDM]+)\.\s`),
		format: "Section %s",
	}
)

// strategiesFor returns the marker strategies for a document type, most
// to least specific.
func strategiesFor(docType string) []strategy {
	switch docType {
	case "law", "regulation":
		return []strategy{articleStrategy, sectionStrategy, chapterStrategy, clauseStrategy, numberedStrategy, romanStrategy}
	case "case_law":
		return []strategy{sectionStrategy, romanStrategy, chapterStrategy, numberedStrategy}
	case "contract":
		return []strategy{clauseStrategy, articleStrategy, sectionStrategy, numberedStrategy}
	default:
		return []strategy{articleStrategy, sectionStrategy, chapterStrategy, clauseStrategy, numberedStrategy, romanStrategy}
	}
}

// apply splits text at the strategy's marker positions. It succeeds only
// when the pattern yields at least two chunks; text before the first
// marker becomes a preamble chunk when non-blank, otherwise it is
// absorbed into the first chunk so spans always cover the whole input.
func (s strategy) apply(text string) ([]Chunk, bool) {
	locs := s.re.FindAllStringSubmatchIndex(text, -1)
	if len(locs) < 2 {
		return nil, false
	}

	var chunks []Chunk
	first := locs[0][0]
	if strings.TrimSpace(text[:first]) != "" {
		chunks = append(chunks, Chunk{
			Label:   "Preamble",
			Content: text[:first],
			Start:   0,
			End:     first,
		})
	}

	for i, loc := range locs {
		start := loc[0]
		if i == 0 && len(chunks) == 0 {
			// Absorb blank leading text into the first chunk.
			start = 0
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		chunks = append(chunks, Chunk{
			Label:   fmt.Sprintf(s.format, text[loc[2]:loc[3]]),
			Content: text[start:end],
			Start:   start,
			End:     end,
		})
	}
	return chunks, true
}
