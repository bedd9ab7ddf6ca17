package rag

import (
	"strings"
	"unicode"
)

// snippetLength is the target size of search result excerpts.
const snippetLength = 240

// snippet extracts an excerpt of content centred on the first occurrence
// of a significant query term, falling back to the chunk's opening text.
func snippet(content, query string, maxLen int) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}

	pos := -1
	lower := strings.ToLower(content)
	for _, term := range significantTerms(query) {
		if i := strings.Index(lower, term); i >= 0 && (pos == -1 || i < pos) {
			pos = i
		}
	}

	if pos <= maxLen/2 {
		// Term near the start (or absent): take the prefix.
		return trimToWord(content[:maxLen], false) + "…"
	}

	start := pos - maxLen/2
	end := start + maxLen
	if end > len(content) {
		end = len(content)
		start = end - maxLen
	}
	excerpt := trimToWord(content[start:end], true)
	out := "…" + excerpt
	if end < len(content) {
		out += "…"
	}
	return out
}

// significantTerms returns the lowercase query words worth locating in
// chunk text. Short words carry no signal for positioning a snippet.
func significantTerms(query string) []string {
	var terms []string
	for _, w := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(w) >= 4 {
			terms = append(terms, w)
		}
	}
	return terms
}

// trimToWord drops the partial word at the cut edge. leading trims the
// front of the excerpt, otherwise the back.
func trimToWord(s string, leading bool) string {
	if leading {
		if i := strings.IndexByte(s, ' '); i >= 0 && i < len(s)/4 {
			return strings.TrimSpace(s[i:])
		}
		return s
	}
	if i := strings.LastIndexByte(s, ' '); i > len(s)*3/4 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
