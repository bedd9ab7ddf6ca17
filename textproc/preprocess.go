// Package textproc normalizes extracted text before chunking and records
// basic statistics about it. Normalization never fails: any input string
// produces a cleaned output and a language tag, using "unknown" when the
// language cannot be determined.
package textproc

import (
	"regexp"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Result holds the normalized text and detected properties.
type Result struct {
	Text      string
	Language  string // ISO 639-1 code, or "unknown"
	WordCount int
	CharCount int
}

var (
	// Control characters except \n and \t.
	controlRe = regexp.MustCompile("[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]")
	// Runs of spaces and tabs (line structure is preserved for the
	// structural chunker, which matches markers at line starts).
	spaceRunRe = regexp.MustCompile(`[ \t]+`)
	// Three or more consecutive newlines.
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Normalize cleans extracted text: normalizes line endings, strips control
// characters, and collapses redundant whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = controlRe.ReplaceAllString(text, "")
	text = spaceRunRe.ReplaceAllString(text, " ")
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// minLanguageConfidence is the whatlanggo confidence below which the
// detection result is discarded in favour of "unknown".
const minLanguageConfidence = 0.5

// DetectLanguage returns the dominant language of text as an ISO 639-1
// code. Short or unrecognizable input yields "unknown" rather than an
// error.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return "unknown"
	}
	info := whatlanggo.Detect(text)
	if info.Confidence < minLanguageConfidence {
		return "unknown"
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "unknown"
	}
	return code
}

// Process runs the full preprocessing step over raw extracted text.
func Process(raw string) Result {
	text := Normalize(raw)
	return Result{
		Text:      text,
		Language:  DetectLanguage(text),
		WordCount: len(strings.Fields(text)),
		CharCount: len(text),
	}
}
