package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RTFExtractor strips RTF control words and groups, keeping visible text.
// Destination groups (font tables, stylesheets, embedded objects) are
// skipped entirely.
type RTFExtractor struct{}

func (e *RTFExtractor) Formats() []string { return []string{"rtf"} }

// skippedDestinations are RTF group destinations with no visible text.
var skippedDestinations = map[string]bool{
	"fonttbl": true, "colortbl": true, "stylesheet": true, "info": true,
	"pict": true, "object": true, "header": true, "footer": true,
}

func (e *RTFExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if !strings.HasPrefix(string(data[:min(len(data), 5)]), `{\rtf`) {
		return "", fmt.Errorf("not an RTF document")
	}

	var b strings.Builder
	src := string(data)
	skipDepth := 0 // depth inside a skipped destination group, 0 = not skipping
	depth := 0

	for i := 0; i < len(src); i++ {
		ch := src[i]
		switch ch {
		case '{':
			depth++
			// Peek for a destination control word right after the brace.
			// Groups opened with \* are optional destinations and carry
			// no visible text either.
			if i+1 < len(src) && src[i+1] == '\\' && skipDepth == 0 {
				word, _ := rtfControlWord(src, i+2)
				if word == "*" || skippedDestinations[word] {
					skipDepth = depth
				}
			}
		case '}':
			if skipDepth == depth {
				skipDepth = 0
			}
			depth--
		case '\\':
			word, next := rtfControlWord(src, i+1)
			switch word {
			case "par", "line", "sect", "page":
				if skipDepth == 0 {
					b.WriteByte('\n')
				}
			case "tab":
				if skipDepth == 0 {
					b.WriteByte('\t')
				}
			case "'":
				// Hex-escaped byte: \'hh
				if next+2 <= len(src) {
					if v, err := strconv.ParseUint(src[next:next+2], 16, 8); err == nil && skipDepth == 0 {
						b.WriteByte(byte(v))
					}
					next += 2
				}
			case "\\", "{", "}":
				if skipDepth == 0 {
					b.WriteString(word)
				}
			}
			i = next - 1
		case '\r', '\n':
			// Raw newlines in RTF source are not document text.
		default:
			if skipDepth == 0 {
				b.WriteByte(ch)
			}
		}
	}

	return strings.TrimSpace(b.String()), nil
}

// rtfControlWord reads the control word starting at position i (just
// after a backslash) and returns it with the position following it.
// Single-character control symbols return themselves.
func rtfControlWord(src string, i int) (string, int) {
	if i >= len(src) {
		return "", i
	}
	ch := src[i]
	if !isRTFLetter(ch) {
		return string(ch), i + 1
	}
	j := i
	for j < len(src) && isRTFLetter(src[j]) {
		j++
	}
	word := src[i:j]
	// Optional numeric parameter.
	for j < len(src) && (src[j] == '-' || (src[j] >= '0' && src[j] <= '9')) {
		j++
	}
	// A single trailing space is part of the control word.
	if j < len(src) && src[j] == ' ' {
		j++
	}
	return word, j
}

func isRTFLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
