// Package extract converts raw bytes of heterogeneous document formats
// into plain UTF-8 text. Extraction is a pure transform: it reports
// failure for corrupt or unsupported input and is never retried.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Extractor converts the raw bytes of one format into plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
	Formats() []string
}

// Registry maps formats (lowercase extensions without the dot) to
// extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry returns a Registry with all built-in extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	for _, e := range []Extractor{
		&TextExtractor{},
		&PDFExtractor{},
		&DOCXExtractor{},
		&HTMLExtractor{},
		&RTFExtractor{},
		&JSONExtractor{},
		&XLSXExtractor{},
	} {
		for _, f := range e.Formats() {
			r.extractors[f] = e
		}
	}
	return r
}

// Get returns the extractor for a format.
func (r *Registry) Get(format string) (Extractor, error) {
	e, ok := r.extractors[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no extractor for format: %s", format)
	}
	return e, nil
}

// Register adds or replaces the extractor for a format.
func (r *Registry) Register(format string, e Extractor) {
	r.extractors[strings.ToLower(format)] = e
}

// Sniff determines the format of data, preferring the filename extension
// and falling back to content signatures.
func Sniff(data []byte, filename string) string {
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" {
		switch ext {
		case "htm":
			return "html"
		case "text":
			return "txt"
		default:
			return ext
		}
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return "pdf"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		// OOXML container; document.xml vs workbook is resolved by the
		// extractor itself.
		return "docx"
	case bytes.HasPrefix(data, []byte(`{\rtf`)):
		return "rtf"
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	switch {
	case len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '['):
		return "json"
	case bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype html")),
		bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html")):
		return "html"
	}
	return "txt"
}
