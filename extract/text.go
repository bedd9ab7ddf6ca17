package extract

import "context"

// TextExtractor handles plain text input.
type TextExtractor struct{}

func (e *TextExtractor) Formats() []string { return []string{"txt", "md"} }

func (e *TextExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	return decodeText(data)
}
