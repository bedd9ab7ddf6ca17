package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// JSONExtractor pulls document text out of JSON payloads: a "content"
// field on an object, the concatenated "content" fields of an array of
// objects, or the compact serialization as a last resort.
type JSONExtractor struct{}

func (e *JSONExtractor) Formats() []string { return []string{"json"} }

func (e *JSONExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		if content, ok := obj["content"].(string); ok {
			return content, nil
		}
		return compactJSON(data)
	}

	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		var parts []string
		for _, item := range list {
			if content, ok := item["content"].(string); ok && content != "" {
				parts = append(parts, content)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n\n"), nil
		}
		return compactJSON(data)
	}

	return "", fmt.Errorf("input is not valid JSON")
}

func compactJSON(data []byte) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("input is not valid JSON: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
