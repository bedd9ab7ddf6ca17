package extract

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// decodeText returns data as a UTF-8 string. Valid UTF-8 passes through;
// anything else goes through the charset heuristic detector, covering
// legacy single-byte encodings commonly found in older legal archives.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, "")
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s text: %w", name, err)
	}
	return string(decoded), nil
}
