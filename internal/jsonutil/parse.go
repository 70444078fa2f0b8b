// Package jsonutil decodes JSON documents that arrive embedded as strings
// inside other payloads, such as the asset metadata field of a signed
// upload target.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractObject returns the JSON object in text, trimming anything before the
// first '{' and after the last '}'.
func ExtractObject(text string) (string, error) {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found")
	}
	text = text[start:]

	end := strings.LastIndex(text, "}")
	if end == -1 {
		return "", fmt.Errorf("no closing } found")
	}
	return text[:end+1], nil
}

// ParseObject extracts the JSON object from raw and unmarshals it into T.
func ParseObject[T any](raw string) (T, error) {
	var zero T

	obj, err := ExtractObject(raw)
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var result T
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, Truncate(obj, 200))
	}
	return result, nil
}

// Truncate returns the first n bytes of s, appending "..." if truncated.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
