package chat

import "strings"

// splitCSV splits a comma-separated LLM suggestion line into trimmed,
// non-empty names.
func splitCSV(text string) []string {
	text = firstLine(text)
	var out []string
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// firstLine returns text up to its first newline, trimmed.
func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i != -1 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// containsStr reports whether needle appears among haystack's string
// elements (haystack is a decoded JSON array, so elements are
// interface{}).
func containsStr(haystack []interface{}, needle string) bool {
	for _, h := range haystack {
		if s, ok := h.(string); ok && s == needle {
			return true
		}
	}
	return false
}
