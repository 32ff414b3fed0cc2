package docext

import "strings"

// extractPlainText trims a text buffer and rejects empty content.
// Markdown and plain text share this path: both are returned as-is so the
// caller keeps the author's original structure.
func extractPlainText(data []byte) (string, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// firstLine returns the first non-empty line of text, capped at 200 runes.
// Used for log context on large extractions.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 200 {
			return string(r[:200])
		}
		return line
	}
	return ""
}
