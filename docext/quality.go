package docext

import (
	"strings"
	"unicode"
)

// Quality captures extraction quality metrics used for OCR escalation
// decisions and failure diagnostics.
type Quality struct {
	PageCount      int     `json:"page_count"`
	ReadableRatio  float64 `json:"readable_ratio"`
	ReadableCount  int     `json:"readable_count"`
	PrintableRatio float64 `json:"printable_ratio"`
	WordlikeRatio  float64 `json:"wordlike_ratio"`
	HasImageStreams bool   `json:"has_image_streams"`
}

// isReadableRune reports whether r belongs to the readable character class:
// letters, digits, whitespace and common punctuation [A-Za-z0-9\s.,!?;:'"()-].
func isReadableRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '\t', r == '\n', r == '\r', r == '\v', r == '\f':
		return true
	}
	switch r {
	case '.', ',', '!', '?', ';', ':', '\'', '"', '(', ')', '-':
		return true
	}
	return false
}

// readableStats returns the count of readable runes in text and their
// ratio over the total rune count. Empty text scores zero.
func readableStats(text string) (count int, ratio float64) {
	total := 0
	for _, r := range text {
		total++
		if isReadableRune(r) {
			count++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return count, float64(count) / float64(total)
}

// readableRatio is the scoring primitive for candidate selection.
func readableRatio(text string) float64 {
	_, ratio := readableStats(text)
	return ratio
}

// computePrintableRatio returns the ratio of printable characters in text.
// Excludes PUA U+E000-U+F8FF, control chars < U+0020 (except \n\r\t), U+FFFD.
func computePrintableRatio(text string) float64 {
	if len(text) == 0 {
		return 1.0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	// Private Use Area
	if r >= 0xE000 && r <= 0xF8FF {
		return true
	}
	// Replacement character
	if r == 0xFFFD {
		return true
	}
	// Control chars except whitespace
	if r < 0x0020 && r != '\n' && r != '\r' && r != '\t' {
		return true
	}
	return false
}

// computeWordlikeRatio returns the ratio of word-like tokens (length 2-15)
// to total tokens.
func computeWordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		n := len([]rune(f))
		if n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

// readableWordRatio returns the fraction of tokens that are purely
// alphabetic words of two or more letters. Stricter than the wordlike
// metric: PDF syntax tokens like "/Type" or "<<" never qualify, so a scan
// over raw file bytes cannot pass itself off as document text.
func readableWordRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	words := 0
	for _, f := range fields {
		if isAlphaWord(f) {
			words++
		}
	}
	return float64(words) / float64(len(fields))
}

func isAlphaWord(tok string) bool {
	n := 0
	for _, r := range tok {
		if !unicode.IsLetter(r) {
			return false
		}
		n++
	}
	return n >= 2
}

// wordScanThreshold gates the last-resort byte scanner: its output is kept
// only when at least 30% of tokens are readable words.
const wordScanThreshold = 0.30
