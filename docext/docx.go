package docext

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pearl-OS/PearlOS-sub006/zipread"
)

// docxViableFallback is the minimum residual length for the generic
// tag-strip fallback to count as real content.
const docxViableFallback = 50

// maxTextRuns bounds the run scanner on hostile or enormous documents.
const maxTextRuns = 1 << 20

// extractDocx pulls word/document.xml out of the container and recovers
// the paragraph text from its WordprocessingML markup.
func extractDocx(data []byte, logger *slog.Logger) (string, error) {
	zr, err := zipread.New(data)
	if err != nil {
		return "", fmt.Errorf("read docx container: %w", err)
	}

	xmlData, err := documentXML(zr)
	if err != nil {
		return "", err
	}

	text := collectTextRuns(string(xmlData))
	if text == "" {
		// Non-standard or malformed WordprocessingML: strip every tag and
		// keep the residue only if it clears the viability threshold.
		stripped := stripTags(string(xmlData))
		if len(stripped) > docxViableFallback {
			logger.Debug("docx fallback to generic tag strip", "chars", len(stripped))
			text = stripped
		}
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text recovered from document.xml", ErrEmptyDocument)
	}
	return text, nil
}

// documentXML locates the main document part: word/document.xml, or any
// entry ending in /document.xml for packages with a nonstandard layout.
// A corrupt deflate stream degrades to the raw bytes rather than failing.
func documentXML(zr *zipread.Reader) ([]byte, error) {
	entry, ok := zr.Entry("word/document.xml")
	if !ok {
		for _, e := range zr.Entries() {
			if strings.HasSuffix(e.Name, "/document.xml") {
				entry, ok = e, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: document.xml not found in archive", zipread.ErrEntryNotFound)
	}

	xmlData, err := zr.Open(entry)
	if err != nil && !errors.Is(err, zipread.ErrBadDeflate) {
		return nil, fmt.Errorf("open %s: %w", entry.Name, err)
	}
	return xmlData, nil
}

// collectTextRuns harvests every <w:t>…</w:t> run in document order and
// joins the decoded contents with single spaces.
func collectTextRuns(xml string) string {
	var parts []string
	pos := 0
	for len(parts) < maxTextRuns {
		start := strings.Index(xml[pos:], "<w:t")
		if start < 0 {
			break
		}
		start += pos

		// The opening tag is either <w:t> or <w:t attr="…">; reject
		// longer element names like <w:tbl>.
		tagEnd := strings.IndexByte(xml[start:], '>')
		if tagEnd < 0 {
			break
		}
		tagEnd += start
		rest := xml[start+4 : tagEnd]
		if rest != "" && rest[0] != ' ' && rest[0] != '/' && rest[0] != '\t' && rest[0] != '\n' {
			pos = start + 4
			continue
		}
		if strings.HasSuffix(rest, "/") { // self-closing empty run
			pos = tagEnd + 1
			continue
		}

		closing := strings.Index(xml[tagEnd+1:], "</w:t>")
		if closing < 0 {
			break
		}
		inner := xml[tagEnd+1 : tagEnd+1+closing]
		if decoded := decodeXMLEntities(inner); decoded != "" {
			parts = append(parts, decoded)
		}
		pos = tagEnd + 1 + closing + len("</w:t>")
	}
	return strings.Join(parts, " ")
}

// decodeXMLEntities resolves the five predefined XML entities plus numeric
// character references.
func decodeXMLEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '&' {
			sb.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i:], ';')
		if end < 0 || end > 10 {
			sb.WriteByte(s[i])
			i++
			continue
		}
		ent := s[i+1 : i+end]
		switch ent {
		case "amp":
			sb.WriteByte('&')
		case "lt":
			sb.WriteByte('<')
		case "gt":
			sb.WriteByte('>')
		case "quot":
			sb.WriteByte('"')
		case "apos":
			sb.WriteByte('\'')
		default:
			if r, ok := decodeCharRef(ent); ok {
				sb.WriteRune(r)
			} else {
				sb.WriteString(s[i : i+end+1])
			}
		}
		i += end + 1
	}
	return sb.String()
}

func decodeCharRef(ent string) (rune, bool) {
	if len(ent) < 2 || ent[0] != '#' {
		return 0, false
	}
	var n int64
	var err error
	if ent[1] == 'x' || ent[1] == 'X' {
		n, err = strconv.ParseInt(ent[2:], 16, 32)
	} else {
		n, err = strconv.ParseInt(ent[1:], 10, 32)
	}
	if err != nil || n <= 0 || n > 0x10FFFF {
		return 0, false
	}
	return rune(n), true
}

// stripTags removes every <…> region and collapses the remaining
// whitespace. Entities are decoded afterward so markup survives inside
// attribute values without leaking tags into the output.
func stripTags(xml string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xml {
		switch {
		case r == '<':
			inTag = true
			sb.WriteByte(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(collapseSpaces(decodeXMLEntities(sb.String())))
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
