package docext

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// decoderID names one of the candidate character sets a PDF buffer is
// decoded under before the text strategies run.
type decoderID string

const (
	decUTF8    decoderID = "utf8"
	decLatin1  decoderID = "latin1"
	decWin1252 decoderID = "windows1252"
	decISO8859 decoderID = "iso88591"
	decASCII   decoderID = "ascii"
)

// pdfDecoders is the declarative decoder order. latin1 doubles as the
// byte-transparent view used by strategies that work on raw bytes.
var pdfDecoders = []decoderID{decUTF8, decLatin1, decWin1252, decISO8859, decASCII}

// decodeBuffer produces the full-buffer string decoding for one character
// set. Decoding never fails: invalid input degrades to replacement runes
// (utf8) or dropped bytes (ascii).
func decodeBuffer(id decoderID, raw []byte) string {
	switch id {
	case decUTF8:
		return string(bytes.ToValidUTF8(raw, []byte("�")))
	case decLatin1:
		var sb strings.Builder
		sb.Grow(len(raw))
		for _, b := range raw {
			sb.WriteRune(rune(b))
		}
		return sb.String()
	case decWin1252:
		out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return ""
		}
		return string(out)
	case decISO8859:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return ""
		}
		return string(out)
	case decASCII:
		var sb strings.Builder
		sb.Grow(len(raw))
		for _, b := range raw {
			if b < 0x80 {
				sb.WriteByte(b)
			}
		}
		return sb.String()
	}
	return ""
}
