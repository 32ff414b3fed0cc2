package docext

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// fontInfo holds the decoding tables recovered for one page-resource font.
type fontInfo struct {
	res       string // resource name, e.g. "F1"
	base      string // BaseFont value
	encoding  string // WinAnsiEncoding, MacRomanEncoding, StandardEncoding, Symbol
	codeBytes int    // glyph code width in the content stream: 1 or 2
	toUnicode map[uint32]string
	diffs     map[byte]rune
}

// hasMap reports whether the font carries any table worth decoding through.
func (f *fontInfo) hasMap() bool {
	return len(f.toUnicode) > 0 || len(f.diffs) > 0 || f.encoding != ""
}

// decodeByte maps a single glyph code through the font's tables, trying
// ToUnicode, then /Differences, then the base encoding.
func (f *fontInfo) decodeByte(b byte) string {
	if s, ok := f.toUnicode[uint32(b)]; ok {
		return s
	}
	if r, ok := f.diffs[b]; ok {
		return string(r)
	}
	if r := baseEncodingRune(f.encoding, b); r != 0 {
		return string(r)
	}
	if b >= 0x20 && b < 0x7F {
		return string(rune(b))
	}
	return ""
}

// decodeCode maps a multi-byte glyph code (two-byte CID fonts) through the
// ToUnicode table.
func (f *fontInfo) decodeCode(code uint32) string {
	if s, ok := f.toUnicode[code]; ok {
		return s
	}
	return ""
}

// baseEncodingRune resolves a byte under one of the four standard base
// encodings. Returns 0 when the code is unmapped.
func baseEncodingRune(encoding string, b byte) rune {
	switch encoding {
	case "WinAnsiEncoding":
		return charmap.Windows1252.DecodeByte(b)
	case "MacRomanEncoding":
		return charmap.Macintosh.DecodeByte(b)
	case "StandardEncoding":
		return standardEncodingRune(b)
	case "Symbol", "SymbolEncoding":
		return symbolRune(b)
	}
	return 0
}

// standardEncodingRune maps a byte under Adobe StandardEncoding. ASCII
// carries over except the typographic quotes; the high range follows the
// published table for the glyphs that matter in running text.
func standardEncodingRune(b byte) rune {
	if b >= 0x20 && b <= 0x7E {
		switch b {
		case 0x27:
			return '’' // quoteright
		case 0x60:
			return '‘' // quoteleft
		}
		return rune(b)
	}
	return standardEncodingHigh[b]
}

var standardEncodingHigh = map[byte]rune{
	0xA1: '¡', 0xA2: '¢', 0xA3: '£', 0xA4: '⁄',
	0xA5: '¥', 0xA6: 'ƒ', 0xA7: '§', 0xA8: '¤',
	0xA9: '\'', 0xAA: '“', 0xAB: '«', 0xAC: '‹',
	0xAD: '›', 0xAE: 'ﬁ', 0xAF: 'ﬂ',
	0xB1: '–', 0xB2: '†', 0xB3: '‡', 0xB4: '·',
	0xB6: '¶', 0xB7: '•', 0xB8: '‚', 0xB9: '„',
	0xBA: '”', 0xBB: '»', 0xBC: '…', 0xBD: '‰',
	0xBF: '¿',
	0xC1: '`', 0xC2: '´', 0xC3: 'ˆ', 0xC4: '˜',
	0xC5: '¯', 0xC6: '˘', 0xC7: '˙', 0xC8: '¨',
	0xCA: '˚', 0xCB: '¸', 0xCD: '˝', 0xCE: '˛',
	0xCF: 'ˇ', 0xD0: '—',
	0xE1: 'Æ', 0xE3: 'ª', 0xE8: 'Ł', 0xE9: 'Ø',
	0xEA: 'Œ', 0xEB: 'º',
	0xF1: 'æ', 0xF5: 'ı', 0xF8: 'ł', 0xF9: 'ø',
	0xFA: 'œ', 0xFB: 'ß',
}

// symbolRune maps a byte under the Symbol font encoding (Greek letters at
// the Latin letter positions).
func symbolRune(b byte) rune {
	return symbolEncoding[b]
}

var symbolEncoding = map[byte]rune{
	'A': 'Α', 'B': 'Β', 'G': 'Γ', 'D': 'Δ', 'E': 'Ε', 'Z': 'Ζ',
	'H': 'Η', 'Q': 'Θ', 'I': 'Ι', 'K': 'Κ', 'L': 'Λ', 'M': 'Μ',
	'N': 'Ν', 'X': 'Ξ', 'O': 'Ο', 'P': 'Π', 'R': 'Ρ', 'S': 'Σ',
	'T': 'Τ', 'U': 'Υ', 'F': 'Φ', 'C': 'Χ', 'Y': 'Ψ', 'W': 'Ω',
	'a': 'α', 'b': 'β', 'g': 'γ', 'd': 'δ', 'e': 'ε', 'z': 'ζ',
	'h': 'η', 'q': 'θ', 'i': 'ι', 'k': 'κ', 'l': 'λ', 'm': 'μ',
	'n': 'ν', 'x': 'ξ', 'o': 'ο', 'p': 'π', 'r': 'ρ', 's': 'σ',
	't': 'τ', 'u': 'υ', 'f': 'φ', 'c': 'χ', 'y': 'ψ', 'w': 'ω',
	'j': 'ϕ', 'v': 'ϖ', 'V': 'ς',
	' ': ' ', '.': '.', ',': ',',
}

// symbolToLatin undoes a Symbol-font rendering of Latin text: each Greek
// letter maps back to the Latin letter sharing its glyph code.
var symbolToLatin = map[rune]rune{
	'α': 'a', 'β': 'b', 'χ': 'c', 'δ': 'd', 'ε': 'e', 'φ': 'f',
	'γ': 'g', 'η': 'h', 'ι': 'i', 'ϕ': 'j', 'κ': 'k', 'λ': 'l',
	'μ': 'm', 'ν': 'n', 'ο': 'o', 'π': 'p', 'θ': 'q', 'ρ': 'r',
	'σ': 's', 'ς': 's', 'τ': 't', 'υ': 'u', 'ϖ': 'v', 'ω': 'w',
	'ξ': 'x', 'ψ': 'y', 'ζ': 'z',
	'Α': 'A', 'Β': 'B', 'Χ': 'C', 'Δ': 'D', 'Ε': 'E', 'Φ': 'F',
	'Γ': 'G', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Λ': 'L', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'Π': 'P', 'Θ': 'Q', 'Ρ': 'R', 'Σ': 'S',
	'Τ': 'T', 'Υ': 'U', 'Ω': 'W', 'Ξ': 'X', 'Ψ': 'Y', 'Ζ': 'Z',
}

// repairSymbolText maps Greek letters back to Latin when at least half of
// the letters in text are Greek, the signature of Latin text rendered
// through a Symbol font. Returns the input unchanged otherwise.
func repairSymbolText(text string) (string, bool) {
	letters, greek := 0, 0
	for _, r := range text {
		if _, ok := symbolToLatin[r]; ok {
			greek++
			letters++
		} else if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	if letters == 0 || float64(greek)/float64(letters) < 0.5 {
		return text, false
	}
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if l, ok := symbolToLatin[r]; ok {
			sb.WriteRune(l)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String(), true
}

// mapGlyphName resolves a /Differences glyph name to a rune: single
// characters pass through, uniXXXX and uXXXX parse as hex code points, and
// the common AGL names come from a table.
func mapGlyphName(name string) (rune, bool) {
	if name == "" {
		return 0, false
	}
	if len(name) == 1 {
		return rune(name[0]), true
	}
	if strings.HasPrefix(name, "uni") && len(name) >= 7 {
		if n, err := strconv.ParseUint(name[3:7], 16, 32); err == nil {
			return rune(n), true
		}
	}
	if name[0] == 'u' && len(name) >= 5 && len(name) <= 7 {
		if n, err := strconv.ParseUint(name[1:], 16, 32); err == nil && n <= 0x10FFFF {
			return rune(n), true
		}
	}
	r, ok := glyphNames[name]
	return r, ok
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#',
	"dollar": '$', "percent": '%', "ampersand": '&', "quotesingle": '\'',
	"parenleft": '(', "parenright": ')', "asterisk": '*', "plus": '+',
	"comma": ',', "hyphen": '-', "minus": '-', "period": '.', "slash": '/',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
	"colon": ':', "semicolon": ';', "less": '<', "equal": '=',
	"greater": '>', "question": '?', "at": '@', "bracketleft": '[',
	"backslash": '\\', "bracketright": ']', "asciicircum": '^',
	"underscore": '_', "grave": '`', "braceleft": '{', "bar": '|',
	"braceright": '}', "asciitilde": '~',
	"quoteleft": '‘', "quoteright": '’',
	"quotedblleft": '“', "quotedblright": '”',
	"endash": '–', "emdash": '—', "bullet": '•',
	"ellipsis": '…', "fi": 'ﬁ', "fl": 'ﬂ',
	"adieresis": 'ä', "odieresis": 'ö', "udieresis": 'ü',
	"eacute": 'é', "egrave": 'è', "agrave": 'à',
	"ccedilla": 'ç', "germandbls": 'ß', "degree": '°',
	"nbspace": ' ',
}
