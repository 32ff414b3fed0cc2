package docext

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// strategyFamily ranks how much structural evidence backs a strategy's
// output. Selection may not let a low-confidence candidate beat a directly
// acceptable structural one.
type strategyFamily int

const (
	famStructural strategyFamily = iota
	famHeuristic
	famLowConfidence
)

const (
	stratStructuralLib = "structural-lib"
	stratStructuralAlt = "structural-alt"
	stratToUnicodeCMap = "tounicode-cmap"
	stratBTETBlocks    = "bt-et-blocks"
	stratStreamObjects = "stream-objects"
	stratRegexText     = "regex-text"
	stratShiftCipher   = "shift-cipher"
	stratFreqSub       = "freq-substitution"
	stratByteScan      = "byte-scan"
)

// pdfStrategy is one recovery approach. rawOnly strategies work on the raw
// bytes (or structures parsed from them) and pair only with the
// byte-transparent decoder; the rest receive each decoded view in turn.
type pdfStrategy struct {
	id      string
	family  strategyFamily
	rawOnly bool
	run     func(d *pdfDoc, view string) (string, bool)
}

// pdfStrategies lists every strategy in attempt order: structural readers
// first, then pattern harvesting, then the desperate guesses.
var pdfStrategies = []pdfStrategy{
	{stratStructuralLib, famStructural, true, runStructuralLib},
	{stratStructuralAlt, famStructural, true, runStructuralAlt},
	{stratToUnicodeCMap, famStructural, true, runToUnicode},
	{stratBTETBlocks, famStructural, false, runBTET},
	{stratStreamObjects, famHeuristic, true, runStreamObjects},
	{stratRegexText, famHeuristic, false, runRegexText},
	{stratShiftCipher, famLowConfidence, false, runShiftCipher},
	{stratFreqSub, famLowConfidence, false, runFreqSubstitution},
	{stratByteScan, famLowConfidence, false, runByteScan},
}

// runStructuralLib extracts page content streams through pdfcpu and scans
// them for show-text operators.
func runStructuralLib(d *pdfDoc, _ string) (string, bool) {
	if d.pcpu == nil {
		return "", false
	}
	text, err := pdfcpuPageText(d.pcpu)
	if err != nil || text == "" {
		return "", false
	}
	return text, true
}

func pdfcpuPageText(ctx *model.Context) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("page extraction panicked: %v", r)
		}
	}()
	var pages []string
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		if err != nil || len(data) == 0 {
			continue
		}
		if t := scanShowTextOps(data); t != "" {
			pages = append(pages, t)
		}
	}
	return strings.Join(pages, "\n"), nil
}

// runStructuralAlt reads the document through ledongthuc/pdf, which
// resolves font encodings on its own. The library panics on some malformed
// files, so every page read is recover-wrapped.
func runStructuralAlt(d *pdfDoc, _ string) (string, bool) {
	text, err := ledongthucText(d.raw)
	if err != nil || text == "" {
		return "", false
	}
	return text, true
}

func ledongthucText(raw []byte) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("pdf reader panicked: %v", r)
		}
	}()
	rd, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := 1; i <= rd.NumPage(); i++ {
		page := rd.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText := ledongthucPage(page)
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(pageText)
	}
	return strings.TrimSpace(sb.String()), nil
}

func ledongthucPage(page pdf.Page) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()
	t, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(t)
}

// runToUnicode decodes content streams through the font tables recovered
// from the document: ToUnicode CMaps, /Differences arrays, and the base
// encodings. Only fires when at least one font carries a usable table.
func runToUnicode(d *pdfDoc, _ string) (string, bool) {
	if !d.hasFontMap {
		return "", false
	}
	var parts []string
	for i := range d.objects {
		o := &d.objects[i]
		if o.data == nil || !looksLikeContent(o.data) {
			continue
		}
		if t := decodeContentWithFonts(d, o.data); t != "" {
			parts = append(parts, t)
		}
	}
	out := strings.TrimSpace(strings.Join(parts, "\n"))
	return out, out != ""
}

// btBlockRe captures the payload of BT ... ET text blocks.
var btBlockRe = regexp.MustCompile(`(?s)BT(.*?)ET`)

// runBTET scans the decoded view for BT/ET text blocks and harvests the
// string arguments inside each block.
func runBTET(_ *pdfDoc, view string) (string, bool) {
	blocks := btBlockRe.FindAllStringSubmatch(view, -1)
	if len(blocks) == 0 {
		return "", false
	}
	var parts []string
	for _, blk := range blocks {
		if t := harvestStringArgs(blk[1]); t != "" {
			parts = append(parts, t)
		}
	}
	out := strings.TrimSpace(strings.Join(parts, "\n"))
	return out, out != ""
}

// runStreamObjects scans every recovered stream payload (inflated where
// possible) for show-text operators, picking up content that hides outside
// well-formed page trees.
func runStreamObjects(d *pdfDoc, _ string) (string, bool) {
	var parts []string
	for i := range d.objects {
		o := &d.objects[i]
		if o.data == nil || !looksLikeContent(o.data) {
			continue
		}
		if t := scanShowTextOps(o.data); t != "" {
			parts = append(parts, t)
		}
	}
	out := strings.TrimSpace(strings.Join(parts, "\n"))
	return out, out != ""
}

// runRegexText harvests every parenthesized and hex string literal in the
// decoded view, regardless of surrounding operators.
func runRegexText(_ *pdfDoc, view string) (string, bool) {
	out := strings.TrimSpace(harvestStringArgs(view))
	return out, out != ""
}

// cipherShifts are fixed glyph-code offsets seen in broken font subsets;
// the strategy tries each and keeps the most readable result.
var cipherShifts = []int{1, -1, 2, -2, 3, -3, 13, 29, -29, 31}

// runShiftCipher assumes the harvested literals are readable text displaced
// by a constant code offset and searches for the offset.
func runShiftCipher(_ *pdfDoc, view string) (string, bool) {
	source := harvestStringArgs(view)
	if source == "" {
		return "", false
	}
	var best string
	bestRatio := -1.0
	for _, shift := range cipherShifts {
		shifted := shiftRunes(source, shift)
		if shifted == "" {
			continue
		}
		if r := readableRatio(shifted); r > bestRatio {
			best, bestRatio = shifted, r
		}
	}
	best = strings.TrimSpace(best)
	return best, best != ""
}

func shiftRunes(s string, shift int) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			sb.WriteRune(r)
			continue
		}
		if v := int(r) + shift; v >= 0x20 && v <= 0x7E {
			sb.WriteRune(rune(v))
		}
	}
	return sb.String()
}

// runFreqSubstitution handles symbolic-font output: Greek-heavy text is
// mapped back through the Symbol table, anything else goes through
// letter-frequency substitution. Only harvested string literals qualify as
// source material; raw file bytes would just launder syntax into noise.
func runFreqSubstitution(_ *pdfDoc, view string) (string, bool) {
	source := harvestStringArgs(view)
	if source == "" {
		return "", false
	}
	if repaired, ok := repairSymbolText(source); ok {
		return repaired, true
	}
	out := strings.TrimSpace(frequencyDecode(source))
	return out, out != ""
}

// englishFreqOrder ranks letters by corpus frequency; the substitution maps
// the most common glyph codes onto it.
const englishFreqOrder = "etaoinshrdlcumwfgypbvkjxqz"

// frequencyDecode builds a substitution from glyph-code frequency ranks to
// the English letter-frequency order. Needs enough material to rank; short
// or low-variety input yields nothing.
func frequencyDecode(s string) string {
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		if r > 0x20 && r != 0x7F {
			counts[r]++
			total++
		}
	}
	if total < 40 || len(counts) < 8 {
		return ""
	}

	type runeCount struct {
		r rune
		n int
	}
	ranked := make([]runeCount, 0, len(counts))
	for r, n := range counts {
		ranked = append(ranked, runeCount{r, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].r < ranked[j].r
	})

	sub := make(map[rune]rune, len(ranked))
	next := 0
	if !strings.ContainsRune(s, ' ') {
		sub[ranked[0].r] = ' '
		next = 1
	}
	for j := 0; next < len(ranked) && j < len(englishFreqOrder); j++ {
		sub[ranked[next].r] = rune(englishFreqOrder[j])
		next++
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if out, ok := sub[r]; ok {
			sb.WriteRune(out)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// runByteScan is the last resort: keep printable runs from the decoded view
// and accept only if enough of the result reads as actual words. The word
// gate is what separates a text file wearing a .pdf extension from a binary
// whose syntax happens to be printable.
func runByteScan(_ *pdfDoc, view string) (string, bool) {
	out := printableRuns(view, 4)
	if out == "" {
		return "", false
	}
	if readableWordRatio(out) < wordScanThreshold {
		return "", false
	}
	return out, true
}

// printableRuns keeps maximal runs of printable characters of at least
// minLen runes, joined with single spaces.
func printableRuns(s string, minLen int) string {
	var parts []string
	var run []rune
	flush := func() {
		if len(run) >= minLen {
			parts = append(parts, string(run))
		}
		run = run[:0]
	}
	for _, r := range s {
		if (r >= 0x20 && r <= 0x7E) || unicode.IsLetter(r) {
			run = append(run, r)
		} else {
			flush()
		}
	}
	flush()
	return strings.Join(parts, " ")
}

// looksLikeContent reports whether a stream payload plausibly holds text
// operators worth scanning.
func looksLikeContent(data []byte) bool {
	return bytes.Contains(data, []byte("BT")) ||
		bytes.Contains(data, []byte("Tj")) ||
		bytes.Contains(data, []byte("TJ"))
}

// pdfStringRe matches PDF string literals in parentheses on a single
// operator line: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// pdfLiteralRe is the escape-aware variant used when harvesting across a
// whole buffer, where escaped parens are common.
var pdfLiteralRe = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)

// pdfHexStrRe matches hex string literals; the leading digit requirement
// keeps it from eating dictionary markers.
var pdfHexStrRe = regexp.MustCompile(`<([0-9A-Fa-f][0-9A-Fa-f \t\r\n]*)>`)

// scanShowTextOps parses content-stream operators line by line for text:
// Tj/TJ/quote show-text arguments, with Td/TD and T* contributing word and
// line breaks.
func scanShowTextOps(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			writeStringArgs(&sb, line)

		case bytes.HasSuffix(line, []byte("'")), bytes.HasSuffix(line, []byte("\"")):
			if bytes.Contains(line, []byte("(")) || bytes.Contains(line, []byte("<")) {
				sb.WriteByte('\n')
				writeStringArgs(&sb, line)
			}

		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}

		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanContentText(sb.String())
}

func writeStringArgs(sb *strings.Builder, line []byte) {
	for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
		if t := decodePDFString(m[1]); t != "" {
			sb.WriteString(t)
		}
	}
	for _, m := range pdfHexStrRe.FindAllSubmatch(line, -1) {
		if t := decodeHexStringBytes(m[1]); t != "" {
			sb.WriteString(t)
		}
	}
}

// harvestStringArgs collects every string literal in s, resolving escapes
// and decoding hex strings, joined with single spaces.
func harvestStringArgs(s string) string {
	var parts []string
	for _, m := range pdfLiteralRe.FindAllStringSubmatch(s, -1) {
		if t := decodePDFString([]byte(m[1])); strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	for _, m := range pdfHexStrRe.FindAllStringSubmatch(s, -1) {
		if t := decodeHexStringBytes([]byte(m[1])); strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// decodePDFString resolves PDF string escape sequences, including octal
// character codes.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			i++
			switch raw[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\\':
				sb.WriteByte('\\')
			case '(':
				sb.WriteByte('(')
			case ')':
				sb.WriteByte(')')
			default:
				if raw[i] >= '0' && raw[i] <= '7' {
					val := int(raw[i] - '0')
					if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
						i++
						val = val*8 + int(raw[i]-'0')
						if i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7' {
							i++
							val = val*8 + int(raw[i]-'0')
						}
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(raw[i])
				}
			}
		} else {
			sb.WriteByte(raw[i])
		}
	}
	return sb.String()
}

// decodeHexStringBytes decodes a hex string body. Byte pairs that look like
// UTF-16BE (mostly zero high bytes) decode as such; otherwise printable
// ASCII bytes are kept.
func decodeHexStringBytes(h []byte) string {
	var digits []byte
	for _, c := range h {
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return ""
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for k := 0; k+1 < len(digits); k += 2 {
		raw = append(raw, hexVal(digits[k])<<4|hexVal(digits[k+1]))
	}

	if len(raw) >= 2 && len(raw)%2 == 0 {
		zeroHigh := 0
		for k := 0; k < len(raw); k += 2 {
			if raw[k] == 0 {
				zeroHigh++
			}
		}
		if zeroHigh*2 >= len(raw)/2 {
			units := make([]uint16, 0, len(raw)/2)
			for k := 0; k+1 < len(raw); k += 2 {
				units = append(units, uint16(raw[k])<<8|uint16(raw[k+1]))
			}
			return string(utf16.Decode(units))
		}
	}

	var sb strings.Builder
	for _, b := range raw {
		if b >= 0x20 && b < 0x7F {
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// decodeContentWithFonts tokenizes a content stream tracking /Name Tf font
// selections and decodes every show-text argument through the active
// font's tables.
func decodeContentWithFonts(d *pdfDoc, data []byte) string {
	var sb strings.Builder
	cur := d.mappedFont()
	var lastName string
	var pending [][]byte

	flush := func() {
		for _, raw := range pending {
			sb.WriteString(decodeWithFont(cur, raw))
		}
		pending = pending[:0]
	}

	i := 0
	for i < len(data) {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' {
				i++
			}

		case c == '(':
			lit, next := parsePDFLiteral(data, i)
			pending = append(pending, lit)
			i = next

		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2

		case c == '<':
			hexBytes, next := parsePDFHexString(data, i)
			pending = append(pending, hexBytes)
			i = next

		case c == '/':
			name, next := parsePDFName(data, i)
			lastName = name
			i = next

		case isRegularChar(c):
			start := i
			for i < len(data) && isRegularChar(data[i]) {
				i++
			}
			switch tok := string(data[start:i]); tok {
			case "Tf":
				if fi, ok := d.fonts[lastName]; ok {
					cur = fi
				}
				pending = pending[:0]
			case "Tj", "TJ":
				flush()
			case "'", "\"":
				sb.WriteByte('\n')
				flush()
			case "Td", "TD":
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				pending = pending[:0]
			case "T*":
				sb.WriteByte('\n')
				pending = pending[:0]
			case "BT", "ET":
				pending = pending[:0]
			default:
				// Numbers interleave TJ array strings and stay pending;
				// any other operator consumes its arguments.
				if !isNumericToken(tok) {
					pending = pending[:0]
				}
			}

		default:
			i++
		}
	}
	flush()

	return cleanContentText(sb.String())
}

// decodeWithFont maps one show-text argument through the font tables. With
// no usable font only printable ASCII survives.
func decodeWithFont(fi *fontInfo, raw []byte) string {
	if fi == nil || !fi.hasMap() {
		var sb strings.Builder
		for _, b := range raw {
			if (b >= 0x20 && b < 0x7F) || b == '\n' || b == '\t' {
				sb.WriteByte(b)
			}
		}
		return sb.String()
	}

	var sb strings.Builder
	if fi.codeBytes == 2 {
		for k := 0; k+1 < len(raw); k += 2 {
			code := uint32(raw[k])<<8 | uint32(raw[k+1])
			if s := fi.decodeCode(code); s != "" {
				sb.WriteString(s)
				continue
			}
			if s := fi.decodeByte(raw[k+1]); s != "" {
				sb.WriteString(s)
			}
		}
		return sb.String()
	}

	for _, b := range raw {
		sb.WriteString(fi.decodeByte(b))
	}
	return sb.String()
}

// parsePDFLiteral reads a parenthesized string starting at data[i] == '(',
// resolving escapes and balanced nested parens. Returns the content and the
// index after the closing paren.
func parsePDFLiteral(data []byte, i int) ([]byte, int) {
	var out []byte
	depth := 1
	i++
	for i < len(data) {
		c := data[i]
		if c == '\\' && i+1 < len(data) {
			i++
			switch data[i] {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b', 'f':
			case '(', ')', '\\':
				out = append(out, data[i])
			case '\n':
			case '\r':
				if i+1 < len(data) && data[i+1] == '\n' {
					i++
				}
			default:
				if data[i] >= '0' && data[i] <= '7' {
					val := int(data[i] - '0')
					for k := 0; k < 2 && i+1 < len(data) && data[i+1] >= '0' && data[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(data[i]-'0')
					}
					out = append(out, byte(val))
				} else {
					out = append(out, data[i])
				}
			}
			i++
			continue
		}
		if c == '(' {
			depth++
			out = append(out, c)
			i++
			continue
		}
		if c == ')' {
			depth--
			i++
			if depth == 0 {
				break
			}
			out = append(out, c)
			continue
		}
		out = append(out, c)
		i++
	}
	return out, i
}

// parsePDFHexString reads a hex string starting at data[i] == '<' and
// returns the decoded bytes plus the index after the closing '>'.
func parsePDFHexString(data []byte, i int) ([]byte, int) {
	i++
	start := i
	for i < len(data) && data[i] != '>' {
		i++
	}
	body := data[start:i]
	if i < len(data) {
		i++
	}

	var digits []byte
	for _, c := range body {
		if isHexDigit(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for k := 0; k+1 < len(digits); k += 2 {
		out = append(out, hexVal(digits[k])<<4|hexVal(digits[k+1]))
	}
	return out, i
}

// parsePDFName reads a name token starting at data[i] == '/'.
func parsePDFName(data []byte, i int) (string, int) {
	i++
	start := i
	for i < len(data) && isRegularChar(data[i]) {
		i++
	}
	return string(data[start:i]), i
}

// isRegularChar reports whether c is a PDF regular character: not
// whitespace and not a delimiter.
func isRegularChar(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return false
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

func isNumericToken(tok string) bool {
	if tok == "" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		switch c := tok[i]; {
		case c >= '0' && c <= '9':
		case c == '.' || c == '-' || c == '+':
		default:
			return false
		}
	}
	return true
}

// cleanContentText normalises whitespace in operator-scanned text and drops
// unprintable runes.
func cleanContentText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		} else if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
