package docext

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Caps on structural scans so corrupt files cannot blow up memory.
const (
	maxObjectScan  = 1 << 14
	maxCMapEntries = 1 << 16
	maxCMapSpan    = 1 << 12
)

// pdfObject is one indirect object recovered from the raw bytes. data holds
// the decompressed stream payload when inflation succeeded, the raw payload
// otherwise, and nil when the object has no stream.
type pdfObject struct {
	num     int
	dict    string
	payload []byte
	data    []byte
}

// pdfDoc is the shared read-only analysis of one PDF, built once before any
// extraction strategy runs. view is string(raw): strategies that locate
// structure by offset must search it, not a decoded text view, so that
// indices stay byte-aligned.
type pdfDoc struct {
	raw  []byte
	view string

	objects  []pdfObject
	byNum    map[int]*pdfObject
	fonts    map[string]*fontInfo
	allFonts []*fontInfo

	pageCount  int
	hasTextOps bool
	hasStreams bool
	hasFontMap bool
	hasImages  bool

	pcpu *model.Context
}

var (
	objHeaderRe = regexp.MustCompile(`(\d+)\s+\d+\s+obj\b`)
	streamKwRe  = regexp.MustCompile(`>>[ \t\r\n]*stream`)
	textOpRe    = regexp.MustCompile(`(?s)(?:^|[>\s])BT[\s]`)

	fontMapRe  = regexp.MustCompile(`(?s)/Font\s*<<(.*?)>>`)
	fontRefRe  = regexp.MustCompile(`/(\w+)\s+(\d+)\s+\d+\s+R`)
	typeFontRe = regexp.MustCompile(`/Type\s*/Font`)
	baseFontRe = regexp.MustCompile(`/BaseFont\s*/([^\s/<>\[\]()]+)`)
	encNameRe  = regexp.MustCompile(`/Encoding\s*/(\w+)`)
	encRefRe   = regexp.MustCompile(`/Encoding\s+(\d+)\s+\d+\s+R`)
	encDictRe  = regexp.MustCompile(`(?s)/Encoding\s*<<(.*?)>>`)
	baseEncRe  = regexp.MustCompile(`/BaseEncoding\s*/(\w+)`)
	toUniRe    = regexp.MustCompile(`/ToUnicode\s+(\d+)\s+\d+\s+R`)
	diffsRe    = regexp.MustCompile(`(?s)/Differences\s*\[(.*?)\]`)
	diffTokRe  = regexp.MustCompile(`(\d+)|/([^\s/\[\]<>()]+)`)
	pageTypeRe = regexp.MustCompile(`/Type\s*/Page(s?)\b`)
	imageSubRe = regexp.MustCompile(`/Subtype\s*/Image\b`)

	codespaceRe  = regexp.MustCompile(`(?s)begincodespacerange\s*<([0-9A-Fa-f]+)>\s*<([0-9A-Fa-f]+)>`)
	bfcharBlkRe  = regexp.MustCompile(`(?s)beginbfchar(.*?)endbfchar`)
	bfcharPairRe = regexp.MustCompile(`<([0-9A-Fa-f]+)>\s*<([0-9A-Fa-f]+)>`)
	bfrangeBlkRe = regexp.MustCompile(`(?s)beginbfrange(.*?)endbfrange`)
	bfrangeRowRe = regexp.MustCompile(`<([0-9A-Fa-f]+)>\s*<([0-9A-Fa-f]+)>\s*(?:<([0-9A-Fa-f]+)>|\[([^\]]*)\])`)
	hexGroupRe   = regexp.MustCompile(`<([0-9A-Fa-f]+)>`)
)

// parsePDF builds the shared document analysis. It never fails: a file with
// no recoverable structure yields a pdfDoc with empty tables, and the
// strategies decide what they can do with it.
func parsePDF(raw []byte, logger *slog.Logger) *pdfDoc {
	d := &pdfDoc{
		raw:   raw,
		view:  string(raw),
		byNum: make(map[int]*pdfObject),
		fonts: make(map[string]*fontInfo),
	}

	d.pcpu = readPdfcpuContext(raw, logger)

	d.scanObjects()
	d.scanFonts()

	d.hasTextOps = textOpRe.MatchString(d.view)
	for i := range d.objects {
		o := &d.objects[i]
		if o.payload != nil {
			d.hasStreams = true
		}
		if !d.hasTextOps && o.data != nil && textOpRe.Match(o.data) {
			d.hasTextOps = true
		}
	}

	if d.pcpu != nil {
		d.pageCount = d.pcpu.PageCount
	}
	if d.pageCount == 0 {
		d.pageCount = countPageObjects(d.view)
	}
	if d.pageCount == 0 && (d.hasTextOps || d.hasStreams) {
		d.pageCount = 1
	}

	d.hasImages = d.detectImages()
	return d
}

// readPdfcpuContext loads the document through pdfcpu, absorbing both
// errors and panics. Malformed files reach this path constantly and the
// library is allowed to give up; the byte-level scans still run.
func readPdfcpuContext(raw []byte, logger *slog.Logger) (ctx *model.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("pdfcpu read panicked", "panic", r)
			ctx = nil
		}
	}()
	conf := model.NewDefaultConfiguration()
	c, err := api.ReadValidateAndOptimize(bytes.NewReader(raw), conf)
	if err != nil {
		logger.Debug("pdfcpu read failed", "error", err)
		return nil
	}
	return c
}

// scanObjects recovers indirect objects from the raw bytes without trusting
// the xref table. Stream payloads are sliced between the stream keyword and
// the last endstream before the next object.
func (d *pdfDoc) scanObjects() {
	locs := objHeaderRe.FindAllStringSubmatchIndex(d.view, -1)
	if len(locs) > maxObjectScan {
		locs = locs[:maxObjectScan]
	}
	d.objects = make([]pdfObject, 0, len(locs))
	for i, loc := range locs {
		bodyStart := loc[1]
		bodyEnd := len(d.view)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := d.view[bodyStart:bodyEnd]
		if e := strings.LastIndex(body, "endobj"); e >= 0 {
			body = body[:e]
		}

		num, err := strconv.Atoi(d.view[loc[2]:loc[3]])
		if err != nil {
			continue
		}

		obj := pdfObject{num: num, dict: body}
		if m := streamKwRe.FindStringIndex(body); m != nil {
			obj.dict = body[:m[0]+2]
			payloadStart := m[1]
			if payloadStart < len(body) && body[payloadStart] == '\r' {
				payloadStart++
			}
			if payloadStart < len(body) && body[payloadStart] == '\n' {
				payloadStart++
			}
			payloadEnd := strings.LastIndex(body, "endstream")
			if payloadEnd < payloadStart {
				payloadEnd = len(body)
			}
			obj.payload = []byte(body[payloadStart:payloadEnd])
			obj.data = obj.payload
			if looksCompressed(obj.dict, obj.payload) {
				if inflated, err := inflateStream(obj.payload); err == nil {
					obj.data = inflated
				}
			}
		}

		d.objects = append(d.objects, obj)
	}
	for i := range d.objects {
		o := &d.objects[i]
		if _, dup := d.byNum[o.num]; !dup {
			d.byNum[o.num] = o
		}
	}
}

// looksCompressed reports whether a stream payload is worth running through
// the inflaters: either the dict declares FlateDecode or the payload opens
// with a zlib header byte.
func looksCompressed(dict string, payload []byte) bool {
	if strings.Contains(dict, "FlateDecode") {
		return true
	}
	return len(payload) >= 2 && payload[0] == 0x78
}

// inflateStream decompresses a stream payload, trying zlib first and raw
// deflate second. PDF FlateDecode data is zlib-wrapped, but files in the
// wild ship bare deflate bodies too.
func inflateStream(payload []byte) ([]byte, error) {
	if len(payload) >= 2 && payload[0] == 0x78 {
		if zr, err := zlib.NewReader(bytes.NewReader(payload)); err == nil {
			data, err := io.ReadAll(zr)
			zr.Close()
			if err == nil && len(data) > 0 {
				return data, nil
			}
		}
	}
	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()
	data, err := io.ReadAll(fr)
	if err != nil && len(data) == 0 {
		return nil, err
	}
	return data, nil
}

// scanFonts collects font resources and their decoding tables. Resource
// maps from every page are merged; the first binding of a resource name
// wins so repeated scans stay deterministic.
func (d *pdfDoc) scanFonts() {
	seen := make(map[int]*fontInfo)

	for _, m := range fontMapRe.FindAllStringSubmatch(d.view, -1) {
		for _, ref := range fontRefRe.FindAllStringSubmatch(m[1], -1) {
			res := ref[1]
			num, err := strconv.Atoi(ref[2])
			if err != nil {
				continue
			}
			if _, bound := d.fonts[res]; bound {
				continue
			}
			fi := seen[num]
			if fi == nil {
				obj := d.byNum[num]
				if obj == nil {
					continue
				}
				fi = d.parseFont(res, obj.dict)
				seen[num] = fi
				d.allFonts = append(d.allFonts, fi)
			}
			d.fonts[res] = fi
		}
	}

	// Fonts never referenced from a /Font resource map still carry usable
	// ToUnicode tables; keep them reachable for table-driven decoding.
	for i := range d.objects {
		o := &d.objects[i]
		if _, done := seen[o.num]; done {
			continue
		}
		if !typeFontRe.MatchString(o.dict) {
			continue
		}
		fi := d.parseFont("", o.dict)
		seen[o.num] = fi
		d.allFonts = append(d.allFonts, fi)
	}

	for _, fi := range d.allFonts {
		if len(fi.toUnicode) > 0 || len(fi.diffs) > 0 {
			d.hasFontMap = true
			break
		}
	}
}

// parseFont pulls BaseFont, the encoding, /Differences, and the ToUnicode
// CMap for one font dictionary.
func (d *pdfDoc) parseFont(res, dict string) *fontInfo {
	fi := &fontInfo{res: res, codeBytes: 1}

	if m := baseFontRe.FindStringSubmatch(dict); m != nil {
		fi.base = m[1]
	}
	if m := encNameRe.FindStringSubmatch(dict); m != nil {
		fi.encoding = m[1]
	}
	if m := encRefRe.FindStringSubmatch(dict); m != nil {
		if num, err := strconv.Atoi(m[1]); err == nil {
			if obj := d.byNum[num]; obj != nil {
				d.mergeEncodingDict(fi, obj.dict)
			}
		}
	}
	if m := encDictRe.FindStringSubmatch(dict); m != nil {
		d.mergeEncodingDict(fi, m[1])
	}
	if m := diffsRe.FindStringSubmatch(dict); m != nil {
		fi.diffs = parseDifferences(m[1])
	}
	if fi.encoding == "" && strings.Contains(fi.base, "Symbol") {
		fi.encoding = "Symbol"
	}

	if m := toUniRe.FindStringSubmatch(dict); m != nil {
		if num, err := strconv.Atoi(m[1]); err == nil {
			if obj := d.byNum[num]; obj != nil && obj.data != nil {
				parseCMap(obj.data, fi)
			}
		}
	}
	return fi
}

// mergeEncodingDict folds an /Encoding dictionary (inline or indirect) into
// the font: /BaseEncoding names the base table, /Differences overrides
// single codes.
func (d *pdfDoc) mergeEncodingDict(fi *fontInfo, dict string) {
	if m := baseEncRe.FindStringSubmatch(dict); m != nil {
		fi.encoding = m[1]
	}
	if m := diffsRe.FindStringSubmatch(dict); m != nil {
		diffs := parseDifferences(m[1])
		if fi.diffs == nil {
			fi.diffs = diffs
		} else {
			for code, r := range diffs {
				fi.diffs[code] = r
			}
		}
	}
}

// parseDifferences walks a /Differences array: integers reset the current
// code, glyph names bind to the current code and advance it.
func parseDifferences(body string) map[byte]rune {
	diffs := make(map[byte]rune)
	code := 0
	for _, tok := range diffTokRe.FindAllStringSubmatch(body, -1) {
		if tok[1] != "" {
			if n, err := strconv.Atoi(tok[1]); err == nil {
				code = n
			}
			continue
		}
		if code >= 0 && code < 256 {
			if r, ok := mapGlyphName(tok[2]); ok {
				diffs[byte(code)] = r
			}
		}
		code++
	}
	if len(diffs) == 0 {
		return nil
	}
	return diffs
}

// parseCMap fills the font's ToUnicode table from a CMap stream: bfchar
// pairs map single codes, bfrange rows map spans, and the codespace range
// fixes the glyph code width.
func parseCMap(data []byte, fi *fontInfo) {
	text := string(data)

	if m := codespaceRe.FindStringSubmatch(text); m != nil {
		if w := len(m[1]) / 2; w == 1 || w == 2 {
			fi.codeBytes = w
		}
	}

	if fi.toUnicode == nil {
		fi.toUnicode = make(map[uint32]string)
	}

	for _, blk := range bfcharBlkRe.FindAllStringSubmatch(text, -1) {
		for _, pair := range bfcharPairRe.FindAllStringSubmatch(blk[1], -1) {
			src, err := strconv.ParseUint(pair[1], 16, 32)
			if err != nil || len(fi.toUnicode) >= maxCMapEntries {
				continue
			}
			if dst := decodeUTF16BEHex(pair[2]); dst != "" {
				fi.toUnicode[uint32(src)] = dst
			}
			if len(pair[1]) >= 4 {
				fi.codeBytes = 2
			}
		}
	}

	for _, blk := range bfrangeBlkRe.FindAllStringSubmatch(text, -1) {
		for _, row := range bfrangeRowRe.FindAllStringSubmatch(blk[1], -1) {
			lo, err1 := strconv.ParseUint(row[1], 16, 32)
			hi, err2 := strconv.ParseUint(row[2], 16, 32)
			if err1 != nil || err2 != nil || hi < lo {
				continue
			}
			if hi-lo > maxCMapSpan {
				hi = lo + maxCMapSpan
			}
			if len(row[1]) >= 4 {
				fi.codeBytes = 2
			}

			if row[4] != "" {
				dsts := hexGroupRe.FindAllStringSubmatch(row[4], -1)
				for i, dst := range dsts {
					code := lo + uint64(i)
					if code > hi || len(fi.toUnicode) >= maxCMapEntries {
						break
					}
					if s := decodeUTF16BEHex(dst[1]); s != "" {
						fi.toUnicode[uint32(code)] = s
					}
				}
				continue
			}

			units := parseUTF16BEHex(row[3])
			if len(units) == 0 {
				continue
			}
			for code := lo; code <= hi; code++ {
				if len(fi.toUnicode) >= maxCMapEntries {
					break
				}
				step := make([]uint16, len(units))
				copy(step, units)
				step[len(step)-1] += uint16(code - lo)
				fi.toUnicode[uint32(code)] = string(utf16.Decode(step))
			}
		}
	}

	if len(fi.toUnicode) == 0 {
		fi.toUnicode = nil
	}
}

// parseUTF16BEHex parses a CMap destination hex string into UTF-16BE code
// units. Two-digit strings are widened to a single unit.
func parseUTF16BEHex(h string) []uint16 {
	h = strings.TrimSpace(h)
	if len(h) == 2 {
		n, err := strconv.ParseUint(h, 16, 16)
		if err != nil {
			return nil
		}
		return []uint16{uint16(n)}
	}
	var units []uint16
	for i := 0; i+4 <= len(h); i += 4 {
		n, err := strconv.ParseUint(h[i:i+4], 16, 32)
		if err != nil {
			return nil
		}
		units = append(units, uint16(n))
	}
	return units
}

// decodeUTF16BEHex decodes a CMap destination hex string to text,
// combining surrogate pairs.
func decodeUTF16BEHex(h string) string {
	units := parseUTF16BEHex(h)
	if len(units) == 0 {
		return ""
	}
	return string(utf16.Decode(units))
}

// countPageObjects counts /Type /Page dictionaries in the raw bytes,
// skipping the /Pages tree nodes.
func countPageObjects(view string) int {
	n := 0
	for _, m := range pageTypeRe.FindAllStringSubmatch(view, -1) {
		if m[1] == "" {
			n++
		}
	}
	return n
}

// detectImages reports whether the document carries image XObjects, first
// through pdfcpu's object table, then by scanning the raw bytes.
func (d *pdfDoc) detectImages() bool {
	if d.pcpu != nil {
		if d.pcpu.Optimize != nil {
			for pageNr := 1; pageNr <= d.pcpu.PageCount; pageNr++ {
				if len(pdfcpu.ImageObjNrs(d.pcpu, pageNr)) > 0 {
					return true
				}
			}
		}
		for _, entry := range d.pcpu.Table {
			if entry == nil || entry.Free || entry.Compressed {
				continue
			}
			sd, ok := entry.Object.(types.StreamDict)
			if !ok {
				continue
			}
			if subtype, found := sd.Find("Subtype"); found {
				if name, isName := subtype.(types.Name); isName && name == "Image" {
					return true
				}
			}
		}
	}
	if imageSubRe.MatchString(d.view) {
		return true
	}
	for i := range d.objects {
		o := &d.objects[i]
		if o.data != nil && imageSubRe.Match(o.data) {
			return true
		}
	}
	return false
}

// mappedFont returns the lone font carrying a ToUnicode table, or nil when
// zero or several fonts qualify. Operator-level decoding falls back to it
// when the content stream never selects a font.
func (d *pdfDoc) mappedFont() *fontInfo {
	var found *fontInfo
	for _, fi := range d.allFonts {
		if len(fi.toUnicode) == 0 {
			continue
		}
		if found != nil {
			return nil
		}
		found = fi
	}
	return found
}
