// Package zipread reads ZIP containers from an in-memory buffer without
// going through archive/zip. It implements exactly the subset the document
// extractors need: locate the End-Of-Central-Directory record, walk the
// central directory, and slice out one named entry, inflating it when the
// entry is deflate-compressed.
//
// The reader is deliberately forgiving: a corrupt deflate stream does not
// abort extraction. The raw bytes are returned (cleaned to valid UTF-8)
// together with ErrBadDeflate so callers can log the damage and still
// attempt a best-effort parse.
package zipread

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Compression methods from the ZIP APPNOTE.
const (
	MethodStored  uint16 = 0
	MethodDeflate uint16 = 8
)

var (
	// ErrNoEndOfDirectory means the buffer has no EOCD signature and
	// therefore is not a ZIP container.
	ErrNoEndOfDirectory = errors.New("zipread: end of central directory not found")

	// ErrEntryNotFound means the requested name is absent from the catalog.
	ErrEntryNotFound = errors.New("zipread: entry not found")

	// ErrCorrupt means a central-directory or local-header record is
	// malformed (bad signature, truncated, sizes out of range).
	ErrCorrupt = errors.New("zipread: malformed archive")

	// ErrBadDeflate means a deflate stream failed to decompress. The raw
	// bytes are still returned, cleaned to valid UTF-8.
	ErrBadDeflate = errors.New("zipread: corrupt deflate stream")
)

const (
	eocdMinLen        = 22
	centralHeaderLen  = 46
	localHeaderLen    = 30
	maxCommentLen     = 0xFFFF
	eocdScanWindow    = eocdMinLen + maxCommentLen
	maxCatalogEntries = 65535
)

var (
	sigEOCD    = []byte{'P', 'K', 0x05, 0x06}
	sigCentral = []byte{'P', 'K', 0x01, 0x02}
	sigLocal   = []byte{'P', 'K', 0x03, 0x04}
)

// Entry is one central-directory record.
type Entry struct {
	Name             string
	Method           uint16
	CompressedSize   uint32
	UncompressedSize uint32
	Offset           int64 // local file header position
}

// Reader holds the parsed catalog of a ZIP buffer.
type Reader struct {
	buf     []byte
	entries []Entry
}

// New parses the EOCD record and central directory of buf.
func New(buf []byte) (*Reader, error) {
	eocd, err := findEOCD(buf)
	if err != nil {
		return nil, err
	}

	count := int(binary.LittleEndian.Uint16(buf[eocd+10:]))
	cdOffset := int64(binary.LittleEndian.Uint32(buf[eocd+16:]))
	if cdOffset >= int64(len(buf)) {
		return nil, fmt.Errorf("%w: central directory offset %d beyond buffer", ErrCorrupt, cdOffset)
	}
	if count > maxCatalogEntries {
		return nil, fmt.Errorf("%w: entry count %d", ErrCorrupt, count)
	}

	r := &Reader{buf: buf, entries: make([]Entry, 0, count)}

	pos := cdOffset
	for i := 0; i < count; i++ {
		if pos+centralHeaderLen > int64(len(buf)) {
			return nil, fmt.Errorf("%w: central directory truncated at entry %d", ErrCorrupt, i)
		}
		rec := buf[pos:]
		if !bytes.HasPrefix(rec, sigCentral) {
			return nil, fmt.Errorf("%w: bad central header signature at entry %d", ErrCorrupt, i)
		}

		nameLen := int64(binary.LittleEndian.Uint16(rec[28:]))
		extraLen := int64(binary.LittleEndian.Uint16(rec[30:]))
		commentLen := int64(binary.LittleEndian.Uint16(rec[32:]))
		if pos+centralHeaderLen+nameLen > int64(len(buf)) {
			return nil, fmt.Errorf("%w: entry name truncated at entry %d", ErrCorrupt, i)
		}

		r.entries = append(r.entries, Entry{
			Name:             string(rec[centralHeaderLen : centralHeaderLen+nameLen]),
			Method:           binary.LittleEndian.Uint16(rec[10:]),
			CompressedSize:   binary.LittleEndian.Uint32(rec[20:]),
			UncompressedSize: binary.LittleEndian.Uint32(rec[24:]),
			Offset:           int64(binary.LittleEndian.Uint32(rec[42:])),
		})

		pos += centralHeaderLen + nameLen + extraLen + commentLen
	}

	return r, nil
}

// findEOCD scans backward from the end of buf for the EOCD signature.
// The record may be followed by a comment of up to 64 KiB, so the scan
// window covers the last eocdScanWindow bytes.
func findEOCD(buf []byte) (int, error) {
	if len(buf) < eocdMinLen {
		return 0, ErrNoEndOfDirectory
	}
	start := 0
	if len(buf) > eocdScanWindow {
		start = len(buf) - eocdScanWindow
	}
	idx := bytes.LastIndex(buf[start:], sigEOCD)
	if idx < 0 {
		return 0, ErrNoEndOfDirectory
	}
	pos := start + idx
	if pos+eocdMinLen > len(buf) {
		return 0, ErrNoEndOfDirectory
	}
	return pos, nil
}

// Entries returns the parsed catalog in directory order.
func (r *Reader) Entries() []Entry {
	return r.entries
}

// Entry looks up a catalog record by exact name.
func (r *Reader) Entry(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// File returns the decompressed contents of the named entry.
// See Open for the deflate-failure contract.
func (r *Reader) File(name string) ([]byte, error) {
	e, ok := r.Entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, name)
	}
	return r.Open(e)
}

// Open extracts one entry. Stored entries are returned verbatim. Deflate
// entries are inflated with compress/flate; if inflation fails the raw
// bytes are returned (cleaned to valid UTF-8) along with ErrBadDeflate.
// Unknown compression methods are treated the same way as broken deflate.
func (r *Reader) Open(e Entry) ([]byte, error) {
	data, err := r.slice(e)
	if err != nil {
		return nil, err
	}

	switch e.Method {
	case MethodStored:
		return bytes.Clone(data), nil
	case MethodDeflate:
		out, err := io.ReadAll(flate.NewReader(bytes.NewReader(data)))
		if err != nil {
			return bytes.ToValidUTF8(data, []byte("�")), fmt.Errorf("%w: %q: %v", ErrBadDeflate, e.Name, err)
		}
		return out, nil
	default:
		return bytes.ToValidUTF8(data, []byte("�")), fmt.Errorf("%w: %q: unsupported method %d", ErrBadDeflate, e.Name, e.Method)
	}
}

// slice resolves the entry's local file header and returns the
// CompressedSize bytes that follow the header's name and extra fields.
// Sizes come from the central directory: local headers written by
// streaming writers carry zeros there.
func (r *Reader) slice(e Entry) ([]byte, error) {
	if e.Offset < 0 || e.Offset+localHeaderLen > int64(len(r.buf)) {
		return nil, fmt.Errorf("%w: local header offset %d out of range for %q", ErrCorrupt, e.Offset, e.Name)
	}
	hdr := r.buf[e.Offset:]
	if !bytes.HasPrefix(hdr, sigLocal) {
		return nil, fmt.Errorf("%w: bad local header signature for %q", ErrCorrupt, e.Name)
	}

	nameLen := int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(hdr[28:]))

	start := e.Offset + localHeaderLen + nameLen + extraLen
	end := start + int64(e.CompressedSize)
	if start > int64(len(r.buf)) || end > int64(len(r.buf)) {
		return nil, fmt.Errorf("%w: entry data out of range for %q", ErrCorrupt, e.Name)
	}
	return r.buf[start:end], nil
}
