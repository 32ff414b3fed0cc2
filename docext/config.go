package docext

import (
	"log/slog"

	"github.com/pearl-OS/PearlOS-sub006/trace"
)

// Config configures a Processor.
type Config struct {
	// MaxFileSize is the maximum file size to process (default: 10 MiB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// MaxPages bounds PDF page rasterization for OCR (default: 50).
	MaxPages int `json:"max_pages" yaml:"max_pages"`

	// DisableOCR turns off the OCR fallback. By default a PDF whose
	// structural extraction comes back garbled escalates to OCR.
	DisableOCR bool `json:"disable_ocr" yaml:"disable_ocr"`

	// ForceOCR skips the direct-accept path and always runs OCR on PDFs.
	ForceOCR bool `json:"force_ocr" yaml:"force_ocr"`

	// OCRLanguage is passed to the recognition engine (default: "eng").
	OCRLanguage string `json:"ocr_language" yaml:"ocr_language"`

	// OnProgress receives coarse human-readable status strings. Advisory
	// only: it never affects control flow and panics in the callback are
	// swallowed. May be nil.
	OnProgress func(status string) `json:"-" yaml:"-"`

	// Deps supplies the rasterizer and OCR engine. Defaults to the lazy
	// production bundle; tests inject fakes.
	Deps *Deps `json:"-" yaml:"-"`

	// Recorder receives per-candidate diagnostics. Defaults to a no-op.
	Recorder trace.Recorder `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

const (
	defaultMaxFileSize = 10 * 1024 * 1024
	defaultMaxPages    = 50
	defaultOCRLanguage = "eng"
)

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.OCRLanguage == "" {
		c.OCRLanguage = defaultOCRLanguage
	}
	if c.Deps == nil {
		c.Deps = NewDeps()
	}
	if c.Recorder == nil {
		c.Recorder = trace.Nop()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
