// Package docext extracts plain text from document files.
//
// Supported formats:
//   - .pdf            — multi-strategy text recovery with OCR fallback
//   - .docx           — ZIP container → word/document.xml text runs
//   - .csv            — header-labelled record blocks
//   - .md, .markdown  — plain text passthrough
//   - .txt            — plain text passthrough
//
// Extraction never fails with a Go error at the public boundary: every
// call returns a Result, and failures are carried in Result.Error with
// Success false.
//
// Usage:
//
//	proc := docext.New(docext.Config{})
//	res := proc.ProcessFile(ctx, "/path/to/report.pdf")
//	if res.Success {
//		fmt.Println(res.Text)
//	}
package docext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pearl-OS/PearlOS-sub006/idgen"
	"github.com/pearl-OS/PearlOS-sub006/trace"
)

// Processor dispatches extraction by file extension.
type Processor struct {
	cfg    Config
	logger *slog.Logger
	deps   *Deps
	rec    trace.Recorder
	idg    idgen.Generator
}

// New creates a Processor with the given configuration.
func New(cfg Config) *Processor {
	cfg.defaults()
	return &Processor{
		cfg:    cfg,
		logger: cfg.Logger,
		deps:   cfg.Deps,
		rec:    cfg.Recorder,
		idg:    idgen.Prefixed("att_", idgen.Default),
	}
}

// Detect returns the document type for a file name based on its extension
// alone; content is never sniffed.
func Detect(name string) (Type, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".pdf":
		return TypePDF, nil
	case ".docx":
		return TypeDocx, nil
	case ".csv":
		return TypeCSV, nil
	case ".md", ".markdown":
		return TypeMD, nil
	case ".txt":
		return TypeTXT, nil
	default:
		return "", fmt.Errorf("%w %q (supported: %s)",
			ErrUnsupportedFormat, ext, strings.Join(SupportedFormats(), ", "))
	}
}

// ProcessFile reads and extracts one document from disk. The size limit is
// checked against the file stat before any bytes are read.
func (p *Processor) ProcessFile(ctx context.Context, path string) Result {
	name := filepath.Base(path)

	docType, err := Detect(name)
	if err != nil {
		return p.fail(name, 0, "", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return p.fail(name, 0, docType, fmt.Errorf("open %s: %w", name, err))
	}
	if info.Size() > p.cfg.MaxFileSize {
		return p.fail(name, info.Size(), docType,
			fmt.Errorf("%w: file is %d bytes, limit is %d bytes", ErrFileTooLarge, info.Size(), p.cfg.MaxFileSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p.fail(name, info.Size(), docType, fmt.Errorf("read %s: %w", name, err))
	}
	return p.Process(ctx, name, data)
}

// Process extracts text from an in-memory document. name only needs a
// recognizable extension.
func (p *Processor) Process(ctx context.Context, name string, data []byte) Result {
	start := time.Now()
	size := int64(len(data))

	docType, err := Detect(name)
	if err != nil {
		return p.fail(name, size, "", err)
	}
	if size > p.cfg.MaxFileSize {
		return p.fail(name, size, docType,
			fmt.Errorf("%w: file is %d bytes, limit is %d bytes", ErrFileTooLarge, size, p.cfg.MaxFileSize))
	}
	if size == 0 {
		return p.fail(name, 0, docType, fmt.Errorf("%w: file is empty", ErrEmptyDocument))
	}

	p.progress("Processing " + name)
	p.logger.Debug("extracting document", "file", name, "type", docType, "bytes", size)

	var (
		text    string
		method  = MethodText
		quality *Quality
	)

	switch docType {
	case TypePDF:
		var outcome pdfOutcome
		outcome, err = p.extractPDF(ctx, name, data)
		text = outcome.text
		if outcome.method != "" {
			method = outcome.method
		}
		q := outcome.quality
		quality = &q
	case TypeDocx:
		text, err = extractDocx(data, p.logger)
	case TypeCSV:
		text, err = extractCSV(data)
	case TypeMD, TypeTXT:
		text, err = extractPlainText(data)
	}

	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = fmt.Errorf("%w: no text recovered", ErrEmptyDocument)
		}
	}
	if err != nil {
		return p.fail(name, size, docType, err)
	}

	pages := 0
	if quality != nil {
		pages = quality.PageCount
		p.logger.Info("document extracted",
			"file", name, "type", docType, "method", method,
			"chars", len(text), "pages", pages,
			"readable_ratio", quality.ReadableRatio)
	} else {
		p.logger.Info("document extracted",
			"file", name, "type", docType, "method", method, "chars", len(text))
	}

	p.record(trace.Attempt{
		FileName:   name,
		DocType:    string(docType),
		Method:     string(method),
		Strategy:   "result",
		Score:      readableRatio(text),
		DurationUs: time.Since(start).Microseconds(),
		Sample:     sampleOf(firstLine(text)),
	})
	p.progress("Completed " + name)

	return Result{
		Success:  true,
		Text:     text,
		FileName: name,
		FileSize: size,
		Metadata: &Metadata{
			PageCount:        pages,
			ExtractedAt:      time.Now().UTC(),
			ExtractionMethod: method,
			DocumentType:     docType,
		},
	}
}

// fail builds a failure Result, logs it, and records the attempt. Garbled
// or partial text never reaches Result.Text; diagnostics travel through
// the trace store instead.
func (p *Processor) fail(name string, size int64, docType Type, err error) Result {
	msg := failureMessage(docType, err)
	p.logger.Warn("extraction failed", "file", name, "type", docType, "error", err)
	p.record(trace.Attempt{
		FileName: name,
		DocType:  string(docType),
		Method:   string(MethodText),
		Strategy: "result",
		Error:    msg,
	})
	return Result{
		Success:  false,
		FileName: name,
		FileSize: size,
		Error:    msg,
	}
}

// failureMessage renders err as the user-facing Result.Error string. Empty
// CSV and empty text files keep their established wording; everything else
// reports the wrapped error chain.
func failureMessage(docType Type, err error) string {
	if errors.Is(err, ErrEmptyDocument) {
		switch docType {
		case TypeCSV:
			return "No data found."
		case TypeMD, TypeTXT:
			return "No content found."
		}
	}
	return err.Error()
}

// progress invokes the configured callback. Progress reporting is advisory:
// a panicking callback is absorbed and never affects extraction.
func (p *Processor) progress(msg string) {
	if p.cfg.OnProgress == nil {
		return
	}
	defer func() { _ = recover() }()
	p.cfg.OnProgress(msg)
}
