package docext

import "errors"

// Sentinel errors for the extraction failure taxonomy. They flow through
// internal code with %w wrapping; the dispatcher converts them to the
// user-facing Result.Error strings.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyDocument     = errors.New("no content found")
	ErrExtractionFailed  = errors.New("text extraction failed")
	ErrOCRUnavailable    = errors.New("ocr engine unavailable")
	ErrOCRFailed         = errors.New("ocr recognition failed")
	ErrDependencyLoad    = errors.New("extraction dependency load failed")
)
