package docext

import "time"

// Type identifies a supported document type.
type Type string

const (
	TypePDF  Type = "pdf"
	TypeDocx Type = "docx"
	TypeCSV  Type = "csv"
	TypeMD   Type = "md"
	TypeTXT  Type = "txt"
)

// Method records how the text was obtained.
type Method string

const (
	MethodText Method = "text"
	MethodOCR  Method = "OCR"
)

// Metadata describes a successful extraction.
type Metadata struct {
	PageCount        int       `json:"page_count,omitempty"` // 0 = unknown
	ExtractedAt      time.Time `json:"extracted_at"`
	ExtractionMethod Method    `json:"extraction_method"`
	DocumentType     Type      `json:"document_type"`
}

// Result is the outcome of any extraction call. Extraction never panics
// and never returns a Go error across the public boundary: failures are
// carried in Error with Success false and Text empty.
type Result struct {
	Success  bool      `json:"success"`
	Text     string    `json:"text"`
	FileName string    `json:"file_name"`
	FileSize int64     `json:"file_size"`
	Error    string    `json:"error,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// SupportedFormats returns the extensions the dispatcher accepts.
func SupportedFormats() []string {
	return []string{"pdf", "docx", "csv", "md", "markdown", "txt"}
}
