package docext

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pearl-OS/PearlOS-sub006/zipread"
)

// buildDocx assembles an in-memory ZIP with the given entries. Entries go
// through the default deflate path so container reading is exercised the
// way real DOCX files are.
func buildDocx(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

const docxHeader = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const docxFooter = `</w:body></w:document>`

func TestExtractDocx_Paragraphs(t *testing.T) {
	// WHAT: Text runs are collected in document order, space-joined.
	// WHY: Core DOCX extraction path.
	xml := docxHeader +
		`<w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Second</w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>` +
		docxFooter
	data := buildDocx(t, map[string]string{"word/document.xml": xml})

	text, err := extractDocx(data, testLogger())
	if err != nil {
		t.Fatalf("extractDocx: %v", err)
	}
	if text != "First paragraph. Second paragraph." {
		t.Errorf("text = %q", text)
	}
}

func TestExtractDocx_Entities(t *testing.T) {
	// WHAT: Predefined entities and numeric character references decode.
	xml := docxHeader +
		`<w:p><w:r><w:t>Fish &amp; chips &lt;now&gt; &#233;t&#xE9;</w:t></w:r></w:p>` +
		docxFooter
	data := buildDocx(t, map[string]string{"word/document.xml": xml})

	text, err := extractDocx(data, testLogger())
	if err != nil {
		t.Fatalf("extractDocx: %v", err)
	}
	if text != "Fish & chips <now> été" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractDocx_AttributedAndSelfClosingRuns(t *testing.T) {
	// WHAT: <w:t attr="..."> is a text run; <w:t/> and <w:tbl> are not.
	// WHY: The scanner matches the element name exactly, not the prefix.
	xml := docxHeader +
		`<w:p><w:r><w:t xml:space="preserve">kept run</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t/></w:r></w:p>` +
		`<w:tbl><w:tblPr/></w:tbl>` +
		docxFooter
	data := buildDocx(t, map[string]string{"word/document.xml": xml})

	text, err := extractDocx(data, testLogger())
	if err != nil {
		t.Fatalf("extractDocx: %v", err)
	}
	if text != "kept run" {
		t.Errorf("text = %q, want only the attributed run", text)
	}
}

func TestExtractDocx_NonstandardLayout(t *testing.T) {
	// WHAT: document.xml found under a nonstandard directory by suffix.
	xml := docxHeader + `<w:p><w:r><w:t>relocated</w:t></w:r></w:p>` + docxFooter
	data := buildDocx(t, map[string]string{
		"custom/document.xml": xml,
		"mimetype":            "application/vnd.openxmlformats",
	})

	text, err := extractDocx(data, testLogger())
	if err != nil {
		t.Fatalf("extractDocx: %v", err)
	}
	if text != "relocated" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractDocx_MissingDocumentXML(t *testing.T) {
	data := buildDocx(t, map[string]string{"word/styles.xml": "<w:styles/>"})

	_, err := extractDocx(data, testLogger())
	if !errors.Is(err, zipread.ErrEntryNotFound) {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
	if !strings.Contains(err.Error(), "document.xml") {
		t.Errorf("error = %q, want document.xml named", err)
	}
}

func TestExtractDocx_NotAZip(t *testing.T) {
	_, err := extractDocx([]byte("this is not a zip archive at all"), testLogger())
	if err == nil {
		t.Fatal("expected container error")
	}
	if !strings.Contains(err.Error(), "docx container") {
		t.Errorf("error = %q", err)
	}
}

func TestExtractDocx_TagStripFallback(t *testing.T) {
	// WHAT: With no <w:t> runs, tag-stripping recovers the residue when it
	// clears the viability threshold.
	// WHY: Nonstandard WordprocessingML still often carries visible text.
	body := "Fallback content that is clearly long enough to pass the fifty character gate."
	xml := `<?xml version="1.0"?><doc><para>` + body + `</para></doc>`
	data := buildDocx(t, map[string]string{"word/document.xml": xml})

	text, err := extractDocx(data, testLogger())
	if err != nil {
		t.Fatalf("extractDocx: %v", err)
	}
	if !strings.Contains(text, "Fallback content") {
		t.Errorf("text = %q", text)
	}
}

func TestExtractDocx_ShortResidueRejected(t *testing.T) {
	// WHAT: Tag-strip residue under the threshold is not trusted.
	// WHY: A few stray characters are markup noise, not document text.
	xml := `<?xml version="1.0"?><doc><meta>v1.2</meta></doc>`
	data := buildDocx(t, map[string]string{"word/document.xml": xml})

	_, err := extractDocx(data, testLogger())
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
}

func TestProcess_Docx(t *testing.T) {
	// WHAT: End-to-end DOCX through the dispatcher.
	xml := docxHeader + `<w:p><w:r><w:t>Dispatcher test body.</w:t></w:r></w:p>` + docxFooter
	data := buildDocx(t, map[string]string{"word/document.xml": xml})

	p := newTestProcessor(nil)
	res := p.Process(context.Background(), "report.docx", data)
	if !res.Success {
		t.Fatalf("success = false, error = %q", res.Error)
	}
	if res.Text != "Dispatcher test body." {
		t.Errorf("text = %q", res.Text)
	}
	if res.Metadata.DocumentType != TypeDocx {
		t.Errorf("document type = %q, want docx", res.Metadata.DocumentType)
	}
}
