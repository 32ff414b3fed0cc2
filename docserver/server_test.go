package docserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pearl-OS/PearlOS-sub006/docext"
	"github.com/pearl-OS/PearlOS-sub006/trace"
)

func setupServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.OCR.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeResult(t *testing.T, body io.Reader) docext.Result {
	t.Helper()
	var res docext.Result
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return res
}

func TestServer_Extract_Txt(t *testing.T) {
	s := setupServer(t, nil)

	req := uploadRequest(t, "notes.txt", []byte("hello docserver\nsecond line\n"), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	res := decodeResult(t, rr.Body)
	if !res.Success {
		t.Fatalf("success = false, error = %q", res.Error)
	}
	if res.FileName != "notes.txt" {
		t.Errorf("file name = %q, want notes.txt", res.FileName)
	}
	if !strings.Contains(res.Text, "hello docserver") {
		t.Errorf("text = %q, missing upload content", res.Text)
	}
	if res.Metadata == nil || res.Metadata.DocumentType != docext.TypeTXT {
		t.Errorf("metadata = %+v, want document type txt", res.Metadata)
	}
}

func TestServer_Extract_EmptyMarkdown(t *testing.T) {
	s := setupServer(t, nil)

	req := uploadRequest(t, "blank.md", []byte("   \n\t\n"), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	res := decodeResult(t, rr.Body)
	if res.Success {
		t.Fatal("expected failure for whitespace-only markdown")
	}
	if res.Error != "No content found." {
		t.Errorf("error = %q, want %q", res.Error, "No content found.")
	}
}

func TestServer_Extract_Oversize(t *testing.T) {
	s := setupServer(t, func(cfg *Config) { cfg.MaxFileMB = 1 })

	data := bytes.Repeat([]byte("a"), 1024*1024+16)
	req := uploadRequest(t, "big.txt", data, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body: %s)", rr.Code, rr.Body.String())
	}
	res := decodeResult(t, rr.Body)
	if res.Success {
		t.Fatal("expected oversize failure")
	}
	if !strings.Contains(res.Error, "1048592 bytes") || !strings.Contains(res.Error, "1048576 bytes") {
		t.Errorf("error = %q, want actual and allowed sizes", res.Error)
	}
}

func TestServer_Extract_UnsupportedExtension(t *testing.T) {
	s := setupServer(t, nil)

	req := uploadRequest(t, "tool.exe", []byte("MZ\x90\x00"), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	res := decodeResult(t, rr.Body)
	if res.Success {
		t.Fatal("expected failure for .exe upload")
	}
	for _, want := range docext.SupportedFormats() {
		if !strings.Contains(res.Error, want) {
			t.Errorf("error = %q, missing supported format %q", res.Error, want)
		}
	}
}

func TestServer_Extract_MissingFileField(t *testing.T) {
	s := setupServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestServer_Extract_RejectsBackslashName(t *testing.T) {
	s := setupServer(t, nil)

	req := uploadRequest(t, `..\..\evil.txt`, []byte("x"), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for backslash name", rr.Code)
	}
}

func TestServer_Extract_StripsPathPrefix(t *testing.T) {
	s := setupServer(t, nil)

	req := uploadRequest(t, "../../deep/dir/report.txt", []byte("safe content"), nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rr.Code, rr.Body.String())
	}
	res := decodeResult(t, rr.Body)
	if res.FileName != "report.txt" {
		t.Errorf("file name = %q, want path-stripped report.txt", res.FileName)
	}
}

func TestServer_Formats(t *testing.T) {
	s := setupServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/formats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body struct {
		Formats []string `json:"formats"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Formats) != len(docext.SupportedFormats()) {
		t.Fatalf("formats = %v, want %v", body.Formats, docext.SupportedFormats())
	}
}

func TestServer_Health(t *testing.T) {
	s := setupServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["trace_store"] != false {
		t.Errorf("trace_store = %v, want false without trace_db", body["trace_store"])
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	s := setupServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Errorf("X-Request-ID = %q, want generated req_ id", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_inbound")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req_inbound" {
		t.Errorf("X-Request-ID = %q, want inbound id preserved", got)
	}
}

func TestServer_TraceIngestAndRecent(t *testing.T) {
	s := setupServer(t, func(cfg *Config) {
		cfg.TraceDB = filepath.Join(t.TempDir(), "traces.db")
	})

	batch := []trace.Attempt{
		{ID: "att_ingest_1", FileName: "a.pdf", Strategy: "structural-lib", Score: 0.9, Timestamp: time.Now().UTC()},
		{ID: "att_ingest_2", FileName: "b.pdf", Strategy: "regex-text", Score: 0.4, Timestamp: time.Now().UTC()},
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/traces", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("ingest status = %d, want 204", rr.Code)
	}

	// Ingest hands off to the async store; poll until the batch lands.
	deadline := time.Now().Add(3 * time.Second)
	for {
		rr = httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/traces?limit=10", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("recent status = %d, want 200", rr.Code)
		}
		var body struct {
			Attempts []trace.Attempt `json:"attempts"`
			Count    int             `json:"count"`
		}
		dec := json.NewDecoder(bytes.NewReader(rr.Body.Bytes()))
		if err := dec.Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Count == len(batch) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("count = %d after deadline, want %d", body.Count, len(batch))
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestServer_TraceRecent_NotConfigured(t *testing.T) {
	s := setupServer(t, nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/traces", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without trace store", rr.Code)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"report.pdf", "report.pdf", false},
		{"  notes.txt ", "notes.txt", false},
		{"dir/sub/file.csv", "file.csv", false},
		{"..", "", true},
		{".", "", true},
		{"", "", true},
		{`..\win\style.txt`, "", true},
	}
	for _, tc := range cases {
		got, err := sanitizeName(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("sanitizeName(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("sanitizeName(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.MaxFileMB = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected error for max_file_mb = 0")
	}

	bad = DefaultConfig()
	bad.LogLevel = "verbose"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown log_level")
	}

	bad = DefaultConfig()
	bad.TraceDB = "a.db"
	bad.TraceURL = "http://collector/v1/traces"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for trace_db + trace_url")
	}
}

func TestConfig_ProcessorConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFileMB = 2
	cfg.MaxPages = 7
	cfg.OCR.Enabled = false
	cfg.OCR.Language = "fra"

	pc := cfg.ProcessorConfig()
	if pc.MaxFileSize != 2*1024*1024 {
		t.Errorf("MaxFileSize = %d, want %d", pc.MaxFileSize, 2*1024*1024)
	}
	if pc.MaxPages != 7 {
		t.Errorf("MaxPages = %d, want 7", pc.MaxPages)
	}
	if !pc.DisableOCR {
		t.Error("DisableOCR = false, want true when ocr.enabled is false")
	}
	if pc.OCRLanguage != "fra" {
		t.Errorf("OCRLanguage = %q, want fra", pc.OCRLanguage)
	}
}
