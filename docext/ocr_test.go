package docext

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRaster returns canned pages, honouring the maxPages contract the way
// the real rasterizer does.
type fakeRaster struct {
	pages []Page
	err   error

	mu     sync.Mutex
	calls  int
	gotMax int
}

func (f *fakeRaster) RenderPages(_ context.Context, _ []byte, maxPages int) ([]Page, error) {
	f.mu.Lock()
	f.calls++
	f.gotMax = maxPages
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	pages := f.pages
	if maxPages > 0 && len(pages) > maxPages {
		pages = pages[:maxPages]
	}
	return pages, nil
}

// fakeRecognizer counts calls and records languages; fn derives the output
// from the page image so tests can tell pages apart.
type fakeRecognizer struct {
	fn func(png []byte) (string, error)

	mu        sync.Mutex
	calls     int
	languages []string
}

func (f *fakeRecognizer) Recognize(_ context.Context, png []byte, language string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.languages = append(f.languages, language)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(png)
	}
	return "recognized " + string(png), nil
}

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fakePages(n int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{Number: i + 1, PNG: []byte(fmt.Sprintf("img-%d", i+1))}
	}
	return pages
}

func pageNum(png []byte) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(string(png), "img-"))
	return n
}

func ocrProcessor(raster Raster, rec Recognizer, mutate func(*Config)) *Processor {
	cfg := Config{
		Logger: testLogger(),
		Deps:   NewDeps(WithRaster(raster), WithRecognizer(rec)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestOCRDocument_PageOrder(t *testing.T) {
	// WHAT: Pages recognized out of order still assemble in page order.
	// WHY: The worker pool finishes pages in arbitrary order; the output
	// must read like the document.
	raster := &fakeRaster{pages: fakePages(4)}
	rec := &fakeRecognizer{fn: func(png []byte) (string, error) {
		n := pageNum(png)
		time.Sleep(time.Duration(4-n) * 5 * time.Millisecond)
		return fmt.Sprintf("text of page %d", n), nil
	}}

	p := ocrProcessor(raster, rec, nil)
	text, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("ocrDocument: %v", err)
	}

	want := "text of page 1\n\ntext of page 2\n\ntext of page 3\n\ntext of page 4"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestOCRDocument_FailedPageSkipped(t *testing.T) {
	// WHAT: One failing page drops out; the rest still come back.
	// WHY: A single bad render must not discard an otherwise good document.
	raster := &fakeRaster{pages: fakePages(3)}
	rec := &fakeRecognizer{fn: func(png []byte) (string, error) {
		if pageNum(png) == 2 {
			return "", errors.New("blurred beyond recognition")
		}
		return fmt.Sprintf("text of page %d", pageNum(png)), nil
	}}

	p := ocrProcessor(raster, rec, nil)
	text, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("ocrDocument: %v", err)
	}
	if want := "text of page 1\n\ntext of page 3"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestOCRDocument_AllPagesFail(t *testing.T) {
	raster := &fakeRaster{pages: fakePages(3)}
	rec := &fakeRecognizer{fn: func([]byte) (string, error) {
		return "", errors.New("engine offline")
	}}

	p := ocrProcessor(raster, rec, nil)
	_, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrOCRFailed) {
		t.Fatalf("expected ErrOCRFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "all 3 pages failed") {
		t.Errorf("error = %q, want page count in message", err)
	}
}

func TestOCRDocument_NoPagesRendered(t *testing.T) {
	p := ocrProcessor(&fakeRaster{pages: nil}, &fakeRecognizer{}, nil)
	_, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrOCRFailed) {
		t.Fatalf("expected ErrOCRFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "no pages rendered") {
		t.Errorf("error = %q", err)
	}
}

func TestOCRDocument_RasterFailure(t *testing.T) {
	raster := &fakeRaster{err: errors.New("broken container")}
	p := ocrProcessor(raster, &fakeRecognizer{}, nil)
	_, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF"))
	if !errors.Is(err, ErrOCRFailed) {
		t.Fatalf("expected ErrOCRFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "rasterize") {
		t.Errorf("error = %q", err)
	}
}

func TestOCRDocument_MaxPagesClamp(t *testing.T) {
	// WHAT: MaxPages bounds both rendering and recognition.
	// WHY: A 500-page scan must not spin 500 recognition calls.
	raster := &fakeRaster{pages: fakePages(10)}
	rec := &fakeRecognizer{}

	p := ocrProcessor(raster, rec, func(c *Config) { c.MaxPages = 3 })
	if _, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("ocrDocument: %v", err)
	}

	if raster.gotMax != 3 {
		t.Errorf("raster received maxPages = %d, want 3", raster.gotMax)
	}
	if got := rec.callCount(); got != 3 {
		t.Errorf("recognizer calls = %d, want 3", got)
	}
}

func TestOCRDocument_LanguagePassthrough(t *testing.T) {
	raster := &fakeRaster{pages: fakePages(2)}
	rec := &fakeRecognizer{}

	p := ocrProcessor(raster, rec, func(c *Config) { c.OCRLanguage = "fra" })
	if _, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF")); err != nil {
		t.Fatalf("ocrDocument: %v", err)
	}

	for _, lang := range rec.languages {
		if lang != "fra" {
			t.Errorf("recognizer got language %q, want \"fra\"", lang)
		}
	}
}

func TestOCRDocument_WorkerBound(t *testing.T) {
	// WHAT: No more than ocrWorkers pages are recognized at once.
	// WHY: The pool bounds memory while a batch of renders is in flight.
	var mu sync.Mutex
	cur, peak := 0, 0

	raster := &fakeRaster{pages: fakePages(8)}
	rec := &fakeRecognizer{fn: func(png []byte) (string, error) {
		mu.Lock()
		cur++
		if cur > peak {
			peak = cur
		}
		mu.Unlock()

		time.Sleep(15 * time.Millisecond)

		mu.Lock()
		cur--
		mu.Unlock()
		return fmt.Sprintf("page %d", pageNum(png)), nil
	}}

	p := ocrProcessor(raster, rec, nil)
	text, err := p.ocrDocument(context.Background(), "scan.pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("ocrDocument: %v", err)
	}

	if peak > ocrWorkers {
		t.Errorf("peak concurrency = %d, want at most %d", peak, ocrWorkers)
	}
	if parts := strings.Split(text, "\n\n"); len(parts) != 8 {
		t.Errorf("got %d page texts, want 8", len(parts))
	}
}

func TestHTTPRecognizer_RoundTrip(t *testing.T) {
	// WHAT: The recognizer speaks the base64-PNG JSON protocol end to end.
	// WHY: Remote recognition services only see this wire shape.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Image    string `json:"image"`
			Language string `json:"language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		img, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			t.Errorf("image is not base64: %v", err)
		}
		if string(img) != "png-bytes" {
			t.Errorf("image = %q, want \"png-bytes\"", img)
		}
		if req.Language != "deu" {
			t.Errorf("language = %q, want \"deu\"", req.Language)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "scanned text"})
	}))
	defer srv.Close()

	rec := &HTTPRecognizer{Endpoint: srv.URL}
	got, err := rec.Recognize(context.Background(), []byte("png-bytes"), "deu")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if got != "scanned text" {
		t.Errorf("text = %q, want \"scanned text\"", got)
	}
}

func TestHTTPRecognizer_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "engine exploded"})
	}))
	defer srv.Close()

	rec := &HTTPRecognizer{Endpoint: srv.URL}
	_, err := rec.Recognize(context.Background(), []byte("png"), "eng")
	if err == nil || !strings.Contains(err.Error(), "engine exploded") {
		t.Errorf("error = %v, want service error message", err)
	}
}

func TestHTTPRecognizer_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &HTTPRecognizer{Endpoint: srv.URL}
	_, err := rec.Recognize(context.Background(), []byte("png"), "eng")
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestHTTPRecognizer_NoEndpoint(t *testing.T) {
	rec := &HTTPRecognizer{}
	_, err := rec.Recognize(context.Background(), []byte("png"), "eng")
	if !errors.Is(err, ErrOCRUnavailable) {
		t.Errorf("error = %v, want ErrOCRUnavailable", err)
	}
}
