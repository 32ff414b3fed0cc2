package docext

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Page is one rasterized page image, 1-indexed.
type Page struct {
	Number int
	PNG    []byte
}

// Raster renders PDF pages to PNG images for recognition.
type Raster interface {
	RenderPages(ctx context.Context, pdf []byte, maxPages int) ([]Page, error)
}

// Recognizer turns one page image into text.
type Recognizer interface {
	Recognize(ctx context.Context, png []byte, language string) (string, error)
}

const ocrWorkers = 4

// ocrDocument renders up to MaxPages pages and recognizes them with a
// bounded worker pool. Results are reassembled in page order regardless of
// completion order. Failed pages are skipped; the call fails only when
// every page fails.
func (p *Processor) ocrDocument(ctx context.Context, name string, data []byte) (string, error) {
	raster, err := p.deps.Raster(ctx)
	if err != nil {
		return "", err
	}
	recognizer, err := p.deps.Recognizer(ctx)
	if err != nil {
		return "", err
	}

	pages, err := raster.RenderPages(ctx, data, p.cfg.MaxPages)
	if err != nil {
		return "", fmt.Errorf("%w: rasterize: %v", ErrOCRFailed, err)
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("%w: no pages rendered", ErrOCRFailed)
	}

	p.progress(fmt.Sprintf("Running OCR on %d pages", len(pages)))

	texts := make([]string, len(pages))
	errs := make([]error, len(pages))
	sem := make(chan struct{}, ocrWorkers)
	var wg sync.WaitGroup
	for i := range pages {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			text, err := recognizer.Recognize(ctx, pages[i].PNG, p.cfg.OCRLanguage)
			if err != nil {
				errs[i] = err
				return
			}
			texts[i] = strings.TrimSpace(text)
		}(i)
	}
	wg.Wait()

	var parts []string
	failed := 0
	for i := range pages {
		if errs[i] != nil {
			failed++
			p.logger.Debug("ocr page failed",
				"file", name, "page", pages[i].Number, "error", errs[i])
			continue
		}
		if texts[i] != "" {
			parts = append(parts, texts[i])
		}
	}
	if failed == len(pages) {
		return "", fmt.Errorf("%w: all %d pages failed", ErrOCRFailed, len(pages))
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}

// maxOCRResponse bounds how much of a recognition response is read, so a
// misbehaving service cannot exhaust memory.
const maxOCRResponse = 8 << 20

// HTTPRecognizer sends page images to a recognition service speaking a
// small JSON protocol: {"image": <base64 PNG>, "language": "eng"} in,
// {"text": "..."} out.
type HTTPRecognizer struct {
	Endpoint string
	Client   *http.Client
}

type ocrRequest struct {
	Image    string `json:"image"`
	Language string `json:"language,omitempty"`
}

type ocrResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, png []byte, language string) (string, error) {
	if r.Endpoint == "" {
		return "", ErrOCRUnavailable
	}

	body, err := json.Marshal(ocrRequest{
		Image:    base64.StdEncoding.EncodeToString(png),
		Language: language,
	})
	if err != nil {
		return "", fmt.Errorf("encode ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ocr service returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOCRResponse))
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	var out ocrResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ocr service: %s", out.Error)
	}
	return out.Text, nil
}
