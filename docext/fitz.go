package docext

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
)

// FitzRaster renders PDF pages to PNG through MuPDF.
type FitzRaster struct{}

func (FitzRaster) RenderPages(ctx context.Context, pdfBytes []byte, maxPages int) ([]Page, error) {
	doc, err := fitz.NewFromMemory(pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.Image(i)
		if err != nil {
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			continue
		}
		pages = append(pages, Page{Number: i + 1, PNG: buf.Bytes()})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no renderable pages")
	}
	return pages, nil
}
