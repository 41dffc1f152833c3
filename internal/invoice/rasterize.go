package invoice

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// DefaultMaxPages bounds how many PDF pages are sent for extraction
const DefaultMaxPages = 2

// PDFRasterizer renders the leading pages of a PDF to JPEG images
type PDFRasterizer struct {
	maxPages int
	quality  int
	logger   *zap.Logger
}

// NewPDFRasterizer creates a rasterizer; maxPages <= 0 uses DefaultMaxPages
func NewPDFRasterizer(maxPages int, logger *zap.Logger) *PDFRasterizer {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &PDFRasterizer{
		maxPages: maxPages,
		quality:  85,
		logger:   logger,
	}
}

// Rasterize converts up to maxPages pages of an in-memory PDF to JPEG bytes
func (r *PDFRasterizer) Rasterize(data []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > r.maxPages {
		pages = r.maxPages
	}

	images := make([][]byte, 0, pages)
	for n := 0; n < pages; n++ {
		img, err := doc.Image(n)
		if err != nil {
			r.logger.Warn("Failed to render PDF page", zap.Int("page", n), zap.Error(err))
			continue
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
			r.logger.Warn("Failed to encode PDF page", zap.Int("page", n), zap.Error(err))
			continue
		}
		images = append(images, buf.Bytes())
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no pages rendered from PDF")
	}

	r.logger.Debug("Rasterized PDF", zap.Int("pages", len(images)), zap.Int("total_pages", doc.NumPage()))
	return images, nil
}
