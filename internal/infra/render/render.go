package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/document"
)

const (
	DefaultMaxPages = 6
	DefaultDPI      = 150
)

// Renderer turns PDFs into per-page PNG images with MuPDF and passes
// raster images through unchanged.
type Renderer struct {
	MaxPages int
	DPI      float64
}

func New(maxPages int, dpi float64) *Renderer {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{MaxPages: maxPages, DPI: dpi}
}

// DetectType classifies a file by extension.
func DetectType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".png", ".jpg", ".jpeg":
		return "raster"
	default:
		return "unknown"
	}
}

func (r *Renderer) RenderPages(ctx context.Context, path string) ([]document.Page, error) {
	switch DetectType(path) {
	case "pdf":
		return r.renderPDF(ctx, path)
	case "raster":
		return renderRaster(path)
	default:
		return nil, &document.UnsupportedFormatError{Path: path, Reason: "unknown extension " + filepath.Ext(path)}
	}
}

func (r *Renderer) renderPDF(ctx context.Context, path string) ([]document.Page, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &document.UnsupportedFormatError{Path: path, Reason: err.Error()}
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, &document.UnsupportedFormatError{Path: path, Reason: err.Error()}
	}
	defer doc.Close()

	n := doc.NumPage()
	if n <= 0 {
		return nil, &document.EmptyDocumentError{Path: path}
	}
	if n > r.MaxPages {
		n = r.MaxPages
	}

	pages := make([]document.Page, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		png, err := doc.ImagePNG(i, r.DPI)
		if err != nil {
			return nil, fmt.Errorf("render page %d of %s: %w", i+1, path, err)
		}
		pages = append(pages, document.Page{Number: i + 1, MIME: "image/png", Data: png})
	}
	return pages, nil
}

func renderRaster(path string) ([]document.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &document.UnsupportedFormatError{Path: path, Reason: err.Error()}
	}
	if len(data) == 0 {
		return nil, &document.EmptyDocumentError{Path: path}
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &document.UnsupportedFormatError{Path: path, Reason: "not a decodable image: " + err.Error()}
	}
	return []document.Page{{Number: 1, MIME: "image/" + format, Data: data}}, nil
}
