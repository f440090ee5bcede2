package document

import (
	"context"
	"fmt"
)

// Page is one rendered page ready for submission to a vision model.
type Page struct {
	Number int    `json:"number"`
	MIME   string `json:"mime"`
	Data   []byte `json:"-"`
}

// Renderer port (file → page images)
type Renderer interface {
	RenderPages(ctx context.Context, path string) ([]Page, error)
}

// UnsupportedFormatError means the file could not be read as a PDF or image.
type UnsupportedFormatError struct {
	Path   string
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %s: %s", e.Path, e.Reason)
}

// EmptyDocumentError means the document opened fine but has no pages.
type EmptyDocumentError struct {
	Path string
}

func (e *EmptyDocumentError) Error() string {
	return fmt.Sprintf("document has no pages: %s", e.Path)
}
