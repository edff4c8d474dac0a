// Package render turns one page raster plus its hOCR markup into a
// single-page PDF with the recognized text as an invisible layer.
package render

import (
	"context"
	"errors"
	"fmt"
)

// Renderer names.
const (
	NameNative   = "native"
	NameHocr2pdf = "hocr2pdf"
)

// ErrInvalidMarkup is returned when a page's markup cannot be parsed.
var ErrInvalidMarkup = errors.New("invalid page markup")

// PageJob describes one page to render. All paths live in the caller's
// workspace; the renderer writes OutputPath and nothing else.
type PageJob struct {
	Index      int
	ImagePath  string
	MarkupPath string
	OutputPath string
	DPI        int
}

// Renderer produces a single-page PDF for a PageJob.
type Renderer interface {
	Name() string
	RenderPage(ctx context.Context, job PageJob) error
}

// Config selects and configures a renderer.
type Config struct {
	Name string

	// Hocr2pdfPath overrides the hocr2pdf binary location.
	Hocr2pdfPath string

	Producer string
	Creator  string
}

// New returns the renderer named by cfg.Name (default native).
func New(cfg Config) (Renderer, error) {
	switch cfg.Name {
	case "", NameNative:
		return &Native{Producer: cfg.Producer, Creator: cfg.Creator}, nil
	case NameHocr2pdf:
		return &Hocr2pdf{Path: cfg.Hocr2pdfPath}, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q", cfg.Name)
	}
}
