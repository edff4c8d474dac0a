// Package loader turns uploaded documents into ordered page rasters.
//
// Every page carries its 0-based index and the DPI it was produced at.
// The index is assigned once here and is the only ordering key used
// downstream.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidDocument is the parent of every error caused by the upload itself.
var ErrInvalidDocument = errors.New("invalid document")

var (
	ErrEmptyFile         = fmt.Errorf("%w: empty file", ErrInvalidDocument)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrInvalidDocument)
	ErrNoPages           = fmt.Errorf("%w: no pages", ErrInvalidDocument)
	ErrTooManyPages      = fmt.Errorf("%w: too many pages", ErrInvalidDocument)
)

// Raster formats pages are produced in.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

// Page is one rasterized page.
type Page struct {
	Index  int    `json:"index"`
	Data   []byte `json:"-"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	DPI    int    `json:"dpi"`
	Source string `json:"source"`
}

// Ext returns the file extension for the page raster.
func (p Page) Ext() string {
	if p.Format == FormatPNG {
		return ".png"
	}
	return ".jpg"
}

// Document is an ordered sequence of pages.
type Document struct {
	Pages []Page
}

// Len returns the number of pages.
func (d *Document) Len() int {
	return len(d.Pages)
}

// Config configures a Loader.
type Config struct {
	// DPI is the rasterization resolution. The same value must be handed to
	// the reassembly stage.
	DPI int
	// Format is the raster encoding for rendered pages: "jpeg" or "png".
	Format      string
	JPEGQuality int
	// Scale resizes uploaded images before recognition (1 = unchanged).
	Scale float64
	// MaxPages bounds a single request (0 = unlimited).
	MaxPages int
	// ScratchDir is where uploaded PDFs are spooled for the rasterizer.
	ScratchDir string
	Rasterizer Rasterizer
	Logger     *slog.Logger
}

// Loader reads uploads into a Document.
type Loader struct {
	dpi        int
	format     string
	quality    int
	scale      float64
	maxPages   int
	scratchDir string
	raster     Rasterizer
	logger     *slog.Logger
}

// New creates a loader.
func New(cfg Config) (*Loader, error) {
	if cfg.DPI <= 0 {
		return nil, fmt.Errorf("dpi must be positive, got %d", cfg.DPI)
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatJPEG
	case FormatJPEG, FormatPNG:
	default:
		return nil, fmt.Errorf("unknown raster format %q", cfg.Format)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.Scale <= 0 {
		cfg.Scale = 1
	}
	if cfg.Rasterizer == nil {
		cfg.Rasterizer = &Pdftoppm{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loader{
		dpi:        cfg.DPI,
		format:     cfg.Format,
		quality:    cfg.JPEGQuality,
		scale:      cfg.Scale,
		maxPages:   cfg.MaxPages,
		scratchDir: cfg.ScratchDir,
		raster:     cfg.Rasterizer,
		logger:     cfg.Logger,
	}, nil
}

// DPI returns the resolution pages are produced at.
func (l *Loader) DPI() int {
	return l.dpi
}

// Load reads files in order and concatenates their pages.
func (l *Loader) Load(ctx context.Context, files []File) (*Document, error) {
	if len(files) == 0 {
		return nil, ErrNoPages
	}

	doc := &Document{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("%s: %w", f.Name, ErrEmptyFile)
		}

		var err error
		if isPDF(f.Data) {
			err = l.loadPDF(ctx, f, doc)
		} else {
			err = l.loadImage(f, doc)
		}
		if err != nil {
			return nil, err
		}
	}

	if doc.Len() == 0 {
		return nil, ErrNoPages
	}
	return doc, nil
}

func (l *Loader) addPage(doc *Document, p Page) error {
	if l.maxPages > 0 && doc.Len() >= l.maxPages {
		return fmt.Errorf("%w: limit is %d", ErrTooManyPages, l.maxPages)
	}
	p.Index = doc.Len()
	p.DPI = l.dpi
	doc.Pages = append(doc.Pages, p)
	return nil
}

func (l *Loader) loadPDF(ctx context.Context, f File, doc *Document) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCount(bytes.NewReader(f.Data), conf)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, f.Name, err)
	}
	if pageCount == 0 {
		return fmt.Errorf("%s: %w", f.Name, ErrNoPages)
	}
	if l.maxPages > 0 && doc.Len()+pageCount > l.maxPages {
		return fmt.Errorf("%w: %s has %d pages, limit is %d", ErrTooManyPages, f.Name, pageCount, l.maxPages)
	}

	tmpDir, err := os.MkdirTemp(l.scratchDir, "ocrpdf-load-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "source.pdf")
	if err := os.WriteFile(pdfPath, f.Data, 0o600); err != nil {
		return fmt.Errorf("failed to spool PDF: %w", err)
	}

	l.logger.Debug("rasterizing PDF", "file", f.Name, "pages", pageCount, "dpi", l.dpi)

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := l.raster.RenderPage(ctx, RenderRequest{
			PDFPath:     pdfPath,
			Page:        pageNum,
			DPI:         l.dpi,
			Format:      l.format,
			JPEGQuality: l.quality,
		})
		if err != nil {
			return fmt.Errorf("failed to rasterize %s page %d: %w", f.Name, pageNum, err)
		}

		w, h, format, err := decodeConfig(data)
		if err != nil {
			return fmt.Errorf("rasterizer produced unreadable page %d: %w", pageNum, err)
		}
		if err := l.addPage(doc, Page{
			Data:   data,
			Format: format,
			Width:  w,
			Height: h,
			Source: f.Name,
		}); err != nil {
			return err
		}
	}
	return nil
}

// isPDF checks for the PDF header, tolerating leading whitespace.
func isPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF-"))
}
