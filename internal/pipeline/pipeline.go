// Package pipeline runs one OCR request end to end: resolve the engine,
// load the upload, recognize inside a device lease, then either assemble
// a searchable PDF or serialize the raw markup bundle.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/ocrpdf/internal/bundle"
	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/reassembly"
)

// Output modes.
const (
	ModePDF    = "pdf"
	ModeMarkup = "markup"
)

// ContentTypePDF is the media type of assembled documents.
const ContentTypePDF = "application/pdf"

// Config wires a Service.
type Config struct {
	// Mode is ModePDF or ModeMarkup. Fixed for the life of the service.
	Mode          string
	DefaultEngine string

	Engines   *engines.Registry
	Loader    *loader.Loader
	Assembler *reassembly.Assembler
	Device    *device.Manager
	Logger    *slog.Logger
}

// Request is one OCR call.
type Request struct {
	Files   []loader.File
	Engine  string
	Options engines.Options
}

// Response is the payload to return to the caller.
type Response struct {
	ContentType string
	Filename    string
	Body        []byte
	Pages       int
	Engine      string
}

// Service runs requests. It is safe for concurrent use.
type Service struct {
	mode      string
	engines   *engines.Registry
	loader    *loader.Loader
	assembler *reassembly.Assembler
	device    *device.Manager
	logger    *slog.Logger

	mu            sync.RWMutex
	defaultEngine string
}

// New creates a Service. The loader and assembler must agree on DPI.
func New(cfg Config) (*Service, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePDF
	case ModePDF, ModeMarkup:
	default:
		return nil, fmt.Errorf("unknown output mode %q", cfg.Mode)
	}
	if cfg.Engines == nil || cfg.Loader == nil || cfg.Assembler == nil || cfg.Device == nil {
		return nil, fmt.Errorf("pipeline requires engines, loader, assembler and device")
	}
	if cfg.Loader.DPI() != cfg.Assembler.DPI() {
		return nil, fmt.Errorf("%w: loader rasterizes at %d, assembler renders at %d",
			reassembly.ErrDPIMismatch, cfg.Loader.DPI(), cfg.Assembler.DPI())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		mode:          cfg.Mode,
		engines:       cfg.Engines,
		loader:        cfg.Loader,
		assembler:     cfg.Assembler,
		device:        cfg.Device,
		logger:        cfg.Logger,
		defaultEngine: cfg.DefaultEngine,
	}, nil
}

// Mode returns the output mode.
func (s *Service) Mode() string { return s.mode }

// DPI returns the shared rasterize/render resolution.
func (s *Service) DPI() int { return s.assembler.DPI() }

// Engines returns the engine registry.
func (s *Service) Engines() *engines.Registry { return s.engines }

// Device returns the device manager.
func (s *Service) Device() *device.Manager { return s.device }

// DefaultEngine returns the engine used when a request names none.
func (s *Service) DefaultEngine() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultEngine
}

// SetDefaultEngine changes the default engine (config hot reload).
func (s *Service) SetDefaultEngine(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultEngine = name
}

// Process runs one request.
func (s *Service) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	name := req.Engine
	if name == "" {
		name = s.DefaultEngine()
	}
	eng, err := s.engines.Get(name)
	if err != nil {
		return nil, err
	}
	if err := eng.Validate(req.Options); err != nil {
		return nil, err
	}

	doc, err := s.loader.Load(ctx, req.Files)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("engine", name, "pages", doc.Len())

	res, err := s.recognize(ctx, eng, doc.Pages, req.Options)
	if err != nil {
		return nil, err
	}
	markups, err := exportMarkup(res, doc.Pages)
	if err != nil {
		return nil, err
	}

	resp := &Response{Pages: doc.Len(), Engine: name}
	base := baseName(req.Files)

	switch s.mode {
	case ModeMarkup:
		b := &bundle.Bundle{Engine: name, DPI: s.DPI()}
		for i, p := range doc.Pages {
			b.Pages = append(b.Pages, bundle.Page{Index: p.Index, Width: p.Width, Height: p.Height, Markup: markups[i].Data})
		}
		body, err := bundle.Marshal(b)
		if err != nil {
			return nil, err
		}
		resp.ContentType = bundle.ContentType
		resp.Filename = base + ".ocr.zip"
		resp.Body = body
	default:
		body, err := s.assembler.Assemble(ctx, doc.Pages, markups)
		if err != nil {
			return nil, err
		}
		resp.ContentType = ContentTypePDF
		resp.Filename = base + ".pdf"
		resp.Body = body
	}

	logger.Info("processed document", "mode", s.mode, "bytes", len(resp.Body), "duration", time.Since(start))
	return resp, nil
}

// Reassemble renders a previously returned markup bundle over the original
// upload. Given the same upload it reproduces the PDF-mode output.
func (s *Service) Reassemble(ctx context.Context, bundleData []byte, files []loader.File) (*Response, error) {
	b, err := bundle.Decode(bundleData)
	if err != nil {
		return nil, err
	}
	if b.DPI != s.DPI() {
		return nil, fmt.Errorf("%w: bundle was produced at %d dpi, server renders at %d", ErrInvalidRequest, b.DPI, s.DPI())
	}

	doc, err := s.loader.Load(ctx, files)
	if err != nil {
		return nil, err
	}
	if len(b.Pages) != doc.Len() {
		return nil, fmt.Errorf("%w: bundle has %d pages, upload has %d", reassembly.ErrPageCountMismatch, len(b.Pages), doc.Len())
	}

	markups := make([]reassembly.Markup, len(b.Pages))
	for i, p := range b.Pages {
		img := doc.Pages[p.Index]
		if p.Width != img.Width || p.Height != img.Height {
			return nil, fmt.Errorf("%w: page %d is %dx%d in the bundle but %dx%d in the upload",
				ErrInvalidRequest, p.Index, p.Width, p.Height, img.Width, img.Height)
		}
		markups[i] = reassembly.Markup{Index: p.Index, Data: p.Markup}
	}

	body, err := s.assembler.Assemble(ctx, doc.Pages, markups)
	if err != nil {
		return nil, err
	}

	s.logger.Info("reassembled document", "engine", b.Engine, "pages", doc.Len(), "bytes", len(body))
	return &Response{
		ContentType: ContentTypePDF,
		Filename:    baseName(files) + ".pdf",
		Body:        body,
		Pages:       doc.Len(),
		Engine:      b.Engine,
	}, nil
}

// recognize runs inference inside a device lease. The lease is released on
// every path, which is what returns accelerator memory between requests.
func (s *Service) recognize(ctx context.Context, eng engines.Engine, pages []loader.Page, opts engines.Options) (*engines.Result, error) {
	lease, err := s.device.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", s.device.Name(), err)
	}
	defer func() {
		if err := lease.Release(); err != nil {
			s.logger.Warn("device release reported errors", "engine", eng.Name(), "error", err)
		}
	}()

	res, err := eng.Recognize(ctx, lease, pages, opts)
	if err != nil {
		return nil, fmt.Errorf("%s recognition failed: %w", eng.Name(), err)
	}
	return res, nil
}

// exportMarkup converts the engine result to markup and checks that it is
// aligned page for page with the input.
func exportMarkup(res *engines.Result, pages []loader.Page) ([]reassembly.Markup, error) {
	if len(res.Pages) != len(pages) {
		return nil, fmt.Errorf("engine %s returned %d pages for %d inputs", res.Engine, len(res.Pages), len(pages))
	}
	blobs, err := res.ExportHOCR()
	if err != nil {
		return nil, err
	}
	markups := make([]reassembly.Markup, len(blobs))
	for i, data := range blobs {
		if res.Pages[i].Index != pages[i].Index {
			return nil, fmt.Errorf("engine %s returned page %d at position %d", res.Engine, res.Pages[i].Index, i)
		}
		markups[i] = reassembly.Markup{Index: pages[i].Index, Data: data}
	}
	return markups, nil
}

// baseName derives the download name from the first uploaded file.
func baseName(files []loader.File) string {
	if len(files) == 0 {
		return "document"
	}
	name := filepath.Base(files[0].Name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == "/" {
		return "document"
	}
	return name
}
