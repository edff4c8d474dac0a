// Package reassembly pairs page rasters with their recognition markup,
// renders one single-page PDF per page and concatenates them in page order.
package reassembly

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/render"
)

// ErrInvalidInput is the parent of every error caused by the caller's pages.
var ErrInvalidInput = errors.New("invalid reassembly input")

var (
	ErrNoPages           = fmt.Errorf("%w: no pages", ErrInvalidInput)
	ErrPageCountMismatch = fmt.Errorf("%w: image and markup counts differ", ErrInvalidInput)

	// ErrDPIMismatch means a page was rasterized at a resolution other than
	// the one the assembler renders at. It is a configuration fault.
	ErrDPIMismatch = errors.New("page dpi does not match render dpi")
)

// Markup is the recognition markup for one page.
type Markup struct {
	Index int
	Data  []byte
}

// Artifact is a rendered single-page PDF.
type Artifact struct {
	Index int
	Path  string
}

// Config configures an Assembler.
type Config struct {
	// DPI is the resolution pages were rasterized at. Required.
	DPI int

	Renderer render.Renderer

	// Workers bounds parallel page rendering (default 1).
	Workers int

	// ScratchDir is the parent of per-request workspaces.
	ScratchDir string

	Metadata Metadata
	Logger   *slog.Logger
}

// Assembler runs the reassembly pipeline.
type Assembler struct {
	dpi      int
	renderer render.Renderer
	workers  int
	scratch  string
	metadata Metadata
	logger   *slog.Logger
}

// New creates an Assembler.
func New(cfg Config) (*Assembler, error) {
	if cfg.DPI <= 0 {
		return nil, fmt.Errorf("dpi must be positive, got %d", cfg.DPI)
	}
	if cfg.Renderer == nil {
		cfg.Renderer = &render.Native{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assembler{
		dpi:      cfg.DPI,
		renderer: cfg.Renderer,
		workers:  cfg.Workers,
		scratch:  cfg.ScratchDir,
		metadata: cfg.Metadata,
		logger:   cfg.Logger,
	}, nil
}

// DPI returns the render resolution.
func (a *Assembler) DPI() int {
	return a.dpi
}

// Assemble renders every (image, markup) pair and returns the merged PDF.
// Pages are paired and ordered by Index, never by slice position or file
// name. Any page failure fails the whole document.
func (a *Assembler) Assemble(ctx context.Context, images []loader.Page, markups []Markup) ([]byte, error) {
	start := time.Now()

	pairs, err := a.pair(images, markups)
	if err != nil {
		return nil, err
	}

	ws, err := NewWorkspace(a.scratch)
	if err != nil {
		return nil, err
	}
	defer func() {
		dir := ws.Dir()
		if err := ws.Close(); err != nil {
			a.logger.Warn("failed to remove workspace", "dir", dir, "error", err)
		}
	}()

	jobs := make([]render.PageJob, len(pairs))
	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		imgPath, err := ws.WriteFile(p.image.Index, p.image.Ext(), p.image.Data)
		if err != nil {
			return nil, err
		}
		markupPath, err := ws.WriteFile(p.image.Index, ".hocr", p.markup.Data)
		if err != nil {
			return nil, err
		}
		jobs[i] = render.PageJob{
			Index:      p.image.Index,
			ImagePath:  imgPath,
			MarkupPath: markupPath,
			OutputPath: ws.Path(p.image.Index, ".pdf"),
			DPI:        a.dpi,
		}
	}

	artifacts, err := a.renderAll(ctx, jobs)
	if err != nil {
		return nil, err
	}
	SortArtifacts(artifacts)

	out, err := merge(artifacts, a.metadata)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("assembled document",
		"pages", len(artifacts),
		"renderer", a.renderer.Name(),
		"bytes", len(out),
		"duration", time.Since(start))
	return out, nil
}

type pair struct {
	image  loader.Page
	markup Markup
}

// pair validates the inputs and matches markup to images by index.
func (a *Assembler) pair(images []loader.Page, markups []Markup) ([]pair, error) {
	if len(images) == 0 && len(markups) == 0 {
		return nil, ErrNoPages
	}
	if len(images) != len(markups) {
		return nil, fmt.Errorf("%w: %d images, %d markups", ErrPageCountMismatch, len(images), len(markups))
	}

	n := len(images)
	byIndex := make(map[int]Markup, n)
	for _, m := range markups {
		if m.Index < 0 || m.Index >= n {
			return nil, fmt.Errorf("%w: markup index %d out of range [0,%d)", ErrInvalidInput, m.Index, n)
		}
		if _, dup := byIndex[m.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate markup index %d", ErrInvalidInput, m.Index)
		}
		byIndex[m.Index] = m
	}

	seen := make(map[int]bool, n)
	pairs := make([]pair, 0, n)
	for _, img := range images {
		if img.Index < 0 || img.Index >= n {
			return nil, fmt.Errorf("%w: image index %d out of range [0,%d)", ErrInvalidInput, img.Index, n)
		}
		if seen[img.Index] {
			return nil, fmt.Errorf("%w: duplicate image index %d", ErrInvalidInput, img.Index)
		}
		seen[img.Index] = true
		if img.DPI != a.dpi {
			return nil, fmt.Errorf("%w: page %d rasterized at %d, rendering at %d", ErrDPIMismatch, img.Index, img.DPI, a.dpi)
		}
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("%w: page %d has no image data", ErrInvalidInput, img.Index)
		}
		pairs = append(pairs, pair{image: img, markup: byIndex[img.Index]})
	}
	return pairs, nil
}

// renderAll renders jobs with at most a.workers in flight. The first error
// cancels the rest.
func (a *Assembler) renderAll(ctx context.Context, jobs []render.PageJob) ([]Artifact, error) {
	artifacts := make([]Artifact, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := a.renderer.RenderPage(gctx, job); err != nil {
				return fmt.Errorf("failed to render page %d: %w", job.Index, err)
			}
			if _, err := os.Stat(job.OutputPath); err != nil {
				return fmt.Errorf("renderer produced no output for page %d: %w", job.Index, err)
			}
			artifacts[i] = Artifact{Index: job.Index, Path: job.OutputPath}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Parent cancellation can stop the loop before any job fails.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// SortArtifacts orders artifacts by numeric page index.
func SortArtifacts(artifacts []Artifact) {
	slices.SortFunc(artifacts, func(a, b Artifact) int {
		return cmp.Compare(a.Index, b.Index)
	})
}
