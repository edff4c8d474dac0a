package server

import (
	"fmt"
	"log/slog"

	"github.com/jackzampolin/ocrpdf/internal/config"
	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/home"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/reassembly"
	"github.com/jackzampolin/ocrpdf/internal/render"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// ServicesConfig configures BuildServices.
type ServicesConfig struct {
	Config *config.Manager
	Home   *home.Dir
	Logger *slog.Logger

	// Rasterizer overrides the pdftoppm rasterizer.
	Rasterizer loader.Rasterizer
}

// BuildServices wires the engine registry, device manager and pipeline from
// the current config. render.dpi is handed to both the loader and the
// assembler, so the two cannot disagree.
func BuildServices(cfg ServicesConfig) (*svcctx.Services, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cfg.Config.Get()

	scratch := c.Server.ScratchDir
	if scratch == "" && cfg.Home != nil {
		if err := cfg.Home.EnsureExists(); err != nil {
			return nil, err
		}
		scratch = cfg.Home.ScratchPath()
	}

	registry := engines.NewRegistry()
	registry.SetLogger(cfg.Logger)
	registry.Reload(c.ToEngineRegistryConfig())

	dev := device.NewManager(device.Config{
		Name:          c.Device.Name,
		MaxConcurrent: c.Device.MaxConcurrent,
		FlushOSMemory: c.Device.FlushOSMemory,
		Logger:        cfg.Logger,
	})

	raster := cfg.Rasterizer
	if raster == nil {
		raster = &loader.Pdftoppm{Path: c.Render.PdftoppmPath}
	}
	l, err := loader.New(loader.Config{
		DPI:         c.Render.DPI,
		Format:      c.Render.ImageFormat,
		JPEGQuality: c.Render.JPEGQuality,
		Scale:       c.Render.Scale,
		MaxPages:    c.Server.MaxPages,
		ScratchDir:  scratch,
		Rasterizer:  raster,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create loader: %w", err)
	}

	renderer, err := render.New(render.Config{
		Name:         c.Render.Renderer,
		Hocr2pdfPath: c.Render.Hocr2pdfPath,
		Producer:     c.Output.Metadata.Producer,
		Creator:      c.Output.Metadata.Creator,
	})
	if err != nil {
		return nil, err
	}
	assembler, err := reassembly.New(reassembly.Config{
		DPI:        c.Render.DPI,
		Renderer:   renderer,
		Workers:    c.Render.Workers,
		ScratchDir: scratch,
		Metadata:   c.Output.Metadata,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		Mode:          c.Output.Mode,
		DefaultEngine: c.Defaults.Engine,
		Engines:       registry,
		Loader:        l,
		Assembler:     assembler,
		Device:        dev,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &svcctx.Services{
		Pipeline: p,
		Engines:  registry,
		Device:   dev,
		Config:   cfg.Config,
		Logger:   cfg.Logger,

		ScratchDir: scratch,
	}, nil
}

// reload applies the parts of a new config that are safe to change while
// serving. DPI, output mode and limits are fixed for the life of the process.
func reload(s *svcctx.Services, prev, next *config.Config) {
	s.Engines.Reload(next.ToEngineRegistryConfig())
	s.Pipeline.SetDefaultEngine(next.Defaults.Engine)
	s.Logger.Info("engine registry reloaded from config", "engines", s.Engines.List(), "default", next.Defaults.Engine)

	if prev.Render.DPI != next.Render.DPI || prev.Output.Mode != next.Output.Mode {
		s.Logger.Warn("render.dpi and output.mode changes take effect after restart",
			"dpi", prev.Render.DPI, "mode", prev.Output.Mode)
	}
}
