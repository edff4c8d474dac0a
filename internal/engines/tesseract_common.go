package engines

import (
	"log/slog"
	"slices"
)

// TesseractConfig configures the local Tesseract engine.
type TesseractConfig struct {
	Name string

	// Languages are installed traineddata names; the first is the default.
	Languages []string

	// PageSegMode is passed to Tesseract when non-zero.
	PageSegMode int

	// DPI is reported to Tesseract as user_defined_dpi when the page has none.
	DPI int

	Logger *slog.Logger
}

// TesseractEngine recognizes pages with a local Tesseract install.
// Recognition requires building with -tags ocr.
type TesseractEngine struct {
	cfg    TesseractConfig
	logger *slog.Logger
}

// NewTesseract creates a Tesseract engine.
func NewTesseract(cfg TesseractConfig) *TesseractEngine {
	if cfg.Name == "" {
		cfg.Name = TypeTesseract
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TesseractEngine{cfg: cfg, logger: cfg.Logger}
}

// Name returns the engine identifier.
func (e *TesseractEngine) Name() string {
	return e.cfg.Name
}

// Info describes the engine. Tesseract has a single fixed pipeline, so no
// architectures are offered.
func (e *TesseractEngine) Info() Info {
	return Info{
		Name:      e.cfg.Name,
		Type:      TypeTesseract,
		Languages: slices.Clone(e.cfg.Languages),
	}
}

// Validate rejects architecture selection and unknown languages.
func (e *TesseractEngine) Validate(opts Options) error {
	if err := checkChoice("det_arch", opts.DetArch, nil); err != nil {
		return err
	}
	if err := checkChoice("reco_arch", opts.RecoArch, nil); err != nil {
		return err
	}
	return checkLanguages(opts.Languages, e.cfg.Languages)
}

func (e *TesseractEngine) languages(opts Options) []string {
	if len(opts.Languages) > 0 {
		return opts.Languages
	}
	return e.cfg.Languages[:1]
}

// Verify interface
var _ Engine = (*TesseractEngine)(nil)
