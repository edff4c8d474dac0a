// Package engines defines the recognition engine contract and its
// implementations. An engine turns ordered page rasters into structured
// per-page results and can export each page as hOCR.
package engines

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/hocr"
	"github.com/jackzampolin/ocrpdf/internal/loader"
)

// ErrInvalidOptions is the parent of every error caused by the caller's
// engine selection or model configuration.
var ErrInvalidOptions = errors.New("invalid recognition options")

var (
	ErrUnknownEngine = fmt.Errorf("%w: unknown engine", ErrInvalidOptions)

	// ErrEngineUnavailable means the engine exists but cannot run in this build
	// or environment.
	ErrEngineUnavailable = errors.New("engine unavailable")
)

// Engine types understood by the registry.
const (
	TypeTesseract = "tesseract"
	TypeRemote    = "remote"
	TypeMock      = "mock"
)

// Options is the per-request model configuration.
type Options struct {
	Languages           []string `json:"languages,omitempty"`
	DetArch             string   `json:"det_arch,omitempty"`
	RecoArch            string   `json:"reco_arch,omitempty"`
	AssumeStraightPages bool     `json:"assume_straight_pages"`
	DetectOrientation   bool     `json:"detect_orientation"`
	DetectLanguage      bool     `json:"detect_language"`
}

// Info describes an engine for listings.
type Info struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Languages []string `json:"languages,omitempty"`
	DetArchs  []string `json:"det_archs,omitempty"`
	RecoArchs []string `json:"reco_archs,omitempty"`
}

// Engine recognizes text on page rasters.
type Engine interface {
	// Name returns the registry name of the engine.
	Name() string

	// Info describes the engine and the options it accepts.
	Info() Info

	// Validate checks opts before any work is done. Errors wrap ErrInvalidOptions.
	Validate(opts Options) error

	// Recognize returns one PageResult per input page, in input order.
	// Memory and native resources are accounted against dev.
	Recognize(ctx context.Context, dev device.Context, pages []loader.Page, opts Options) (*Result, error)
}

// Checker is implemented by engines that may be registered but unable to
// run in this build or environment.
type Checker interface {
	// Available returns an error wrapping ErrEngineUnavailable when the
	// engine cannot recognize anything.
	Available() error
}

// Orientation is a detected rotation in degrees.
type Orientation struct {
	Degrees    int     `json:"degrees"`
	Confidence float64 `json:"confidence"`
}

// Language is a detected language tag.
type Language struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Word is a recognized word. Confidence is in [0,1].
type Word struct {
	Value           string       `json:"value"`
	Box             hocr.BBox    `json:"box"`
	Confidence      float64      `json:"confidence"`
	CropOrientation *Orientation `json:"crop_orientation,omitempty"`
}

// Line is a run of words.
type Line struct {
	Box   hocr.BBox `json:"box"`
	Words []Word    `json:"words"`
}

// Block is a region of lines.
type Block struct {
	Box   hocr.BBox `json:"box"`
	Lines []Line    `json:"lines"`
}

// PageResult is the recognition output for one page.
type PageResult struct {
	Index       int          `json:"index"`
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Orientation *Orientation `json:"orientation,omitempty"`
	Language    *Language    `json:"language,omitempty"`
	Blocks      []Block      `json:"blocks"`

	// Markup holds hOCR produced natively by the engine, if any.
	Markup []byte `json:"-"`
}

// Result is the output of one Recognize call.
type Result struct {
	Engine string       `json:"engine"`
	Pages  []PageResult `json:"pages"`
}

// ExportHOCR returns one hOCR document per page in result order.
// Engines that produced hOCR natively have it returned untouched.
func (r *Result) ExportHOCR() ([][]byte, error) {
	out := make([][]byte, len(r.Pages))
	for i, p := range r.Pages {
		if len(p.Markup) > 0 {
			out[i] = p.Markup
			continue
		}
		data, err := hocr.MarshalPage(r.Engine, p.ToHOCR())
		if err != nil {
			return nil, fmt.Errorf("failed to export page %d: %w", p.Index, err)
		}
		out[i] = data
	}
	return out, nil
}

// ToHOCR converts the structured result to the hOCR model. Each block
// becomes one area holding a single paragraph.
func (p PageResult) ToHOCR() hocr.Page {
	page := hocr.Page{
		PageNo: p.Index,
		BBox:   hocr.BBox{X2: float64(p.Width), Y2: float64(p.Height)},
	}
	if p.Language != nil {
		page.Lang = p.Language.Value
	}
	for _, b := range p.Blocks {
		par := hocr.Paragraph{BBox: b.Box, Lang: page.Lang}
		for _, l := range b.Lines {
			line := hocr.Line{BBox: l.Box}
			for _, w := range l.Words {
				line.Words = append(line.Words, hocr.Word{
					BBox:       w.Box,
					Text:       w.Value,
					Confidence: w.Confidence * 100,
				})
			}
			par.Lines = append(par.Lines, line)
		}
		page.Areas = append(page.Areas, hocr.Area{BBox: b.Box, Paragraphs: []hocr.Paragraph{par}})
	}
	return page
}

// FromHOCR builds a structured page from parsed hOCR. Paragraph boundaries
// are flattened into their enclosing block.
func FromHOCR(index, width, height int, page *hocr.Page) PageResult {
	res := PageResult{Index: index, Width: width, Height: height}
	if page.Lang != "" {
		res.Language = &Language{Value: page.Lang, Confidence: 1}
	}
	for _, a := range page.Areas {
		block := Block{Box: a.BBox}
		for _, par := range a.Paragraphs {
			if res.Language == nil && par.Lang != "" {
				res.Language = &Language{Value: par.Lang, Confidence: 1}
			}
			for _, l := range par.Lines {
				line := Line{Box: l.BBox}
				for _, w := range l.Words {
					line.Words = append(line.Words, Word{
						Value:      w.Text,
						Box:        w.BBox,
						Confidence: w.Confidence / 100,
					})
				}
				block.Lines = append(block.Lines, line)
			}
		}
		res.Blocks = append(res.Blocks, block)
	}
	return res
}

// checkChoice validates value against allowed; empty value is always fine.
func checkChoice(kind, value string, allowed []string) error {
	if value == "" || slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%w: unsupported %s %q (available: %v)", ErrInvalidOptions, kind, value, allowed)
}

// checkLanguages validates each requested language.
func checkLanguages(langs, allowed []string) error {
	for _, l := range langs {
		if err := checkChoice("language", l, allowed); err != nil {
			return err
		}
	}
	return nil
}
