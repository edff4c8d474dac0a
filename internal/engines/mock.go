package engines

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/hocr"
	"github.com/jackzampolin/ocrpdf/internal/loader"
)

// MockEngine is an Engine for testing. Each page yields a single word
// "page-N" (N is the 1-based page number) centred on the raster.
type MockEngine struct {
	name string

	// Configurable behavior
	Latency    time.Duration
	ShouldFail bool
	FailOnPage int // Fail when this page index is seen (negative = never)
	Languages  []string
	DetArchs   []string
	RecoArchs  []string

	// State
	calls    atomic.Int64
	releases atomic.Int64
}

// NewMock creates a mock engine with no latency that never fails.
func NewMock(name string) *MockEngine {
	if name == "" {
		name = TypeMock
	}
	return &MockEngine{
		name:       name,
		FailOnPage: -1,
		Languages:  []string{"eng"},
		DetArchs:   []string{"mock_det"},
		RecoArchs:  []string{"mock_reco"},
	}
}

// Name returns the engine identifier.
func (m *MockEngine) Name() string {
	return m.name
}

// Info describes the mock engine.
func (m *MockEngine) Info() Info {
	return Info{
		Name:      m.name,
		Type:      TypeMock,
		Languages: slices.Clone(m.Languages),
		DetArchs:  slices.Clone(m.DetArchs),
		RecoArchs: slices.Clone(m.RecoArchs),
	}
}

// Validate checks opts against the configured choices.
func (m *MockEngine) Validate(opts Options) error {
	if err := checkLanguages(opts.Languages, m.Languages); err != nil {
		return err
	}
	if err := checkChoice("det_arch", opts.DetArch, m.DetArchs); err != nil {
		return err
	}
	return checkChoice("reco_arch", opts.RecoArch, m.RecoArchs)
}

// Calls returns how many times Recognize has been invoked.
func (m *MockEngine) Calls() int64 {
	return m.calls.Load()
}

// Releases returns how many device releases the engine has observed.
func (m *MockEngine) Releases() int64 {
	return m.releases.Load()
}

// Recognize returns deterministic results for pages.
func (m *MockEngine) Recognize(ctx context.Context, dev device.Context, pages []loader.Page, opts Options) (*Result, error) {
	m.calls.Add(1)
	dev.OnRelease(func() error {
		m.releases.Add(1)
		return nil
	})

	if m.ShouldFail {
		return nil, fmt.Errorf("mock engine configured to fail")
	}

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &Result{Engine: m.name, Pages: make([]PageResult, 0, len(pages))}
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.Index == m.FailOnPage {
			return nil, fmt.Errorf("mock engine failed on page %d", p.Index)
		}
		dev.Alloc(int64(len(p.Data)))
		res.Pages = append(res.Pages, mockPage(p))
	}
	return res, nil
}

func mockPage(p loader.Page) PageResult {
	w, h := float64(p.Width), float64(p.Height)
	box := hocr.BBox{X1: w * 0.25, Y1: h * 0.45, X2: w * 0.75, Y2: h * 0.55}
	word := Word{Value: fmt.Sprintf("page-%d", p.Index+1), Box: box, Confidence: 0.99}
	return PageResult{
		Index:       p.Index,
		Width:       p.Width,
		Height:      p.Height,
		Orientation: &Orientation{Degrees: 0, Confidence: 1},
		Language:    &Language{Value: "en", Confidence: 1},
		Blocks: []Block{{
			Box:   box,
			Lines: []Line{{Box: box, Words: []Word{word}}},
		}},
	}
}

// Verify interface
var _ Engine = (*MockEngine)(nil)
