//go:build !ocr

package engines

import (
	"context"
	"fmt"

	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/loader"
)

// Available fails: this binary was built without Tesseract support.
// Rebuild with -tags ocr.
func (e *TesseractEngine) Available() error {
	return fmt.Errorf("%w: %s requires building with -tags ocr", ErrEngineUnavailable, e.cfg.Name)
}

func (e *TesseractEngine) Recognize(ctx context.Context, dev device.Context, pages []loader.Page, opts Options) (*Result, error) {
	return nil, e.Available()
}
