//go:build ocr

package engines

import (
	"context"
	"fmt"
	"strconv"

	"github.com/otiai10/gosseract/v2"

	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/hocr"
	"github.com/jackzampolin/ocrpdf/internal/loader"
)

// Available reports that Tesseract is linked into this build.
func (e *TesseractEngine) Available() error { return nil }

// Recognize runs Tesseract over each page with a single client, which is
// closed when the device lease is released.
func (e *TesseractEngine) Recognize(ctx context.Context, dev device.Context, pages []loader.Page, opts Options) (*Result, error) {
	client := gosseract.NewClient()
	dev.OnRelease(client.Close)

	if err := client.SetLanguage(e.languages(opts)...); err != nil {
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if e.cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PageSegMode)); err != nil {
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}

	res := &Result{Engine: e.cfg.Name, Pages: make([]PageResult, 0, len(pages))}
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dpi := p.DPI
		if dpi == 0 {
			dpi = e.cfg.DPI
		}
		if dpi > 0 {
			if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), strconv.Itoa(dpi)); err != nil {
				return nil, fmt.Errorf("set dpi: %w", err)
			}
		}
		if err := client.SetImageFromBytes(p.Data); err != nil {
			return nil, fmt.Errorf("set image for page %d: %w", p.Index, err)
		}
		// Tesseract holds a grayscale copy plus its own thresholded buffer.
		dev.Alloc(int64(p.Width) * int64(p.Height) * 2)

		out, err := client.HOCRText()
		if err != nil {
			return nil, fmt.Errorf("recognize page %d: %w", p.Index, err)
		}
		parsed, err := hocr.ParsePage([]byte(out))
		if err != nil {
			return nil, fmt.Errorf("parse hocr for page %d: %w", p.Index, err)
		}

		page := FromHOCR(p.Index, p.Width, p.Height, parsed)
		page.Markup = []byte(out)
		res.Pages = append(res.Pages, page)

		e.logger.Debug("recognized page", "engine", e.cfg.Name, "page", p.Index, "words", parsed.WordCount())
	}
	return res, nil
}
