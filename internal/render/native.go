package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/jackzampolin/ocrpdf/internal/hocr"
)

const (
	textFont = "Helvetica"

	// textModeInvisible is PDF text rendering mode 3: neither fill nor stroke.
	textModeInvisible = 3
)

// fixedDate stamps every page so identical input yields identical bytes.
var fixedDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Native renders pages in-process with fpdf.
type Native struct {
	Producer string
	Creator  string
}

// Name returns the renderer identifier.
func (n *Native) Name() string { return NameNative }

// RenderPage draws the raster full-page and overlays every hOCR word as
// invisible text scaled to its bounding box.
func (n *Native) RenderPage(ctx context.Context, job PageJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.DPI <= 0 {
		return fmt.Errorf("page %d: dpi must be positive", job.Index)
	}

	img, err := os.ReadFile(job.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	markup, err := os.ReadFile(job.MarkupPath)
	if err != nil {
		return fmt.Errorf("failed to read markup: %w", err)
	}
	page, err := hocr.ParsePage(markup)
	if err != nil {
		return fmt.Errorf("%w: page %d: %v", ErrInvalidMarkup, job.Index, err)
	}

	data, err := n.Render(img, page, job.DPI)
	if err != nil {
		return fmt.Errorf("page %d: %w", job.Index, err)
	}
	if err := os.WriteFile(job.OutputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write page pdf: %w", err)
	}
	return nil
}

// Render builds the single-page PDF in memory.
func (n *Native) Render(img []byte, page *hocr.Page, dpi int) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image config: %w", err)
	}
	imageType, err := fpdfImageType(format)
	if err != nil {
		return nil, err
	}

	// Points per pixel at the raster's resolution.
	k := 72 / float64(dpi)
	wPt, hPt := float64(cfg.Width)*k, float64(cfg.Height)*k

	// Markup coordinates may come from a differently scaled raster.
	sx, sy := 1.0, 1.0
	if !page.BBox.IsZero() {
		sx = float64(cfg.Width) / page.BBox.Width()
		sy = float64(cfg.Height) / page.BBox.Height()
	}
	tx := func(x float64) float64 { return (x - page.BBox.X1) * sx * k }
	ty := func(y float64) float64 { return (y - page.BBox.Y1) * sy * k }

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(fixedDate)
	pdf.SetModificationDate(fixedDate)
	pdf.SetCatalogSort(true)
	if n.Producer != "" {
		pdf.SetProducer(n.Producer, true)
	}
	if n.Creator != "" {
		pdf.SetCreator(n.Creator, true)
	}

	pdf.AddPageFormat("P", fpdf.SizeType{Wd: wPt, Ht: hPt})

	opts := fpdf.ImageOptions{ReadDpi: false, ImageType: imageType}
	pdf.RegisterImageOptionsReader("page", opts, bytes.NewReader(img))
	pdf.ImageOptions("page", 0, 0, wPt, hPt, false, opts, 0, "")

	pdf.SetFont(textFont, "", 10)
	pdf.SetTextRenderingMode(textModeInvisible)
	enc := encoding.ReplaceUnsupported(charmap.Windows1252.NewEncoder())

	for _, line := range page.Lines() {
		for _, word := range line.Words {
			text, err := enc.String(strings.TrimSpace(word.Text))
			if err != nil || text == "" || word.BBox.IsZero() {
				continue
			}

			size := fontSize(line, word) * sy * k
			if size <= 0 {
				continue
			}
			pdf.SetFontSize(size)

			x := tx(word.BBox.X1)
			y := ty(baseline(line, word))
			width := word.BBox.Width() * sx * k

			natural := pdf.GetStringWidth(text)
			if natural <= 0 {
				continue
			}
			pdf.TransformBegin()
			pdf.TransformScaleX(width/natural*100, x, y)
			pdf.Text(x, y, text)
			pdf.TransformEnd()
		}
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to build pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// fontSize picks a pixel font size: the line's x_size when present, else
// the line height, else the word height.
func fontSize(line hocr.Line, word hocr.Word) float64 {
	if line.XSize > 0 {
		return line.XSize
	}
	if h := line.BBox.Height(); h > 0 {
		return h
	}
	return word.BBox.Height()
}

// baseline returns the pixel y of the word's baseline. hOCR baselines are
// relative to the bottom-left corner of the line box.
func baseline(line hocr.Line, word hocr.Word) float64 {
	if line.Baseline == nil || line.BBox.IsZero() {
		return word.BBox.Y2
	}
	dx := word.BBox.X1 - line.BBox.X1
	return line.BBox.Y2 + line.Baseline.Offset + line.Baseline.Slope*dx
}

func fpdfImageType(format string) (string, error) {
	switch format {
	case "jpeg":
		return "JPG", nil
	case "png", "gif":
		return strings.ToUpper(format), nil
	default:
		return "", fmt.Errorf("unsupported raster format %q", format)
	}
}
