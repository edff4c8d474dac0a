package loader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func (l *Loader) loadImage(f File, doc *Document) error {
	w, h, format, err := decodeConfig(f.Data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, f.Name, err)
	}

	// JPEG and PNG can be embedded as-is; anything else, or anything that
	// needs resampling, is decoded and re-encoded.
	if l.scale == 1 && (format == FormatJPEG || format == FormatPNG) {
		return l.addPage(doc, Page{
			Data:   f.Data,
			Format: format,
			Width:  w,
			Height: h,
			Source: f.Name,
		})
	}

	img, _, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, f.Name, err)
	}
	if l.scale != 1 {
		img = resample(img, l.scale)
	}

	data, err := encode(img, l.format, l.quality)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.Name, err)
	}
	b := img.Bounds()
	return l.addPage(doc, Page{
		Data:   data,
		Format: l.format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Source: f.Name,
	})
}

// decodeConfig returns dimensions and the normalized format name.
func decodeConfig(data []byte) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, "", fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, format, nil
}

func resample(src image.Image, scale float64) image.Image {
	b := src.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
