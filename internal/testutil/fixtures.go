package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"codeberg.org/go-pdf/fpdf"

	"github.com/jackzampolin/ocrpdf/internal/hocr"
)

// Raster returns a w×h image filled with a shade derived from seed, so that
// pages built from different seeds encode differently.
func Raster(w, h int, seed int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shade := uint8(40 + (seed*37)%200)
	fill := color.RGBA{R: shade, G: 255 - shade, B: uint8(seed), A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	return img
}

// PNG returns an encoded PNG page.
func PNG(t TestingT, w, h int, seed int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Raster(w, h, seed)); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG returns an encoded JPEG page.
func JPEG(t TestingT, w, h int, seed int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Raster(w, h, seed), &jpeg.Options{Quality: 80}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// PDF returns a document with the given number of pages, each labelled
// with its 1-based number.
func PDF(t TestingT, pages int) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetFont("Helvetica", "", 24)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Text(72, 72, fmt.Sprintf("page %d", i))
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		t.Fatalf("failed to build pdf: %v", err)
	}
	return buf.Bytes()
}

// HOCR returns single-page markup with one line holding the given words laid
// out left to right across a w×h page.
func HOCR(t TestingT, w, h int, words ...string) []byte {
	t.Helper()
	page := hocr.Page{BBox: hocr.BBox{X2: float64(w), Y2: float64(h)}}
	if len(words) > 0 {
		lineBox := hocr.BBox{X1: float64(w) / 10, Y1: float64(h) / 10, X2: float64(w) * 9 / 10, Y2: float64(h) / 5}
		step := lineBox.Width() / float64(len(words))
		line := hocr.Line{BBox: lineBox}
		for i, text := range words {
			x := lineBox.X1 + float64(i)*step
			line.Words = append(line.Words, hocr.Word{
				BBox:       hocr.BBox{X1: x, Y1: lineBox.Y1, X2: x + step*0.9, Y2: lineBox.Y2},
				Text:       text,
				Confidence: 90,
			})
		}
		page.Areas = []hocr.Area{{
			BBox:       lineBox,
			Paragraphs: []hocr.Paragraph{{BBox: lineBox, Lines: []hocr.Line{line}}},
		}}
	}
	data, err := hocr.MarshalPage("testutil", page)
	if err != nil {
		t.Fatalf("failed to build hocr: %v", err)
	}
	return data
}
