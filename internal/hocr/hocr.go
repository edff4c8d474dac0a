// Package hocr models hOCR markup: the XHTML representation of recognized
// text with bounding boxes that the overlay renderers consume.
//
// The hierarchy is Document → Page → Area → Paragraph → Line → Word.
// Coordinates are pixels in the page raster, origin top-left.
package hocr

import "fmt"

// Class names recognized by the parser and emitted by the generator.
const (
	ClassPage      = "ocr_page"
	ClassArea      = "ocr_carea"
	ClassParagraph = "ocr_par"
	ClassLine      = "ocr_line"
	ClassWord      = "ocrx_word"
)

// lineClasses are the span classes tesseract and friends use for text lines.
var lineClasses = map[string]bool{
	ClassLine:       true,
	"ocr_header":    true,
	"ocr_caption":   true,
	"ocr_textfloat": true,
}

// BBox is an axis-aligned box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// IsZero reports whether the box carries no extent.
func (b BBox) IsZero() bool { return b.Width() <= 0 || b.Height() <= 0 }

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	return BBox{
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
		X2: max(b.X2, o.X2),
		Y2: max(b.Y2, o.Y2),
	}
}

func (b BBox) String() string {
	return fmt.Sprintf("bbox %d %d %d %d", int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Baseline is the hOCR baseline property: a slope and an offset relative
// to the bottom-left corner of the line box.
type Baseline struct {
	Slope  float64 `json:"slope"`
	Offset float64 `json:"offset"`
}

// Document is a parsed hOCR document.
type Document struct {
	System string `json:"system,omitempty"`
	Pages  []Page `json:"pages"`
}

// Page is one ocr_page element.
type Page struct {
	ID     string `json:"id,omitempty"`
	Image  string `json:"image,omitempty"`
	PageNo int    `json:"ppageno"`
	BBox   BBox   `json:"bbox"`
	Lang   string `json:"lang,omitempty"`
	Areas  []Area `json:"areas,omitempty"`
}

// Area is one ocr_carea element.
type Area struct {
	ID         string      `json:"id,omitempty"`
	BBox       BBox        `json:"bbox"`
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`
}

// Paragraph is one ocr_par element.
type Paragraph struct {
	ID    string `json:"id,omitempty"`
	BBox  BBox   `json:"bbox"`
	Lang  string `json:"lang,omitempty"`
	Lines []Line `json:"lines,omitempty"`
}

// Line is one ocr_line (or header/caption/textfloat) element.
type Line struct {
	ID       string    `json:"id,omitempty"`
	BBox     BBox      `json:"bbox"`
	Baseline *Baseline `json:"baseline,omitempty"`
	XSize    float64   `json:"x_size,omitempty"`
	Words    []Word    `json:"words,omitempty"`
}

// Word is one ocrx_word element. Confidence is x_wconf on a 0-100 scale.
type Word struct {
	ID         string  `json:"id,omitempty"`
	BBox       BBox    `json:"bbox"`
	Text       string  `json:"text"`
	Confidence float64 `json:"x_wconf"`
}

// Lines returns every line on the page in document order.
func (p *Page) Lines() []Line {
	var out []Line
	for _, a := range p.Areas {
		for _, par := range a.Paragraphs {
			out = append(out, par.Lines...)
		}
	}
	return out
}

// WordCount returns the number of words on the page.
func (p *Page) WordCount() int {
	n := 0
	for _, l := range p.Lines() {
		n += len(l.Words)
	}
	return n
}
