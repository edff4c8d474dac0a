package hocr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ErrNoPages is returned when markup contains no recognizable page.
var ErrNoPages = errors.New("hocr: no ocr_page element")

const (
	levelPage = iota
	levelArea
	levelPar
	levelLine
	numLevels
)

// walkState addresses the innermost open container at each level by index
// into its parent's slice, -1 when none is open. Indices stay valid while
// slices grow. Containers created for loose content rather than by an
// element are flagged implicit so a later element of the same class still
// opens its own container.
type walkState struct {
	idx      [numLevels]int
	implicit [numLevels]bool
}

func newWalkState() walkState {
	return walkState{idx: [numLevels]int{-1, -1, -1, -1}}
}

// opens reports whether an element at level starts a new container.
func (st *walkState) opens(level int) bool {
	return st.idx[level] < 0 || st.implicit[level]
}

// closeFrom drops containers at level and below.
func (st *walkState) closeFrom(level int) {
	for l := level; l < numLevels; l++ {
		st.idx[l] = -1
		st.implicit[l] = false
	}
}

// Parse reads an hOCR document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse hocr: %w", err)
	}

	doc := &Document{}
	// st is shared by siblings, so loose words under one parent land in
	// the same implicit line. Elements that open a container hand their
	// children a fresh copy.
	var walk func(n *html.Node, st *walkState)
	walk = func(n *html.Node, st *walkState) {
		next := st
		if n.Type == html.ElementNode {
			if n.Data == "meta" && attr(n, "name") == "ocr-system" {
				doc.System = attr(n, "content")
			}

			props := parseTitle(attr(n, "title"))
			var child walkState
			switch class := primaryClass(n); {
			case class == ClassPage && st.opens(levelPage):
				st.closeFrom(levelPage)
				doc.Pages = append(doc.Pages, Page{
					ID:     attr(n, "id"),
					Image:  props.image,
					PageNo: props.pageNo,
					BBox:   props.bbox,
					Lang:   attr(n, "lang"),
				})
				child = newWalkState()
				child.idx[levelPage] = len(doc.Pages) - 1
				next = &child

			case class == ClassArea && st.opens(levelArea):
				st.closeFrom(levelArea)
				child = *st
				page := child.page(doc)
				page.Areas = append(page.Areas, Area{ID: attr(n, "id"), BBox: props.bbox})
				child.idx[levelArea] = len(page.Areas) - 1
				next = &child

			case class == ClassParagraph && st.opens(levelPar):
				st.closeFrom(levelPar)
				child = *st
				area := child.area(doc)
				area.Paragraphs = append(area.Paragraphs, Paragraph{
					ID:   attr(n, "id"),
					BBox: props.bbox,
					Lang: attr(n, "lang"),
				})
				child.idx[levelPar] = len(area.Paragraphs) - 1
				next = &child

			case lineClasses[class] && st.opens(levelLine):
				st.closeFrom(levelLine)
				child = *st
				par := child.paragraph(doc)
				par.Lines = append(par.Lines, Line{
					ID:       attr(n, "id"),
					BBox:     props.bbox,
					Baseline: props.baseline,
					XSize:    props.xSize,
				})
				child.idx[levelLine] = len(par.Lines) - 1
				next = &child

			case class == ClassWord:
				line := st.line(doc)
				text := strings.TrimSpace(textContent(n))
				if text != "" {
					line.Words = append(line.Words, Word{
						ID:         attr(n, "id"),
						BBox:       props.bbox,
						Text:       text,
						Confidence: props.wconf,
					})
					line.BBox = line.BBox.Union(props.bbox)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, next)
		}
	}
	st := newWalkState()
	walk(root, &st)

	if len(doc.Pages) == 0 {
		return nil, ErrNoPages
	}
	return doc, nil
}

// ParseBytes is a convenience wrapper around Parse.
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// ParsePage parses markup expected to hold exactly one page and returns it.
func ParsePage(data []byte) (*Page, error) {
	doc, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	if len(doc.Pages) != 1 {
		return nil, fmt.Errorf("hocr: expected 1 page, found %d", len(doc.Pages))
	}
	return &doc.Pages[0], nil
}

// page returns the open page. Content outside any page attaches to the last
// one, or to a new page when there is none yet.
func (st *walkState) page(doc *Document) *Page {
	if st.idx[levelPage] < 0 {
		if len(doc.Pages) == 0 {
			doc.Pages = append(doc.Pages, Page{ID: "page_1"})
		}
		st.idx[levelPage] = len(doc.Pages) - 1
		st.implicit[levelPage] = true
	}
	return &doc.Pages[st.idx[levelPage]]
}

func (st *walkState) area(doc *Document) *Area {
	page := st.page(doc)
	if st.idx[levelArea] < 0 {
		page.Areas = append(page.Areas, Area{})
		st.idx[levelArea] = len(page.Areas) - 1
		st.implicit[levelArea] = true
	}
	return &page.Areas[st.idx[levelArea]]
}

func (st *walkState) paragraph(doc *Document) *Paragraph {
	area := st.area(doc)
	if st.idx[levelPar] < 0 {
		area.Paragraphs = append(area.Paragraphs, Paragraph{})
		st.idx[levelPar] = len(area.Paragraphs) - 1
		st.implicit[levelPar] = true
	}
	return &area.Paragraphs[st.idx[levelPar]]
}

func (st *walkState) line(doc *Document) *Line {
	par := st.paragraph(doc)
	if st.idx[levelLine] < 0 {
		par.Lines = append(par.Lines, Line{})
		st.idx[levelLine] = len(par.Lines) - 1
		st.implicit[levelLine] = true
	}
	return &par.Lines[st.idx[levelLine]]
}

type titleProps struct {
	bbox     BBox
	baseline *Baseline
	image    string
	pageNo   int
	wconf    float64
	xSize    float64
}

// parseTitle decodes the semicolon separated property list hOCR keeps in
// the title attribute, e.g. "bbox 10 20 30 40; x_wconf 91".
func parseTitle(title string) titleProps {
	var p titleProps
	for _, part := range strings.Split(title, ";") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		args := fields[1:]
		switch fields[0] {
		case "bbox":
			if v := floats(args); len(v) == 4 {
				p.bbox = BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
			}
		case "baseline":
			if v := floats(args); len(v) == 2 {
				p.baseline = &Baseline{Slope: v[0], Offset: v[1]}
			}
		case "image":
			p.image = strings.Trim(strings.Join(args, " "), `"`)
		case "ppageno":
			if len(args) == 1 {
				p.pageNo, _ = strconv.Atoi(args[0])
			}
		case "x_wconf":
			if v := floats(args); len(v) == 1 {
				p.wconf = v[0]
			}
		case "x_size":
			if v := floats(args); len(v) == 1 {
				p.xSize = v[0]
			}
		}
	}
	return p
}

func floats(args []string) []float64 {
	out := make([]float64, 0, len(args))
	for _, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// primaryClass returns the first hOCR class on the element, if any.
func primaryClass(n *html.Node) string {
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.HasPrefix(c, "ocr") {
			return c
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}
