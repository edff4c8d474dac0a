package hocr

import (
	"bufio"
	"bytes"
	"fmt"
	"html"
	"io"
	"strings"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN"
    "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="en" lang="en">
 <head>
  <title></title>
  <meta http-equiv="Content-Type" content="text/html;charset=utf-8"/>
  <meta name="ocr-system" content="%s"/>
  <meta name="ocr-capabilities" content="ocr_page ocr_carea ocr_par ocr_line ocrx_word"/>
 </head>
 <body>
`

const footer = ` </body>
</html>
`

// Write renders doc as an hOCR document. Element ids are regenerated from
// position so the output depends only on content.
func Write(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	system := doc.System
	if system == "" {
		system = "ocrpdf"
	}
	fmt.Fprintf(bw, header, html.EscapeString(system))

	for pi, page := range doc.Pages {
		pn := pi + 1
		title := []string{}
		if page.Image != "" {
			title = append(title, fmt.Sprintf(`image "%s"`, page.Image))
		}
		title = append(title, page.BBox.String(), fmt.Sprintf("ppageno %d", page.PageNo))
		fmt.Fprintf(bw, "  <div class=%q id=\"page_%d\" title=\"%s\"%s>\n",
			ClassPage, pn, html.EscapeString(strings.Join(title, "; ")), langAttr(page.Lang))

		word := 0
		line := 0
		for ai, area := range page.Areas {
			fmt.Fprintf(bw, "   <div class=%q id=\"block_%d_%d\" title=\"%s\">\n",
				ClassArea, pn, ai+1, area.BBox.String())
			for pari, par := range area.Paragraphs {
				fmt.Fprintf(bw, "    <p class=%q id=\"par_%d_%d_%d\" title=\"%s\"%s>\n",
					ClassParagraph, pn, ai+1, pari+1, par.BBox.String(), langAttr(par.Lang))
				for _, l := range par.Lines {
					line++
					lt := l.BBox.String()
					if l.Baseline != nil {
						lt += fmt.Sprintf("; baseline %s %s", fmtFloat(l.Baseline.Slope), fmtFloat(l.Baseline.Offset))
					}
					if l.XSize > 0 {
						lt += "; x_size " + fmtFloat(l.XSize)
					}
					fmt.Fprintf(bw, "     <span class=%q id=\"line_%d_%d\" title=\"%s\">", ClassLine, pn, line, lt)
					for wi, wd := range l.Words {
						word++
						if wi > 0 {
							bw.WriteByte(' ')
						}
						fmt.Fprintf(bw, "<span class=%q id=\"word_%d_%d\" title=\"%s; x_wconf %d\">%s</span>",
							ClassWord, pn, word, wd.BBox.String(), int(wd.Confidence+0.5), html.EscapeString(wd.Text))
					}
					bw.WriteString("</span>\n")
				}
				bw.WriteString("    </p>\n")
			}
			bw.WriteString("   </div>\n")
		}
		bw.WriteString("  </div>\n")
	}
	bw.WriteString(footer)
	return bw.Flush()
}

// Marshal renders doc to a byte slice.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalPage renders a single-page document.
func MarshalPage(system string, page Page) ([]byte, error) {
	return Marshal(&Document{System: system, Pages: []Page{page}})
}

func langAttr(lang string) string {
	if lang == "" {
		return ""
	}
	return fmt.Sprintf(" lang=\"%s\"", html.EscapeString(lang))
}

func fmtFloat(f float64) string {
	s := fmt.Sprintf("%.3f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
