// Package bundle serializes per-page recognition markup into the opaque
// payload returned in markup mode, and reads it back for reassembly.
//
// A bundle is a zip archive holding manifest.json and one pages/NNNNNN.hocr
// entry per page. The manifest records each page's integer index; entry
// names are never used for ordering.
package bundle

import (
	"archive/zip"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/ocrpdf/internal/hocr"
)

const (
	Format      = "ocrpdf-hocr-bundle"
	Version     = 1
	ContentType = "application/octet-stream"

	manifestName = "manifest.json"

	// maxEntrySize bounds each decompressed entry.
	maxEntrySize = 64 << 20
)

// ErrInvalidBundle is returned for any malformed bundle.
var ErrInvalidBundle = errors.New("invalid bundle")

//go:embed manifest.schema.json
var manifestSchema []byte

// entryTime is stamped on every entry so identical bundles are byte-identical.
var entryTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Page is one page's markup.
type Page struct {
	Index  int
	Width  int
	Height int
	Markup []byte
}

// Bundle is the markup-mode payload.
type Bundle struct {
	Engine string
	DPI    int
	Pages  []Page
}

type manifest struct {
	Format  string         `json:"format"`
	Version int            `json:"version"`
	Engine  string         `json:"engine"`
	DPI     int            `json:"dpi"`
	Pages   []manifestPage `json:"pages"`
}

type manifestPage struct {
	Index  int    `json:"index"`
	File   string `json:"file"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func pageFile(index int) string {
	return fmt.Sprintf("pages/%06d.hocr", index)
}

// Encode writes b as a zip archive. Pages are written in index order.
func Encode(w io.Writer, b *Bundle) error {
	if len(b.Pages) == 0 {
		return fmt.Errorf("%w: no pages", ErrInvalidBundle)
	}

	pages := make([]Page, len(b.Pages))
	copy(pages, b.Pages)
	sort.Slice(pages, func(i, j int) bool { return pages[i].Index < pages[j].Index })

	m := manifest{Format: Format, Version: Version, Engine: b.Engine, DPI: b.DPI}
	for _, p := range pages {
		m.Pages = append(m.Pages, manifestPage{Index: p.Index, File: pageFile(p.Index), Width: p.Width, Height: p.Height})
	}
	mdata, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	zw := zip.NewWriter(w)
	if err := writeEntry(zw, manifestName, mdata); err != nil {
		return err
	}
	for _, p := range pages {
		if err := writeEntry(zw, pageFile(p.Index), p.Markup); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish bundle: %w", err)
	}
	return nil
}

// Marshal encodes b to bytes.
func Marshal(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: entryTime})
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Decode reads a bundle. The manifest is validated against its schema, page
// indices must be exactly 0..n-1, and every page's markup must parse as a
// single hOCR page. Pages are returned in index order.
func Decode(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	mf, ok := files[manifestName]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidBundle, manifestName)
	}
	mdata, err := readEntry(mf)
	if err != nil {
		return nil, err
	}
	if err := validateManifest(mdata); err != nil {
		return nil, err
	}

	var m manifest
	if err := json.Unmarshal(mdata, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}

	b := &Bundle{Engine: m.Engine, DPI: m.DPI, Pages: make([]Page, len(m.Pages))}
	seen := make(map[int]bool, len(m.Pages))
	for _, mp := range m.Pages {
		if mp.Index < 0 || mp.Index >= len(m.Pages) || seen[mp.Index] {
			return nil, fmt.Errorf("%w: page indices must be 0..%d without repeats, got %d", ErrInvalidBundle, len(m.Pages)-1, mp.Index)
		}
		seen[mp.Index] = true

		f, ok := files[mp.File]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidBundle, mp.File)
		}
		markup, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		if _, err := hocr.ParsePage(markup); err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrInvalidBundle, mp.Index, err)
		}
		b.Pages[mp.Index] = Page{Index: mp.Index, Width: mp.Width, Height: mp.Height, Markup: markup}
	}
	return b, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBundle, f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBundle, f.Name, err)
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidBundle, f.Name, maxEntrySize)
	}
	return data, nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func validateManifest(data []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("manifest.schema.json", bytes.NewReader(manifestSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to load manifest schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("manifest.schema.json")
	})
	if schemaErr != nil {
		return schemaErr
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: manifest is not JSON: %v", ErrInvalidBundle, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: manifest does not match schema: %v", ErrInvalidBundle, err)
	}
	return nil
}
