package loader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// RenderRequest asks a rasterizer for one page of a PDF.
type RenderRequest struct {
	PDFPath string
	// Page is 1-indexed.
	Page        int
	DPI         int
	Format      string
	JPEGQuality int
}

// Rasterizer renders PDF pages to encoded images.
type Rasterizer interface {
	RenderPage(ctx context.Context, req RenderRequest) ([]byte, error)
}

// Pdftoppm renders pages with poppler's pdftoppm. Rendering one page per
// call keeps page numbering under our control rather than pdftoppm's
// zero-padded output names.
type Pdftoppm struct {
	// Path to the binary (default: "pdftoppm" on PATH).
	Path string
}

// RenderPage renders a single page.
func (p *Pdftoppm) RenderPage(ctx context.Context, req RenderRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bin := p.Path
	if bin == "" {
		bin = "pdftoppm"
	}

	tmpDir, err := os.MkdirTemp("", "ocrpdf-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputPrefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(req.Page)

	args := []string{}
	ext := ".jpg"
	if req.Format == FormatPNG {
		args = append(args, "-png")
		ext = ".png"
	} else {
		args = append(args, "-jpeg", "-jpegopt", fmt.Sprintf("quality=%d", req.JPEGQuality))
	}
	args = append(args,
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(req.DPI),
		"-singlefile",
		req.PDFPath,
		outputPrefix,
	)

	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(outputPrefix + ext)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
