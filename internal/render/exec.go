package render

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Hocr2pdf renders pages with ExactImage's hocr2pdf, which reads markup on
// stdin.
type Hocr2pdf struct {
	// Path to the binary (default: "hocr2pdf" on PATH).
	Path string
}

// Name returns the renderer identifier.
func (h *Hocr2pdf) Name() string { return NameHocr2pdf }

// RenderPage runs hocr2pdf for one page.
func (h *Hocr2pdf) RenderPage(ctx context.Context, job PageJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bin := h.Path
	if bin == "" {
		bin = "hocr2pdf"
	}

	markup, err := os.Open(job.MarkupPath)
	if err != nil {
		return fmt.Errorf("failed to open markup: %w", err)
	}
	defer markup.Close()

	cmd := exec.CommandContext(ctx, bin,
		"-r", strconv.Itoa(job.DPI),
		"-i", job.ImagePath,
		"-o", job.OutputPath,
	)
	cmd.Stdin = markup
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hocr2pdf failed on page %d: %w (output: %s)", job.Index, err, string(output))
	}

	if _, err := os.Stat(job.OutputPath); err != nil {
		return fmt.Errorf("hocr2pdf did not create expected output: %w", err)
	}
	return nil
}
