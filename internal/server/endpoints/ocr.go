package endpoints

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// OCREndpoint handles POST /api/ocr.
type OCREndpoint struct {
	MaxUploadBytes int64
}

var _ api.Endpoint = (*OCREndpoint)(nil)

func (e *OCREndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ocr", e.handler
}

func (e *OCREndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		OCR a document
//	@Description	Runs OCR over the uploaded pages. Depending on the server's output mode the
//	@Description	response is a searchable PDF or a zip bundle of per-page hOCR markup.
//	@Tags			ocr
//	@Accept			mpfd
//	@Produce		application/pdf
//	@Produce		application/octet-stream
//	@Param			files					formData	file	true	"Images or PDFs, concatenated in upload order"
//	@Param			engine					formData	string	false	"Engine name (server default when empty)"
//	@Param			languages				formData	string	false	"Comma-separated language codes"
//	@Param			det_arch				formData	string	false	"Detection architecture"
//	@Param			reco_arch				formData	string	false	"Recognition architecture"
//	@Param			assume_straight_pages	formData	bool	false	"Assume pages are not rotated (default true)"
//	@Param			detect_orientation		formData	bool	false	"Detect page orientation"
//	@Param			detect_language			formData	bool	false	"Detect page language"
//	@Success		200	{file}		file
//	@Failure		400	{object}	ErrorResponse
//	@Failure		413	{object}	ErrorResponse
//	@Failure		429	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/ocr [post]
func (e *OCREndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := svcctx.PipelineFrom(ctx)
	if p == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	if err := parseForm(w, r, e.MaxUploadBytes); err != nil {
		writeProcessError(ctx, w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, err := readFiles(r.MultipartForm, "files")
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}
	opts, err := parseOptions(r)
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}

	resp, err := p.Process(ctx, pipeline.Request{
		Files:   files,
		Engine:  strings.TrimSpace(r.FormValue("engine")),
		Options: opts,
	})
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}
	writeDocument(w, resp)
}

func (e *OCREndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		outFile           string
		engine            string
		languages         []string
		detArch, recoArch string
		straight          bool
		orientation, lang bool
	)
	cmd := &cobra.Command{
		Use:   "ocr <file>...",
		Short: "OCR documents into a searchable PDF (or markup bundle)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			files := make([]api.UploadFile, len(args))
			for i, a := range args {
				files[i] = api.UploadFile{Field: "files", Path: a}
			}
			fields := map[string]string{
				"engine":                engine,
				"languages":             strings.Join(languages, ","),
				"det_arch":              detArch,
				"reco_arch":             recoArch,
				"assume_straight_pages": fmt.Sprint(straight),
				"detect_orientation":    fmt.Sprint(orientation),
				"detect_language":       fmt.Sprint(lang),
			}

			doc, err := client.Upload(cmd.Context(), "/api/ocr", fields, files)
			if err != nil {
				return err
			}
			if outFile == "" {
				outFile = doc.Filename
			}
			if outFile == "" {
				outFile = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])) + ".ocr.pdf"
			}
			if err := api.WriteDocument(doc, outFile); err != nil {
				return err
			}
			if outFile != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d pages, engine %s, %s)\n", outFile, doc.Pages, doc.Engine, doc.ContentType)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "Output file (- for stdout; default from server)")
	cmd.Flags().StringVar(&engine, "engine", "", "OCR engine (server default when empty)")
	cmd.Flags().StringSliceVar(&languages, "lang", nil, "Language codes")
	cmd.Flags().StringVar(&detArch, "det-arch", "", "Detection architecture")
	cmd.Flags().StringVar(&recoArch, "reco-arch", "", "Recognition architecture")
	cmd.Flags().BoolVar(&straight, "assume-straight-pages", true, "Assume pages are not rotated")
	cmd.Flags().BoolVar(&orientation, "detect-orientation", false, "Detect page orientation")
	cmd.Flags().BoolVar(&lang, "detect-language", false, "Detect page language")
	return cmd
}
