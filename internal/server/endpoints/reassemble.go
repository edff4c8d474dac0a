package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// ReassembleEndpoint handles POST /api/ocr/reassemble.
type ReassembleEndpoint struct {
	MaxUploadBytes int64
}

var _ api.Endpoint = (*ReassembleEndpoint)(nil)

func (e *ReassembleEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/ocr/reassemble", e.handler
}

func (e *ReassembleEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Build a searchable PDF from a markup bundle
//	@Description	Renders a bundle returned by /api/ocr in markup mode over the original upload.
//	@Description	No inference runs; the result matches what PDF mode would have returned.
//	@Tags			ocr
//	@Accept			mpfd
//	@Produce		application/pdf
//	@Param			bundle	formData	file	true	"Markup bundle (.ocr.zip)"
//	@Param			files	formData	file	true	"The originally uploaded images or PDFs, same order"
//	@Success		200	{file}		file
//	@Failure		400	{object}	ErrorResponse
//	@Failure		413	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/ocr/reassemble [post]
func (e *ReassembleEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	bundles := r.MultipartForm.File["bundle"]
	if len(bundles) != 1 {
		writeProcessError(ctx, w, fmt.Errorf("%w: exactly one bundle required, got %d", pipeline.ErrInvalidRequest, len(bundles)))
		return
	}
	bundleData, err := readPart(bundles[0])
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}
	files, err := readFiles(r.MultipartForm, "files")
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}

	resp, err := p.Reassemble(ctx, bundleData, files)
	if err != nil {
		writeProcessError(ctx, w, err)
		return
	}
	writeDocument(w, resp)
}

func (e *ReassembleEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "reassemble <bundle> <file>...",
		Short: "Render a markup bundle over the original document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			files := []api.UploadFile{{Field: "bundle", Path: args[0]}}
			for _, a := range args[1:] {
				files = append(files, api.UploadFile{Field: "files", Path: a})
			}

			doc, err := client.Upload(cmd.Context(), "/api/ocr/reassemble", nil, files)
			if err != nil {
				return err
			}
			if outFile == "" {
				outFile = doc.Filename
			}
			if err := api.WriteDocument(doc, outFile); err != nil {
				return err
			}
			if outFile != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d pages)\n", outFile, doc.Pages)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "file", "f", "", "Output file (- for stdout; default from server)")
	return cmd
}
