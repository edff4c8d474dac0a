package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// ListEnginesResponse lists the registered engines.
type ListEnginesResponse struct {
	Default string         `json:"default"`
	Engines []engines.Info `json:"engines"`
}

// ListEnginesEndpoint handles GET /api/engines.
type ListEnginesEndpoint struct{}

var _ api.Endpoint = (*ListEnginesEndpoint)(nil)

func (e *ListEnginesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/engines", e.handler
}

func (e *ListEnginesEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List OCR engines
//	@Description	Registered engines with the languages and architectures each accepts.
//	@Tags			ocr
//	@Produce		json
//	@Success		200	{object}	ListEnginesResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/engines [get]
func (e *ListEnginesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	reg := svcctx.EnginesFrom(r.Context())
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, "engine registry not initialized")
		return
	}

	resp := ListEnginesResponse{Engines: reg.Infos()}
	if p := svcctx.PipelineFrom(r.Context()); p != nil {
		resp.Default = p.DefaultEngine()
	}
	if resp.Engines == nil {
		resp.Engines = []engines.Info{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListEnginesEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List OCR engines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListEnginesResponse
			if err := client.Get(cmd.Context(), "/api/engines", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
