//go:build !ocr

package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/reassembly"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

func TestReadyEndpoint_DefaultEngineUnavailable(t *testing.T) {
	reg := engines.NewRegistry()
	reg.Register(engines.NewTesseract(engines.TesseractConfig{}))

	scratch := t.TempDir()
	l, err := loader.New(loader.Config{DPI: 72, ScratchDir: scratch})
	if err != nil {
		t.Fatal(err)
	}
	a, err := reassembly.New(reassembly.Config{DPI: 72, ScratchDir: scratch})
	if err != nil {
		t.Fatal(err)
	}
	p, err := pipeline.New(pipeline.Config{
		DefaultEngine: engines.TypeTesseract,
		Engines:       reg,
		Loader:        l,
		Assembler:     a,
		Device:        device.NewManager(device.Config{Name: "test"}),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := svcctx.WithServices(context.Background(), &svcctx.Services{Pipeline: p})
	_, _, handler := (&ReadyEndpoint{}).Route()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/ready", nil).WithContext(ctx))

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusServiceUnavailable || resp.Status != "degraded" || resp.Engine != engines.TypeTesseract {
		t.Errorf("ready = %d %+v, want 503 degraded/tesseract", w.Code, resp)
	}
	if !strings.Contains(resp.Error, "-tags ocr") {
		t.Errorf("error = %q, want build tag hint", resp.Error)
	}
}
