package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/ocrpdf/internal/bundle"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid request", fmt.Errorf("%w: bad", pipeline.ErrInvalidRequest), http.StatusBadRequest},
		{"unknown engine", engines.ErrUnknownEngine, http.StatusBadRequest},
		{"invalid document", loader.ErrUnsupportedFormat, http.StatusBadRequest},
		{"invalid bundle", bundle.ErrInvalidBundle, http.StatusBadRequest},
		{"too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{"deadline", fmt.Errorf("recognize: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"engine failure", errors.New("inference crashed"), http.StatusInternalServerError},
		{"engine unavailable", engines.ErrEngineUnavailable, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSanitizeError(t *testing.T) {
	if got := sanitizeError(nil, ""); got != "" {
		t.Errorf("sanitizeError(nil) = %q", got)
	}

	scratch := filepath.Join(t.TempDir(), "home", "scratch")
	tests := []struct {
		name    string
		path    string
		scratch string
		leak    string
	}{
		{"os temp dir", filepath.Join(os.TempDir(), "ocrpdf-123", "page-0001.png"), "", os.TempDir()},
		{"configured scratch", filepath.Join(scratch, "ocrpdf-456", "page-0002.pdf"), scratch, scratch},
		{"scratch with trailing slash", filepath.Join(scratch, "ocrpdf-789", "page-0003.hocr"), scratch + "/", scratch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeError(fmt.Errorf("open %s: no such file", tt.path), tt.scratch)
			if strings.Contains(got, tt.leak) {
				t.Errorf("path leaked: %q", got)
			}
			if !strings.Contains(got, filepath.Base(tt.path)) {
				t.Errorf("file name lost: %q", got)
			}
		})
	}

	long := sanitizeError(errors.New(strings.Repeat("x", 1000)), "")
	if len(long) != 303 || !strings.HasSuffix(long, "...") {
		t.Errorf("long message not truncated: len %d", len(long))
	}
}

func TestWriteProcessError_ScrubsScratchDir(t *testing.T) {
	scratch := filepath.Join(t.TempDir(), ".ocrpdf", "scratch")
	ctx := svcctx.WithServices(context.Background(), &svcctx.Services{ScratchDir: scratch})

	w := httptest.NewRecorder()
	writeProcessError(ctx, w, fmt.Errorf("failed to render page 3: open %s: permission denied",
		filepath.Join(scratch, "ocrpdf-42", "page-0003.pdf")))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(resp.Error, scratch) {
		t.Errorf("scratch dir leaked: %q", resp.Error)
	}
}

func formRequest(t *testing.T, fields map[string][]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			mw.WriteField(k, v)
		}
	}
	mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/ocr", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string][]string
		want    engines.Options
		wantErr bool
	}{
		{
			name: "defaults",
			want: engines.Options{AssumeStraightPages: true},
		},
		{
			name:   "comma separated languages",
			fields: map[string][]string{"languages": {"en, fr"}},
			want:   engines.Options{Languages: []string{"en", "fr"}, AssumeStraightPages: true},
		},
		{
			name:   "repeated languages",
			fields: map[string][]string{"languages": {"en", "de"}},
			want:   engines.Options{Languages: []string{"en", "de"}, AssumeStraightPages: true},
		},
		{
			name: "architectures and flags",
			fields: map[string][]string{
				"det_arch":              {"db_resnet50"},
				"reco_arch":             {" parseq "},
				"assume_straight_pages": {"false"},
				"detect_orientation":    {"1"},
				"detect_language":       {"true"},
			},
			want: engines.Options{
				DetArch:           "db_resnet50",
				RecoArch:          "parseq",
				DetectOrientation: true,
				DetectLanguage:    true,
			},
		},
		{
			name:    "bad bool",
			fields:  map[string][]string{"detect_language": {"sometimes"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(formRequest(t, tt.fields))
			if tt.wantErr {
				if !errors.Is(err, pipeline.ErrInvalidRequest) {
					t.Fatalf("error = %v, want ErrInvalidRequest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOptions() error = %v", err)
			}
			if fmt.Sprintf("%+v", got) != fmt.Sprintf("%+v", tt.want) {
				t.Errorf("parseOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseForm_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("files", "big.png")
	fw.Write(bytes.Repeat([]byte{0xff}, 4096))
	mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/ocr", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	err := parseForm(httptest.NewRecorder(), r, 1024)
	if got := statusFor(err); got != http.StatusRequestEntityTooLarge {
		t.Errorf("statusFor(parseForm()) = %d (err %v), want 413", got, err)
	}
}

func TestParseForm_NotMultipart(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/api/ocr", strings.NewReader(`{"files":[]}`))
	r.Header.Set("Content-Type", "application/json")
	err := parseForm(httptest.NewRecorder(), r, 0)
	if !errors.Is(err, pipeline.ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestWriteDocument(t *testing.T) {
	w := httptest.NewRecorder()
	writeDocument(w, &pipeline.Response{
		ContentType: pipeline.ContentTypePDF,
		Filename:    "scan report.pdf",
		Body:        []byte("%PDF-1.7"),
		Pages:       3,
		Engine:      "mock",
	})

	h := w.Result().Header
	if h.Get("Content-Type") != "application/pdf" || h.Get("X-Page-Count") != "3" || h.Get("X-OCR-Engine") != "mock" {
		t.Errorf("headers = %v", h)
	}
	_, params, err := mime.ParseMediaType(h.Get("Content-Disposition"))
	if err != nil || params["filename"] != "scan report.pdf" {
		t.Errorf("Content-Disposition = %q (%v)", h.Get("Content-Disposition"), err)
	}
	if h.Get("Content-Length") != "8" {
		t.Errorf("Content-Length = %q", h.Get("Content-Length"))
	}
}

func TestOCREndpoint_NotInitialized(t *testing.T) {
	for _, ep := range []interface {
		Route() (string, string, http.HandlerFunc)
	}{&OCREndpoint{}, &ReassembleEndpoint{}} {
		_, path, handler := ep.Route()
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(http.MethodPost, path, nil))
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", w.Code)
			}
		})
	}
}

func TestReadyEndpoint_NotInitialized(t *testing.T) {
	_, _, handler := (&ReadyEndpoint{}).Route()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	var resp HealthResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if w.Code != http.StatusServiceUnavailable || resp.Status != "not_initialized" {
		t.Errorf("ready = %d %+v", w.Code, resp)
	}
}

func TestAll_Routes(t *testing.T) {
	seen := make(map[string]bool)
	for _, ep := range All(Config{}) {
		method, path, _ := ep.Route()
		key := method + " " + path
		if seen[key] {
			t.Errorf("duplicate route %s", key)
		}
		seen[key] = true
		if ep.Command(func() string { return "http://localhost" }) == nil {
			t.Errorf("%s has no command", key)
		}
	}
	for _, want := range []string{"POST /api/ocr", "POST /api/ocr/reassemble", "GET /api/engines", "GET /ready"} {
		if !seen[want] {
			t.Errorf("missing route %s", want)
		}
	}
}
