package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/ocrpdf/internal/config"
	"github.com/jackzampolin/ocrpdf/internal/home"
	"github.com/jackzampolin/ocrpdf/internal/server/endpoints"
	"github.com/jackzampolin/ocrpdf/internal/testutil"
)

const testConfig = `
server:
  rate_limit_per_second: %v
  rate_limit_burst: 1
  max_concurrent_requests: 2
  scratch_dir: %s
render:
  dpi: 72
output:
  mode: %s
engines:
  tesseract:
    type: tesseract
    enabled: false
  mock:
    type: mock
    enabled: true
defaults:
  engine: mock
`

type serverOpts struct {
	mode string
	rps  float64
}

func newTestServer(t *testing.T, opts serverOpts) (*Server, *httptest.Server) {
	t.Helper()
	if opts.mode == "" {
		opts.mode = "pdf"
	}
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")
	if err := os.MkdirAll(scratch, 0o700); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(testConfig, opts.rps, scratch, opts.mode)
	if err := os.WriteFile(cfgFile, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	h, err := home.New(filepath.Join(dir, "home"))
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{
		ConfigManager: mgr,
		Home:          h,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.HTTPHandler())
	t.Cleanup(ts.Close)
	return srv, ts
}

type part struct {
	field string
	name  string
	data  []byte
}

func multipartBody(t *testing.T, fields map[string]string, parts []part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func post(t *testing.T, url string, fields map[string]string, parts []part, header http.Header) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields, parts)
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// pages returns n PNG uploads whose width in pixels (and points at 72dpi)
// is 100+i.
func pages(t *testing.T, n int) []part {
	t.Helper()
	out := make([]part, n)
	for i := range out {
		out[i] = part{field: "files", name: fmt.Sprintf("scan-%d.png", i), data: testutil.PNG(t, 100+i, 50, i)}
	}
	return out
}

func pageWidths(t *testing.T, pdf []byte) []int {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	dims, err := pdfapi.PageDims(bytes.NewReader(pdf), conf)
	if err != nil {
		t.Fatalf("PageDims() error = %v", err)
	}
	widths := make([]int, len(dims))
	for i, d := range dims {
		widths[i] = int(d.Width + 0.5)
	}
	return widths
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func decodeError(t *testing.T, resp *http.Response) endpoints.ErrorResponse {
	t.Helper()
	var e endpoints.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return e
}

func TestServer_HealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t, serverOpts{})

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/ready")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK || body.Status != "ok" || body.Engine != "mock" {
			t.Errorf("ready = %d %+v, want 200 ok/mock", resp.StatusCode, body)
		}
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/status")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body endpoints.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Mode != "pdf" || body.DPI != 72 || body.DefaultEngine != "mock" {
			t.Errorf("status = %+v", body)
		}
		if len(body.Engines) != 1 || body.Engines[0] != "mock" {
			t.Errorf("engines = %v, want [mock]", body.Engines)
		}
		if body.Device == nil {
			t.Error("expected device stats")
		}
		if body.ConfigFile == "" {
			t.Error("expected config file in status")
		}
	})

	t.Run("engines", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/engines")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var body endpoints.ListEnginesResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Default != "mock" || len(body.Engines) != 1 || body.Engines[0].Name != "mock" {
			t.Errorf("engines = %+v", body)
		}
	})

	t.Run("swagger", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/swagger.json")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var doc map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			t.Fatalf("swagger.json is not JSON: %v", err)
		}
		paths, _ := doc["paths"].(map[string]any)
		if _, ok := paths["/api/ocr"]; !ok {
			t.Error("swagger.json missing /api/ocr")
		}
	})
}

func TestServer_OCR_PDFMode(t *testing.T) {
	srv, ts := newTestServer(t, serverOpts{})

	resp := post(t, ts.URL+"/api/ocr", nil, pages(t, 11), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, readAll(t, resp.Body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if n := resp.Header.Get("X-Page-Count"); n != "11" {
		t.Errorf("X-Page-Count = %q, want 11", n)
	}
	if e := resp.Header.Get("X-OCR-Engine"); e != "mock" {
		t.Errorf("X-OCR-Engine = %q, want mock", e)
	}

	// scan-10 must land after scan-9, not after scan-1.
	widths := pageWidths(t, readAll(t, resp.Body))
	if len(widths) != 11 {
		t.Fatalf("got %d pages, want 11", len(widths))
	}
	for i, w := range widths {
		if w != 100+i {
			t.Errorf("page %d width = %d, want %d", i, w, 100+i)
		}
	}

	stats := srv.Services().Device.Stats()
	if stats.Active != 0 || stats.Acquired != stats.Released {
		t.Errorf("device lease leaked: %+v", stats)
	}
}

func TestServer_OCR_MarkupThenReassemble(t *testing.T) {
	_, markupTS := newTestServer(t, serverOpts{mode: "markup"})
	_, pdfTS := newTestServer(t, serverOpts{mode: "pdf"})
	uploads := pages(t, 3)

	resp := post(t, markupTS.URL+"/api/ocr", nil, uploads, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("markup status = %d, body = %s", resp.StatusCode, readAll(t, resp.Body))
	}
	if ct := resp.Header.Get("Content-Type"); ct == "application/pdf" {
		t.Fatalf("markup mode returned a pdf")
	}
	bundleData := readAll(t, resp.Body)

	parts := append([]part{{field: "bundle", name: "scan.ocr.zip", data: bundleData}}, uploads...)
	resp = post(t, markupTS.URL+"/api/ocr/reassemble", nil, parts, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reassemble status = %d, body = %s", resp.StatusCode, readAll(t, resp.Body))
	}
	rebuilt := pageWidths(t, readAll(t, resp.Body))

	direct := post(t, pdfTS.URL+"/api/ocr", nil, uploads, nil)
	if direct.StatusCode != http.StatusOK {
		t.Fatalf("pdf status = %d", direct.StatusCode)
	}
	want := pageWidths(t, readAll(t, direct.Body))

	if fmt.Sprint(rebuilt) != fmt.Sprint(want) {
		t.Errorf("reassembled page widths = %v, want %v", rebuilt, want)
	}
}

func TestServer_OCR_ClientErrors(t *testing.T) {
	_, ts := newTestServer(t, serverOpts{})
	one := pages(t, 1)

	tests := []struct {
		name   string
		path   string
		fields map[string]string
		parts  []part
	}{
		{"unknown engine", "/api/ocr", map[string]string{"engine": "nope"}, one},
		{"bad bool", "/api/ocr", map[string]string{"detect_orientation": "maybe"}, one},
		{"unsupported language", "/api/ocr", map[string]string{"languages": "klingon"}, one},
		{"no files", "/api/ocr", nil, nil},
		{"not an image", "/api/ocr", nil, []part{{field: "files", name: "notes.txt", data: []byte("hello")}}},
		{"reassemble without bundle", "/api/ocr/reassemble", nil, one},
		{"corrupt bundle", "/api/ocr/reassemble", nil, append([]part{{field: "bundle", name: "b.zip", data: []byte("PK junk")}}, one...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, ts.URL+tt.path, tt.fields, tt.parts, nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if e := decodeError(t, resp); e.Error == "" || e.RequestID == "" {
				t.Errorf("error body = %+v, want message and request id", e)
			}
		})
	}
}

func TestServer_RequestID(t *testing.T) {
	_, ts := newTestServer(t, serverOpts{})

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want echo", got)
	}

	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Error("expected a generated X-Request-ID")
	}
}

func TestServer_RateLimit(t *testing.T) {
	_, ts := newTestServer(t, serverOpts{rps: 0.01})
	one := pages(t, 1)

	first := post(t, ts.URL+"/api/ocr", nil, one, nil)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", first.StatusCode)
	}
	second := post(t, ts.URL+"/api/ocr", nil, one, nil)
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.StatusCode)
	}
	if ra, _ := strconv.Atoi(second.Header.Get("Retry-After")); ra < 1 {
		t.Errorf("Retry-After = %q", second.Header.Get("Retry-After"))
	}

	// Health checks are never rate limited.
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}

func TestServer_AtCapacity(t *testing.T) {
	srv, ts := newTestServer(t, serverOpts{})

	if !srv.guard.sem.TryAcquire(2) {
		t.Fatal("failed to fill request slots")
	}
	resp := post(t, ts.URL+"/api/ocr", nil, pages(t, 1), nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	srv.guard.sem.Release(2)

	resp = post(t, ts.URL+"/api/ocr", nil, pages(t, 1), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status after release = %d, want 200", resp.StatusCode)
	}
}

func TestServer_ScratchIsEmptyAfterRequests(t *testing.T) {
	srv, ts := newTestServer(t, serverOpts{})

	post(t, ts.URL+"/api/ocr", nil, pages(t, 2), nil)
	post(t, ts.URL+"/api/ocr", map[string]string{"engine": "nope"}, pages(t, 1), nil)

	scratch := srv.configMgr.Get().Server.ScratchDir
	entries, err := os.ReadDir(scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch has %d leftover entries", len(entries))
	}
}

func TestServer_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping lifecycle test in short mode")
	}
	tc := testutil.NewServerConfig(t)
	cfg := fmt.Sprintf(testConfig, 0, tc.ScratchDir, "pdf")
	if err := os.WriteFile(tc.ConfigFile, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(tc.ConfigFile)
	if err != nil {
		t.Fatal(err)
	}

	srv, err := New(Config{Host: tc.Host, Port: tc.Port, ConfigManager: mgr, Logger: tc.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	starter := testutil.StartServer{Cancel: cancel, Done: done}

	if err := testutil.WaitForServer(tc.URL(), 10*time.Second); err != nil {
		starter.Stop()
		t.Fatal(err)
	}
	if !srv.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}
	if err := srv.Start(ctx); err == nil {
		t.Error("expected error starting a running server")
	}

	cancel()
	if err := testutil.WaitForShutdown(done, 35*time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a config manager")
	}
}
