package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jackzampolin/ocrpdf/internal/bundle"
	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/reassembly"
	"github.com/jackzampolin/ocrpdf/internal/testutil"
)

const testDPI = 72

type fixture struct {
	svc  *Service
	mock *engines.MockEngine
	dev  *device.Manager
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	scratch := t.TempDir()

	l, err := loader.New(loader.Config{DPI: testDPI, ScratchDir: scratch})
	if err != nil {
		t.Fatal(err)
	}
	a, err := reassembly.New(reassembly.Config{
		DPI:        testDPI,
		ScratchDir: scratch,
		Metadata:   reassembly.Metadata{Producer: "ocrpdf"},
	})
	if err != nil {
		t.Fatal(err)
	}

	mock := engines.NewMock("mock")
	reg := engines.NewRegistry()
	reg.Register(mock)
	dev := device.NewManager(device.Config{Name: "test"})

	svc, err := New(Config{
		Mode:          mode,
		DefaultEngine: "mock",
		Engines:       reg,
		Loader:        l,
		Assembler:     a,
		Device:        dev,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{svc: svc, mock: mock, dev: dev}
}

// uploads returns n PNG pages whose pixel width (and point width at 72dpi)
// is 100+i.
func uploads(t *testing.T, n int) []loader.File {
	t.Helper()
	files := make([]loader.File, n)
	for i := range files {
		files[i] = loader.File{Name: fmt.Sprintf("scan-%d.png", i), Data: testutil.PNG(t, 100+i, 60, i)}
	}
	return files
}

func pageWidths(t *testing.T, pdf []byte) []int {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	dims, err := api.PageDims(bytes.NewReader(pdf), conf)
	if err != nil {
		t.Fatalf("PageDims() error = %v", err)
	}
	widths := make([]int, len(dims))
	for i, d := range dims {
		widths[i] = int(d.Width + 0.5)
	}
	return widths
}

func assertBaseline(t *testing.T, dev *device.Manager) {
	t.Helper()
	s := dev.Stats()
	if s.Active != 0 || s.ScratchBytes != 0 || s.Acquired != s.Released {
		t.Errorf("device not back to baseline: %+v", s)
	}
}

func TestProcess_PDFMode(t *testing.T) {
	f := newFixture(t, ModePDF)

	resp, err := f.svc.Process(context.Background(), Request{Files: uploads(t, 11)})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.ContentType != ContentTypePDF || resp.Filename != "scan-0.pdf" || resp.Pages != 11 || resp.Engine != "mock" {
		t.Errorf("response = %+v", resp)
	}

	widths := pageWidths(t, resp.Body)
	if len(widths) != 11 {
		t.Fatalf("page count = %d, want 11", len(widths))
	}
	for i, w := range widths {
		if w != 100+i {
			t.Errorf("page %d width = %d, want %d", i+1, w, 100+i)
		}
	}

	assertBaseline(t, f.dev)
	if f.mock.Releases() != 1 {
		t.Errorf("engine saw %d releases, want 1", f.mock.Releases())
	}
}

func TestProcess_MarkupMode(t *testing.T) {
	f := newFixture(t, ModeMarkup)

	resp, err := f.svc.Process(context.Background(), Request{Files: uploads(t, 3)})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.ContentType != bundle.ContentType || resp.Filename != "scan-0.ocr.zip" {
		t.Errorf("response = %+v", resp)
	}

	b, err := bundle.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if b.DPI != testDPI || b.Engine != "mock" || len(b.Pages) != 3 {
		t.Fatalf("bundle = %+v", b)
	}
	for i, p := range b.Pages {
		if p.Index != i || p.Width != 100+i || !bytes.Contains(p.Markup, []byte(fmt.Sprintf("page-%d", i+1))) {
			t.Errorf("bundle page %d = index %d width %d", i, p.Index, p.Width)
		}
	}
	assertBaseline(t, f.dev)
}

var timestamps = regexp.MustCompile(`/(CreationDate|ModDate)\s*\([^)]*\)|/ID\s*\[[^\]]*\]`)

func maskTimestamps(pdf []byte) []byte {
	return timestamps.ReplaceAll(pdf, []byte("/$1()"))
}

func TestRoundTrip(t *testing.T) {
	files := uploads(t, 11)

	pdfMode := newFixture(t, ModePDF)
	pdfResp, err := pdfMode.svc.Process(context.Background(), Request{Files: files})
	if err != nil {
		t.Fatalf("Process(pdf) error = %v", err)
	}
	second, err := pdfMode.svc.Process(context.Background(), Request{Files: files})
	if err != nil {
		t.Fatalf("Process(pdf) error = %v", err)
	}
	if !bytes.Equal(maskTimestamps(pdfResp.Body), maskTimestamps(second.Body)) {
		t.Error("two pdf mode runs on the same input differ")
	}

	markup := newFixture(t, ModeMarkup)
	bundleResp, err := markup.svc.Process(context.Background(), Request{Files: files})
	if err != nil {
		t.Fatalf("Process(markup) error = %v", err)
	}
	again, err := markup.svc.Reassemble(context.Background(), bundleResp.Body, files)
	if err != nil {
		t.Fatalf("Reassemble() error = %v", err)
	}
	if again.ContentType != ContentTypePDF || again.Pages != 11 {
		t.Errorf("response = %+v", again)
	}

	want := pageWidths(t, pdfResp.Body)
	got := pageWidths(t, again.Body)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("reassembled pages = %v, want %v", got, want)
	}
	if !bytes.Equal(maskTimestamps(again.Body), maskTimestamps(pdfResp.Body)) {
		t.Errorf("reassembled document differs from pdf mode output (%d vs %d bytes)", len(again.Body), len(pdfResp.Body))
	}
}

func TestProcess_ClientErrors(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T) Request
	}{
		{"unknown engine", func(t *testing.T) Request {
			return Request{Engine: "nope", Files: uploads(t, 1)}
		}},
		{"unknown architecture", func(t *testing.T) Request {
			return Request{Files: uploads(t, 1), Options: engines.Options{DetArch: "db_resnet50"}}
		}},
		{"no files", func(t *testing.T) Request { return Request{} }},
		{"unsupported file", func(t *testing.T) Request {
			return Request{Files: []loader.File{{Name: "notes.txt", Data: []byte("hello")}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ModePDF)
			_, err := f.svc.Process(context.Background(), tt.req(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsClientError(err) {
				t.Errorf("IsClientError(%v) = false", err)
			}
			if f.mock.Calls() != 0 {
				t.Errorf("engine ran %d times for invalid input", f.mock.Calls())
			}
			assertBaseline(t, f.dev)
		})
	}
}

func TestProcess_EngineFailure(t *testing.T) {
	f := newFixture(t, ModePDF)
	f.mock.FailOnPage = 1

	_, err := f.svc.Process(context.Background(), Request{Files: uploads(t, 3)})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsClientError(err) {
		t.Errorf("engine failure classified as client error: %v", err)
	}
	assertBaseline(t, f.dev)
	if f.mock.Releases() != 1 {
		t.Errorf("engine saw %d releases, want 1", f.mock.Releases())
	}
}

func TestProcess_DeviceAccountingAcrossRequests(t *testing.T) {
	f := newFixture(t, ModePDF)
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Process(context.Background(), Request{Files: uploads(t, 2)}); err != nil {
			t.Fatal(err)
		}
	}
	f.mock.ShouldFail = true
	if _, err := f.svc.Process(context.Background(), Request{Files: uploads(t, 2)}); err == nil {
		t.Fatal("expected error")
	}

	s := f.dev.Stats()
	if s.Acquired != 4 || s.Released != 4 || s.ScratchBytes != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestReassemble_ClientErrors(t *testing.T) {
	f := newFixture(t, ModeMarkup)
	files := uploads(t, 2)
	resp, err := f.svc.Process(context.Background(), Request{Files: files})
	if err != nil {
		t.Fatal(err)
	}

	b, err := bundle.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	b.DPI = 300
	wrongDPI, err := bundle.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		bundle []byte
		files  []loader.File
	}{
		{"garbage bundle", []byte("not a zip"), files},
		{"different dpi", wrongDPI, files},
		{"fewer pages uploaded", resp.Body, files[:1]},
		{"different page sizes", resp.Body, []loader.File{files[1], files[0]}},
		{"no files", resp.Body, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Reassemble(context.Background(), tt.bundle, tt.files)
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsClientError(err) {
				t.Errorf("IsClientError(%v) = false", err)
			}
		})
	}
}

func TestNew_DPIMismatch(t *testing.T) {
	l, err := loader.New(loader.Config{DPI: 300})
	if err != nil {
		t.Fatal(err)
	}
	a, err := reassembly.New(reassembly.Config{DPI: 200})
	if err != nil {
		t.Fatal(err)
	}
	_, err = New(Config{
		Engines:   engines.NewRegistry(),
		Loader:    l,
		Assembler: a,
		Device:    device.NewManager(device.Config{}),
	})
	if !errors.Is(err, reassembly.ErrDPIMismatch) {
		t.Errorf("New() error = %v, want ErrDPIMismatch", err)
	}
}

func TestNew_UnknownMode(t *testing.T) {
	if _, err := New(Config{Mode: "json"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestIsClientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{loader.ErrTooManyPages, true},
		{engines.ErrUnknownEngine, true},
		{reassembly.ErrPageCountMismatch, true},
		{fmt.Errorf("wrapped: %w", bundle.ErrInvalidBundle), true},
		{reassembly.ErrDPIMismatch, false},
		{engines.ErrEngineUnavailable, false},
		{context.DeadlineExceeded, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := IsClientError(tt.err); got != tt.want {
				t.Errorf("IsClientError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		files []loader.File
		want  string
	}{
		{nil, "document"},
		{[]loader.File{{Name: "report.final.pdf"}}, "report.final"},
		{[]loader.File{{Name: "/tmp/uploads/a.png"}, {Name: "b.png"}}, "a"},
		{[]loader.File{{Name: ""}}, "document"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := baseName(tt.files); got != tt.want {
				t.Errorf("baseName() = %q, want %q", got, tt.want)
			}
		})
	}
}
