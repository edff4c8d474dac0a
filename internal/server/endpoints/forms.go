package endpoints

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
)

const defaultMaxUpload = 256 << 20

// multipart parts above this size spill to disk
const maxFormMemory = 32 << 20

// parseForm bounds and parses a multipart body. Callers must defer
// r.MultipartForm.RemoveAll() on success.
func parseForm(w http.ResponseWriter, r *http.Request, limit int64) error {
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("%w: failed to parse form: %v", pipeline.ErrInvalidRequest, err)
	}
	return nil
}

// readFiles reads every part named field, in upload order.
func readFiles(form *multipart.Form, field string) ([]loader.File, error) {
	headers := form.File[field]
	files := make([]loader.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, loader.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open uploaded file %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file %s: %w", fh.Filename, err)
	}
	return data, nil
}

// parseOptions reads the model options. Booleans follow the docTR API
// defaults: straight pages assumed, orientation and language detection off.
func parseOptions(r *http.Request) (engines.Options, error) {
	opts := engines.Options{
		DetArch:             strings.TrimSpace(r.FormValue("det_arch")),
		RecoArch:            strings.TrimSpace(r.FormValue("reco_arch")),
		AssumeStraightPages: true,
	}
	for _, v := range r.MultipartForm.Value["languages"] {
		for _, lang := range strings.Split(v, ",") {
			if lang = strings.TrimSpace(lang); lang != "" {
				opts.Languages = append(opts.Languages, lang)
			}
		}
	}

	flags := []struct {
		name string
		dst  *bool
	}{
		{"assume_straight_pages", &opts.AssumeStraightPages},
		{"detect_orientation", &opts.DetectOrientation},
		{"detect_language", &opts.DetectLanguage},
	}
	for _, f := range flags {
		v := strings.TrimSpace(r.FormValue(f.name))
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s must be a boolean, got %q", pipeline.ErrInvalidRequest, f.name, v)
		}
		*f.dst = b
	}
	return opts, nil
}

// writeDocument writes a pipeline response as a file download.
func writeDocument(w http.ResponseWriter, resp *pipeline.Response) {
	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": resp.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.Header().Set("X-Page-Count", strconv.Itoa(resp.Pages))
	w.Header().Set("X-OCR-Engine", resp.Engine)
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Body)
}
