package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// MaxUploadBytes bounds a multipart request body (0 = 256MB).
	MaxUploadBytes int64
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// OCR endpoints
		&OCREndpoint{MaxUploadBytes: cfg.MaxUploadBytes},
		&ReassembleEndpoint{MaxUploadBytes: cfg.MaxUploadBytes},
		&ListEnginesEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, RequestID: w.Header().Get("X-Request-ID")})
}

// writeProcessError classifies err and writes it. Caller mistakes are 400s;
// everything else is a server-side failure and is logged.
func writeProcessError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		svcctx.LoggerFrom(ctx).Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, sanitizeError(err, svcctx.ScratchDirFrom(ctx)))
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case pipeline.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError keeps scratch paths and oversized engine output out of
// responses.
func sanitizeError(err error, scratchDir string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if scratchDir != "" {
		msg = strings.ReplaceAll(msg, filepath.Clean(scratchDir), "[scratch]")
	}
	msg = strings.ReplaceAll(msg, os.TempDir(), "[tmp]")
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
