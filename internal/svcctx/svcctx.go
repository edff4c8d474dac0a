// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/ocrpdf/internal/config"
	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Pipeline *pipeline.Service
	Engines  *engines.Registry
	Device   *device.Manager
	Config   *config.Manager
	Logger   *slog.Logger

	// ScratchDir is the parent of per-request workspaces ("" = os temp dir).
	ScratchDir string
}

type servicesKey struct{}

type requestIDKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// PipelineFrom extracts the OCR pipeline from context.
func PipelineFrom(ctx context.Context) *pipeline.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pipeline
	}
	return nil
}

// EnginesFrom extracts the engine registry from context.
func EnginesFrom(ctx context.Context) *engines.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Engines
	}
	return nil
}

// DeviceFrom extracts the device manager from context.
func DeviceFrom(ctx context.Context) *device.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Device
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// ScratchDirFrom returns the configured scratch directory, or "".
func ScratchDirFrom(ctx context.Context) string {
	if s := ServicesFrom(ctx); s != nil {
		return s.ScratchDir
	}
	return ""
}

// LoggerFrom extracts the logger from context, tagged with the request ID
// when one is present. Falls back to slog.Default().
func LoggerFrom(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		logger = s.Logger
	}
	if id := RequestIDFrom(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	return logger
}

// WithRequestID attaches a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID, or "" if none was set.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
