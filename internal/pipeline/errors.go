package pipeline

import (
	"errors"

	"github.com/jackzampolin/ocrpdf/internal/bundle"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/reassembly"
)

// ErrInvalidRequest covers request-level problems not owned by a
// lower package, such as a bundle from a differently configured server.
var ErrInvalidRequest = errors.New("invalid request")

var clientErrors = []error{
	ErrInvalidRequest,
	loader.ErrInvalidDocument,
	engines.ErrInvalidOptions,
	reassembly.ErrInvalidInput,
	bundle.ErrInvalidBundle,
}

// IsClientError reports whether err was caused by the caller's input.
// Everything else is a processing failure.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
