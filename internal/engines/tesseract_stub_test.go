//go:build !ocr

package engines

import (
	"errors"
	"testing"
)

func TestRegistry_Available(t *testing.T) {
	r := NewRegistry()
	r.Register(NewMock("mock"))
	r.Register(NewTesseract(TesseractConfig{}))

	tests := []struct {
		name    string
		wantErr error
	}{
		{"mock", nil},
		{"tesseract", ErrEngineUnavailable},
		{"nope", ErrUnknownEngine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Available(tt.name)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Available() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Available() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
