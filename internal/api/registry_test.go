package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
)

type fakeEndpoint struct {
	method, path string
	init         bool
}

func (e *fakeEndpoint) Route() (string, string, http.HandlerFunc) {
	return e.method, e.path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (e *fakeEndpoint) RequiresInit() bool { return e.init }

func (e *fakeEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{Use: e.path[1:]}
}

func TestRegistry_RegisterRoutes(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeEndpoint{method: "GET", path: "/open"})
	r.Register(&fakeEndpoint{method: "POST", path: "/guarded", init: true})

	var wrapped int
	guard := func(next http.HandlerFunc) http.HandlerFunc {
		wrapped++
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}
	mux := http.NewServeMux()
	r.RegisterRoutes(mux, guard)

	if wrapped != 1 {
		t.Errorf("guard wrapped %d handlers, want 1", wrapped)
	}

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/open", http.StatusNoContent},
		{"POST", "/guarded", http.StatusServiceUnavailable},
		{"GET", "/guarded", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRegistry_BuildCommands(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeEndpoint{method: "GET", path: "/health"})
	r.Register(&fakeEndpoint{method: "GET", path: "/engines"})

	cmd := r.BuildCommands(func() string { return "http://localhost:8080" })
	if cmd.Use != "api" {
		t.Errorf("Use = %q, want api", cmd.Use)
	}
	if got := len(cmd.Commands()); got != 2 {
		t.Errorf("got %d subcommands, want 2", got)
	}
	if len(r.Endpoints()) != 2 {
		t.Errorf("Endpoints() = %d, want 2", len(r.Endpoints()))
	}
}
