package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-ocrpdf")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-ocrpdf" {
			t.Errorf("expected path /tmp/test-ocrpdf, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-ocrpdf")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ScratchPath", dir.ScratchPath(), "/tmp/test-ocrpdf/scratch"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-ocrpdf/config.yaml"},
		{"EnvPath", dir.EnvPath(), "/tmp/test-ocrpdf/.env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "ocrpdf-home"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Directory shouldn't exist yet
	if dir.Exists() {
		t.Error("directory should not exist before EnsureExists")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}

	if !dir.Exists() {
		t.Error("directory should exist after EnsureExists")
	}
	if _, err := os.Stat(dir.ScratchPath()); os.IsNotExist(err) {
		t.Error("scratch directory should exist after EnsureExists")
	}
	if dir.ConfigExists() {
		t.Error("config should not exist yet")
	}

	// Should be idempotent
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("second EnsureExists failed: %v", err)
	}
}

func TestDir_CleanScratch(t *testing.T) {
	dir, _ := New(t.TempDir())
	if err := dir.EnsureExists(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"ocrpdf-123", "ocrpdf-load-456"} {
		stale := filepath.Join(dir.ScratchPath(), name)
		if err := os.MkdirAll(stale, 0o700); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(stale, "page-000001.hocr"), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	keep := filepath.Join(dir.ScratchPath(), "notes.txt")
	if err := os.WriteFile(keep, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	removed, err := dir.CleanScratch()
	if err != nil {
		t.Fatalf("CleanScratch failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 workspaces removed, got %d", removed)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}
