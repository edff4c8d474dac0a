package reassembly

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace is a request-scoped scratch directory. Close removes it and
// everything in it; callers defer Close immediately after creation.
type Workspace struct {
	dir string
}

// NewWorkspace creates a fresh directory under parent (os.TempDir if empty).
func NewWorkspace(parent string) (*Workspace, error) {
	dir, err := os.MkdirTemp(parent, "ocrpdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path for a page artifact. The index is zero-padded so
// listings sort sensibly, but nothing reads order back from names.
func (w *Workspace) Path(index int, ext string) string {
	return filepath.Join(w.dir, fmt.Sprintf("page-%06d%s", index, ext))
}

// WriteFile stores a page artifact and returns its path.
func (w *Workspace) WriteFile(index int, ext string, data []byte) (string, error) {
	path := w.Path(index, ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// Close removes the workspace. It is safe to call more than once.
func (w *Workspace) Close() error {
	if w.dir == "" {
		return nil
	}
	err := os.RemoveAll(w.dir)
	w.dir = ""
	return err
}
