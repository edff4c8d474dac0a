package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the ocrpdf home directory.
	DefaultDirName = ".ocrpdf"

	// ScratchDirName is the subdirectory holding per-request workspaces.
	ScratchDirName = "scratch"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// EnvFileName is loaded into the environment before config is read.
	EnvFileName = ".env"

	// workspacePattern matches the temp directories requests create.
	workspacePattern = "ocrpdf-*"
)

// Dir represents the ocrpdf home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.ocrpdf).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ScratchPath returns the default parent of request workspaces.
func (d *Dir) ScratchPath() string {
	return filepath.Join(d.path, ScratchDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnvPath returns the path to the home .env file.
func (d *Dir) EnvPath() string {
	return filepath.Join(d.path, EnvFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create scratch directory (this also creates the parent)
	if err := os.MkdirAll(d.ScratchPath(), 0o700); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// CleanScratch removes request workspaces left behind by a process that
// did not exit cleanly. It must only run before the server accepts work.
func (d *Dir) CleanScratch() (int, error) {
	matches, err := filepath.Glob(filepath.Join(d.ScratchPath(), workspacePattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return removed, fmt.Errorf("failed to remove stale workspace %s: %w", m, err)
		}
		removed++
	}
	return removed, nil
}
