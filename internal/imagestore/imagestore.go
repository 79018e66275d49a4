// Package imagestore persists received image payloads to disk so history
// entries can reference a file instead of holding megabytes of pixels.
package imagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes image payload blobs into a single directory.
type Store struct {
	dir string
}

// New creates the store directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagestore: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save writes the image blob as <device>_<unix-ts>.png and returns the path.
func (s *Store) Save(deviceName string, timestamp float64, content []byte) (string, error) {
	name := fmt.Sprintf("%s_%d.png", sanitize(deviceName), int64(timestamp))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("imagestore save: %w", err)
	}
	return path, nil
}

// DeleteAll removes every .png in the store directory.
func (s *Store) DeleteAll() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.png"))
	if err != nil {
		return fmt.Errorf("imagestore delete: %w", err)
	}
	var firstErr error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("imagestore delete %s: %w", m, err)
		}
	}
	return firstErr
}

// sanitize keeps device names filesystem-safe.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '-'
		}
		return r
	}, name)
}
