package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileKV persists values as individual files under a base directory. It backs
// the durable tier when no redis is configured.
type FileKV struct {
	baseDir string
}

// NewFileKV creates the base directory if needed.
func NewFileKV(baseDir string) (*FileKV, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("file storage: base directory not configured")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", baseDir, err)
	}
	return &FileKV{baseDir: baseDir}, nil
}

func (f *FileKV) path(key string) string {
	// Keys are internal identifiers; replace separators defensively anyway.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(f.baseDir, safe)
}

func (f *FileKV) Get(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ErrNotFound{Key: key}
		}
		return "", fmt.Errorf("file storage: read %s: %w", key, err)
	}
	return string(data), nil
}

func (f *FileKV) Set(_ context.Context, key, value string) error {
	path := f.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("file storage: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("file storage: commit %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("file storage: delete %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Close() error { return nil }
