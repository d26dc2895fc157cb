// Package store persists everything a crawl produces: the resumable
// checkpoint, one JSON file per captured question, the cropped image
// assets, and the merged dataset with its translation sidecar. Every
// write goes through an atomic replace so a reader never observes a
// partial file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteBytes atomically writes raw bytes to path. Used for artifacts the
// typed stores do not cover, like downloaded web imagery.
func WriteBytes(path string, data []byte) error {
	return writeFileAtomic(path, data)
}

// writeFileAtomic writes data through a same-directory temp file and a
// rename. The parent directory is created if missing.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
