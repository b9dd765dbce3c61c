// Package atomicfile provides a write-temp-then-rename helper so a crash
// or concurrent read never observes a partially written file.
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write writes data to path via a sibling ".tmp" file followed by
// os.Rename, matching the pattern the teacher uses for its own
// normalize-in-place rewrites.
func Write(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
