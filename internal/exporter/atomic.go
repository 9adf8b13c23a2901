package exporter

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic writes data to a temp file beside path and renames it into
// place, per spec §4.E/§7: "write to a temporary file alongside the final
// path, then rename. On any write error, delete the temporary file and
// surface the error." This guarantees a reader never observes a partial
// final file (spec §8 Scenario 5).
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tcplatprobe-*.tmp")
	if err != nil {
		return fmt.Errorf("exporter: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("exporter: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("exporter: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("exporter: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("exporter: rename temp file into place: %w", err)
	}
	return nil
}
