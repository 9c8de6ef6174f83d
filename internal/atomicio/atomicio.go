// Package atomicio writes files the way the signing pipeline requires:
// never leaving a partially-written file at the target path. Every write
// goes to a temp file next to the target, gets fsynced, and is renamed into
// place only once it's complete — a crash or an interrupted process leaves
// either the old file or the new one, never a truncated mix of both.
package atomicio

import (
	"os"
	"path/filepath"
)

// WriteFile replaces path's contents with data. It writes to a sibling
// temp file in the same directory (so the final rename is same-filesystem
// and therefore atomic), fsyncs it, then renames it over path. If any step
// before the rename fails, the temp file is removed and path is untouched.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
