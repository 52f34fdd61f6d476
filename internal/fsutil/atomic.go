// Package fsutil writes state files so that readers never observe a
// partially written file.
package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteFileAtomic writes data to a temp file in the target directory, syncs
// it, then renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "fsutil: create temp for %s", path)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return eris.Wrapf(err, "fsutil: write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return eris.Wrapf(err, "fsutil: sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return eris.Wrapf(err, "fsutil: close %s", tmpName)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return eris.Wrapf(err, "fsutil: chmod %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return eris.Wrapf(err, "fsutil: rename to %s", path)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return eris.Wrapf(err, "fsutil: marshal %s", path)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadJSON decodes the file at path into v. A missing file reports
// ok=false with no error.
func ReadJSON(path string, v any) (ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "fsutil: read %s", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, eris.Wrapf(err, "fsutil: decode %s", path)
	}
	return true, nil
}

// CopyFile copies src to dst atomically.
func CopyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return eris.Wrapf(err, "fsutil: read %s", src)
	}
	info, err := os.Stat(src)
	if err != nil {
		return eris.Wrapf(err, "fsutil: stat %s", src)
	}
	return WriteFileAtomic(dst, data, info.Mode().Perm())
}
