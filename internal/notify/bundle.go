package notify

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
)

// WriteBundle writes a zip archive containing the given files, each stored
// under its base name.
func WriteBundle(w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		entry, err := zw.Create(filepath.Base(p))
		if err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
	return zw.Close()
}
