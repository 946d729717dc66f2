package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP writes the archive's regular files into destDir, keeping their
// relative paths, and returns the written paths in archive order. When exts
// is non-empty only files with one of those extensions are written. Every
// entry name is checked before anything is written.
func ExtractZIP(zipPath, destDir string, exts ...string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var wanted []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(f.Name)) {
			return nil, eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
		}
		if len(exts) > 0 && !hasExt(f.Name, exts) {
			continue
		}
		wanted = append(wanted, f)
	}

	extracted := make([]string, 0, len(wanted))
	for _, f := range wanted {
		dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if err := copyEntry(f, dest); err != nil {
			return extracted, eris.Wrapf(err, "zip: %s", f.Name)
		}
		extracted = append(extracted, dest)
	}
	return extracted, nil
}

func hasExt(name string, exts []string) bool {
	ext := filepath.Ext(name)
	return slices.ContainsFunc(exts, func(e string) bool { return strings.EqualFold(e, ext) })
}

func copyEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "create directory")
	}
	rc, err := f.Open()
	if err != nil {
		return eris.Wrap(err, "open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrap(err, "write file")
	}
	if err := out.Close(); err != nil {
		return eris.Wrap(err, "close file")
	}
	return nil
}
