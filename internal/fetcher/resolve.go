package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// tableExts are the readable input formats, in the order an archive is
// searched.
var tableExts = []string{".csv", ".tsv", ".tab", ".xlsx"}

// Resolver turns input sources into local file paths: URLs are downloaded
// and zip archives extracted into Dir. Every download and extraction gets its
// own subdirectory, so sources sharing a file name never collide.
type Resolver struct {
	HTTP Fetcher // http and https URLs
	FTP  Fetcher // ftp URLs
	Dir  string
}

// Resolve returns a local path for src. Local paths that are not archives
// are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, src string) (string, error) {
	local := src
	if IsRemote(src) {
		f := r.fetcherFor(src)
		if f == nil {
			return "", eris.Errorf("fetcher: no fetcher configured for %s", src)
		}
		dlDir, err := os.MkdirTemp(r.Dir, "dl-*")
		if err != nil {
			return "", eris.Wrap(err, "fetcher: create download directory")
		}
		dest := filepath.Join(dlDir, remoteName(src))
		n, err := f.DownloadToFile(ctx, src, dest)
		if err != nil {
			return "", eris.Wrapf(err, "fetcher: download %s", src)
		}
		zap.L().Info("fetcher: downloaded input", zap.String("url", src), zap.Int64("bytes", n))
		local = dest
	}

	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, nil
	}

	base := strings.TrimSuffix(filepath.Base(local), filepath.Ext(local))
	destDir, err := os.MkdirTemp(r.Dir, base+"-*")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create extract directory")
	}
	files, err := ExtractZIP(local, destDir, tableExts...)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: extract %s", local)
	}
	picked, err := pickTable(files)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: %s", src)
	}
	return picked, nil
}

func (r *Resolver) fetcherFor(src string) Fetcher {
	u, err := url.Parse(src)
	if err != nil {
		return nil
	}
	if u.Scheme == "ftp" {
		return r.FTP
	}
	return r.HTTP
}

// pickTable returns the first file with the highest-priority table extension.
func pickTable(files []string) (string, error) {
	for _, ext := range tableExts {
		i := slices.IndexFunc(files, func(f string) bool {
			return strings.EqualFold(filepath.Ext(f), ext)
		})
		if i >= 0 {
			return files[i], nil
		}
	}
	return "", eris.Errorf("archive has no %s file", strings.Join(tableExts, ", "))
}

// remoteName is the local file name for a downloaded URL.
func remoteName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}
