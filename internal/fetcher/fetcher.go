// Package fetcher downloads remote input tables and unpacks zip archives so
// the pipeline can read them from local paths.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// IsRemote reports whether src is an http, https or ftp URL.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ftp":
		return u.Host != ""
	}
	return false
}

// writeFile copies r into a new file at path.
func writeFile(r io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	n, err := io.Copy(file, r)
	if err != nil {
		_ = file.Close()
		return n, eris.Wrap(err, "write file")
	}
	if err := file.Close(); err != nil {
		return n, eris.Wrap(err, "close file")
	}
	return n, nil
}
