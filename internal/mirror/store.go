// Package mirror pushes local data files to remote object storage and pulls
// them back. Every operation is best effort: failures are logged and counted
// and reported as a boolean, never returned to the caller.
package mirror

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
)

// ErrNotFound is returned by a Store when the key does not exist
var ErrNotFound = errors.New("object not found")

// Attrs are the object attributes set on upload
type Attrs struct {
	ContentType  string
	CacheControl string
}

// Store is a remote object store backend
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, r io.Reader, attrs Attrs) error
	Download(ctx context.Context, key string, w io.Writer) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ContentType returns the upload content type for a file name
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".parquet":
		return "application/vnd.apache.parquet"
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
