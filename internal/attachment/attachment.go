// Package attachment stores the files attached to evidences.
package attachment

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"
)

var ErrNotFound = errors.New("attachment not found")

// Info describes a stored object.
type Info struct {
	Key         string
	ContentType string
	Size        int64
}

// Store is an object store for evidence files.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Info, error)
	Get(ctx context.Context, key string) (io.ReadCloser, Info, error)
	Delete(ctx context.Context, key string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey places an uploaded file under its evidence.
func ObjectKey(evidenceID, filename string) string {
	name := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(filename, `\`, "/")), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "attachment"
	}
	return "evidences/" + evidenceID + "/" + name
}
