// Package storage keeps uploaded media on a blob backend.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"regexp"
	"strings"
)

var ErrNotFound = errors.New("storage: blob not found")

// BlobStore is the backend for uploaded media.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var keySegment = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidKey reports whether key is a relative slash separated path with no
// empty, dot or hidden segments.
func ValidKey(key string) bool {
	if key == "" || len(key) > 512 || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || !keySegment.MatchString(seg) {
			return false
		}
	}
	return true
}
