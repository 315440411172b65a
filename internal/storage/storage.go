// Package storage keeps import files and product images outside the
// database. Objects are addressed by slash-separated keys such as
// "images/<uuid>.jpg"; both backends satisfy core.AttachmentStore.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned by Open when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Store is the attachment store contract shared by all backends.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Driver names accepted by New.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Driver string

	// Local
	Dir string

	// S3
	Bucket   string
	Region   string
	Endpoint string // custom endpoint, e.g. MinIO or LocalStack
	Prefix   string
}

// New opens the backend named by opts.Driver.
func New(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverLocal:
		s, err := NewLocalStore(opts.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverS3:
		s, err := NewS3Store(ctx, S3Options{
			Bucket:   opts.Bucket,
			Region:   opts.Region,
			Endpoint: opts.Endpoint,
			Prefix:   opts.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// validKey rejects keys that are empty, absolute or escape their root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}
