// Package storage provides interfaces and implementations for object storage.
// Supported providers: local filesystem, Amazon S3 (and S3-compatible services).
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned (possibly wrapped) by Download when no object
// exists at the requested path.
var ErrNotFound = errors.New("storage: object not found")

// FileInfo contains metadata about a stored object.
type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Storage defines the interface for object storage operations.
// Paths are slash-separated keys relative to the backend root.
type Storage interface {
	// Upload writes data from reader to the given path, replacing any
	// existing object.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download returns a reader for the object at the given path.
	// The caller is responsible for closing the returned ReadCloser.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at the given path.
	// Returns nil if the object does not exist.
	Delete(ctx context.Context, path string) error

	// Exists checks whether an object exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns metadata for all objects whose path starts with prefix,
	// sorted by path.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}

// PrefixDeleter is optionally implemented by backends that can remove a
// whole key prefix more efficiently than List followed by Delete.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// DeletePrefix removes every object under prefix. Backends implementing
// PrefixDeleter handle it natively.
func DeletePrefix(ctx context.Context, s Storage, prefix string) error {
	if pd, ok := s.(PrefixDeleter); ok {
		return pd.DeletePrefix(ctx, prefix)
	}
	files, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.Delete(ctx, f.Path); err != nil {
			return err
		}
	}
	return nil
}

// IsNotFound reports whether err means the requested object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
