// Package local implements storage.Storage on the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbukum/blockflow/logger"
	"github.com/kbukum/blockflow/storage"
)

func init() {
	storage.RegisterFactory(storage.ProviderLocal, func(cfg storage.Config, _ *logger.Logger) (storage.Storage, error) {
		return NewStorage(cfg.BasePath)
	})
}

// Storage implements storage.Storage using the local filesystem.
type Storage struct {
	basePath string
}

// NewStorage creates a new local filesystem storage rooted at basePath.
func NewStorage(basePath string) (*Storage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local: base_path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create base directory: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

func (s *Storage) fullPath(path string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(filepath.Clean("/"+path)))
}

// Upload writes data from reader to a local file. The content is staged in a
// temporary file and renamed into place so readers never see a partial write.
func (s *Storage) Upload(_ context.Context, path string, reader io.Reader) error {
	fullPath := s.fullPath(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("storage: create file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	return nil
}

// Download returns a reader for the local file at the given path.
func (s *Storage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("storage: open file: %w", err)
	}
	return f, nil
}

// Delete removes a local file. Returns nil if the file does not exist.
func (s *Storage) Delete(_ context.Context, path string) error {
	if err := os.Remove(s.fullPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// DeletePrefix removes every file under prefix. A prefix naming a directory
// removes the directory tree.
func (s *Storage) DeletePrefix(ctx context.Context, prefix string) error {
	full := s.fullPath(prefix)
	if info, err := os.Stat(full); err == nil && info.IsDir() && strings.HasSuffix(prefix, "/") {
		if err := os.RemoveAll(full); err != nil {
			return fmt.Errorf("storage: delete prefix: %w", err)
		}
		return nil
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

// Exists checks whether a local file exists.
func (s *Storage) Exists(_ context.Context, path string) (bool, error) {
	info, err := os.Stat(s.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat file: %w", err)
	}
	return !info.IsDir(), nil
}

// List returns metadata for all files whose slash-separated relative path
// starts with prefix.
func (s *Storage) List(_ context.Context, prefix string) ([]storage.FileInfo, error) {
	root := s.fullPath(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		root = filepath.Dir(root)
	}

	var files []storage.FileInfo

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".upload-") {
			return nil
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if strings.HasPrefix(relPath, prefix) {
			files = append(files, storage.FileInfo{
				Path:         relPath,
				Size:         info.Size(),
				LastModified: info.ModTime(),
			})
		}
		return nil
	})

	if err != nil {
		if os.IsNotExist(err) {
			return []storage.FileInfo{}, nil
		}
		return nil, fmt.Errorf("storage: list files: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// compile-time checks
var (
	_ storage.Storage       = (*Storage)(nil)
	_ storage.PrefixDeleter = (*Storage)(nil)
)
