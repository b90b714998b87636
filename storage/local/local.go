// Package local implements the on-disk circuit archive. Objects are keyed
// by content hash, so uploads are write-once: an existing object is never
// rewritten. A free-space floor turns disk pressure into a typed
// resource-exhaustion error before writes start failing half-way.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	apperrors "github.com/inferq/circuitpipe/errors"
	"github.com/inferq/circuitpipe/storage"
)

// Storage implements storage.Storage on the local filesystem.
type Storage struct {
	basePath     string
	minFreeBytes int64
}

// NewStorage creates a local archive rooted at basePath. minFreeBytes is the
// free-space floor below which uploads fail; 0 disables the check.
func NewStorage(basePath string, minFreeBytes int64) (*Storage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("storage: create base directory: %w", err)
	}
	return &Storage{basePath: abs, minFreeBytes: minFreeBytes}, nil
}

// BasePath returns the absolute archive root.
func (s *Storage) BasePath() string { return s.basePath }

// Upload writes data from reader to a local file. An existing object is left
// untouched — content-hash keys make rewrites pointless.
func (s *Storage) Upload(ctx context.Context, path string, reader io.Reader) error {
	fullPath := filepath.Join(s.basePath, filepath.Clean(path))

	if _, err := os.Stat(fullPath); err == nil {
		return nil
	}

	if err := s.checkFreeSpace(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("storage: create directory: %w", err)
	}

	f, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("storage: create file: %w", err)
	}
	defer f.Close() //nolint:errcheck // close error surfaces via the write below

	if _, err := io.Copy(f, reader); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return apperrors.ResourceExhausted(s.basePath, err)
		}
		return fmt.Errorf("storage: write file: %w", err)
	}
	return nil
}

// Download returns a reader for the local file at the given path.
func (s *Storage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath := filepath.Join(s.basePath, filepath.Clean(path))
	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: object not found: %s", path)
		}
		return nil, fmt.Errorf("storage: open file: %w", err)
	}
	return f, nil
}

// Delete removes a local file. Returns nil if the file does not exist.
func (s *Storage) Delete(_ context.Context, path string) error {
	fullPath := filepath.Join(s.basePath, filepath.Clean(path))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// Exists checks whether a local file exists.
func (s *Storage) Exists(_ context.Context, path string) (bool, error) {
	fullPath := filepath.Join(s.basePath, filepath.Clean(path))
	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat file: %w", err)
	}
	return true, nil
}

// URL returns a file:// URL for the local file.
func (s *Storage) URL(_ context.Context, path string) (string, error) {
	u := &url.URL{Scheme: "file", Path: filepath.Join(s.basePath, path)}
	return u.String(), nil
}

// List returns metadata for all files whose relative path starts with prefix.
func (s *Storage) List(_ context.Context, prefix string) ([]storage.FileInfo, error) {
	var files []storage.FileInfo

	err := filepath.Walk(s.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
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
		return nil, fmt.Errorf("storage: list files: %w", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// checkFreeSpace fails with a fatal resource-exhaustion error when the
// filesystem is below the configured floor.
func (s *Storage) checkFreeSpace() error {
	if s.minFreeBytes <= 0 {
		return nil
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.basePath, &stat); err != nil {
		return fmt.Errorf("storage: statfs: %w", err)
	}

	free := int64(stat.Bavail) * int64(stat.Bsize)
	if free < s.minFreeBytes {
		return apperrors.ResourceExhausted(s.basePath,
			fmt.Errorf("%d bytes free, floor is %d", free, s.minFreeBytes))
	}
	return nil
}

// compile-time check
var _ storage.Storage = (*Storage)(nil)
