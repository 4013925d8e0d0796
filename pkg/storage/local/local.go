package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/feichai0017/blueprint-dashboard/pkg/logger"
)

// LocalStorage keeps processed artifacts on the local filesystem under a
// single base directory. File ids are paths relative to that directory.
type LocalStorage struct {
	baseDir string
	logger  logger.Logger
}

func NewLocalStorage(baseDir string, logger logger.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		logger:  logger,
	}, nil
}

// Store implements Storage.Store
func (l *LocalStorage) Store(ctx context.Context, reader io.Reader, filename string) (string, error) {
	path := l.resolve(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, reader); err != nil {
		l.logger.Error("Failed to store file locally",
			logger.String("path", path),
			logger.Error(err),
		)
		os.Remove(path)
		return "", fmt.Errorf("failed to store file: %w", err)
	}

	return path, nil
}

// Get implements Storage.Get
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.resolve(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// Delete implements Storage.Delete
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := os.Remove(l.resolve(key)); err != nil {
		l.logger.Error("Failed to delete local file",
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (l *LocalStorage) CleanupBefore(ctx context.Context, threshold time.Time) error {
	return filepath.Walk(l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(path); err != nil {
				l.logger.Error("Failed to delete expired file",
					logger.String("path", path),
					logger.Error(err),
				)
				return nil
			}
			l.logger.Info("Deleted expired file",
				logger.String("path", path),
				logger.Time("modTime", info.ModTime()),
			)
		}
		return nil
	})
}

// resolve maps a file id onto the base directory. Absolute paths that
// already point inside the base directory pass through unchanged.
func (l *LocalStorage) resolve(key string) string {
	if filepath.IsAbs(key) && strings.HasPrefix(key, l.baseDir) {
		return key
	}
	return filepath.Join(l.baseDir, filepath.Clean("/"+key))
}
