// -----------------------------------------------------------------------
// Filesystem-backed blob store for large artifact payloads, backup dumps
// and restore temp files
// -----------------------------------------------------------------------

package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/cognatio/internal/common"
	"github.com/ternarybob/cognatio/internal/interfaces"
)

// TempPrefix is the key prefix for restore temp files; anything under it
// older than TempMaxAge is swept at startup.
const TempPrefix = "tmp/"

// TempMaxAge bounds how long an orphaned restore temp file survives.
const TempMaxAge = 24 * time.Hour

// FileStore implements the BlobStore interface on the local filesystem.
// Keys map to paths under the root; path traversal is rejected.
type FileStore struct {
	root   string
	logger arbor.ILogger
}

// NewFileStore creates a filesystem blob store rooted at path.
func NewFileStore(logger arbor.ILogger, config *common.BlobConfig) (*FileStore, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	logger.Debug().Str("path", config.Path).Msg("Blob store initialized")
	return &FileStore{
		root:   config.Path,
		logger: logger,
	}, nil
}

func (s *FileStore) pathFor(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key is required")
	}
	cleaned := filepath.Clean(key)
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key: %s", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Put writes the blob atomically: write to a sibling temp file, then rename.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob subdirectory: %w", err)
	}

	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize blob %s: %w", key, err)
	}

	s.logger.Trace().Str("key", key).Int("bytes", len(data)).Msg("Blob stored")
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.Ef(common.KindNotFound, "blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil // Deleting an absent blob is a no-op
		}
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".partial") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	return keys, nil
}

// SweepTemp deletes restore temp files older than TempMaxAge. Called at
// startup to clean up after crashed restore workers.
func (s *FileStore) SweepTemp(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.List(ctx, TempPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		path, err := s.pathFor(key)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > TempMaxAge {
			if err := os.Remove(path); err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Failed to sweep temp blob")
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept stale restore temp files")
	}
	return removed, nil
}

// Compile-time interface check
var _ interfaces.BlobStore = (*FileStore)(nil)
