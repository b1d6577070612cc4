// Package store implements core.KeyValueStore. FileStore is the
// spec-mandated default: every Save is a write-to-temp-then-rename so a
// reader never observes a partial write. SQLiteStore is the alternate
// backend, grounded on the teacher's checksum-guarded SQLite state
// store, for deployments that want a single queryable state file.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore persists each key as a file beneath Directory. Save writes
// to a sibling temp file and renames it over the destination, which is
// atomic on the same filesystem — the mechanism the teacher's SQLite
// store approximates with a transaction, applied here directly to the
// filesystem.
type FileStore struct {
	Directory string
}

// NewFileStore returns a FileStore rooted at directory, creating it if
// it does not already exist.
func NewFileStore(directory string) (*FileStore, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{Directory: directory}, nil
}

func (s *FileStore) resolve(path string) string {
	return filepath.Join(s.Directory, filepath.FromSlash(path))
}

// Save atomically writes data to path.
func (s *FileStore) Save(ctx context.Context, path string, data []byte) error {
	dest := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}

	tmp := dest + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

// Load reads the bytes stored at path. It returns os.ErrNotExist
// (wrapped) when the path has never been saved.
func (s *FileStore) Load(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the file at path. Deleting a path that does not exist
// is not an error.
func (s *FileStore) Delete(ctx context.Context, path string) error {
	if err := os.Remove(s.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
