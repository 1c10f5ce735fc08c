package blob

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Store is a write-once object store over a local directory. Objects are
// addressed by opaque keys and fanned out over two-level subdirectories to
// keep directory sizes bounded.
type Store struct {
	root string
}

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// New creates a blob store rooted at dir.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage directory required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Path returns the filesystem path an object key maps to. The object may or
// may not exist.
func (s *Store) Path(key string) string {
	prefix := "00"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(s.root, prefix, key)
}

// Open opens a stored object for reading.
func (s *Store) Open(key string) (*os.File, error) {
	f, err := os.Open(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// Stat reports the size of a stored object.
func (s *Store) Stat(key string) (int64, error) {
	info, err := os.Stat(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return 0, fmt.Errorf("stat object: %w", err)
	}
	return info.Size(), nil
}

// Exists reports whether an object is present.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.Path(key))
	return err == nil
}

// Remove deletes a stored object. Removing an absent object is not an error:
// purge sweeps re-run after interruption and must stay idempotent.
func (s *Store) Remove(key string) error {
	err := os.Remove(s.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *Store) newTempFile() (*os.File, error) {
	return os.CreateTemp(filepath.Join(s.root, "tmp"), "blob-*")
}
