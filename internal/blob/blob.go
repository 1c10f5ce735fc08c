package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
)

var (
	ErrBlobClosed = errors.New("blob is closed")
	ErrEmptyKey   = errors.New("object key required")
)

// Blob is a writable object that streams into a temporary file while
// computing a SHA-256 digest and byte count in the same pass, so content is
// never read twice. Commit renames the temp file into place atomically; a
// blob either fully exists under its key or not at all, which keeps partial
// uploads from ever becoming servable objects.
type Blob struct {
	store *Store

	tmpFile *os.File
	tmpPath string

	hasher hash.Hash
	size   int64

	closed    bool
	committed bool
}

// NewBlob creates a writable blob. The caller must either Commit it under a
// key or Discard it; Discard after Commit is a no-op, so `defer Discard` is
// the safe pattern.
func (s *Store) NewBlob() (*Blob, error) {
	tmpFile, err := s.newTempFile()
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Blob{
		store:   s,
		tmpFile: tmpFile,
		tmpPath: tmpFile.Name(),
		hasher:  sha256.New(),
	}, nil
}

// Write implements io.Writer.
func (b *Blob) Write(p []byte) (int, error) {
	if b.closed {
		return 0, ErrBlobClosed
	}
	n, err := b.tmpFile.Write(p)
	if n > 0 {
		_, _ = b.hasher.Write(p[:n])
		b.size += int64(n)
	}
	if err != nil {
		return n, err
	}
	return n, nil
}

// Digest returns the hex SHA-256 of the bytes written so far.
func (b *Blob) Digest() string {
	return hex.EncodeToString(b.hasher.Sum(nil))
}

// Size returns the number of bytes written so far.
func (b *Blob) Size() int64 {
	return b.size
}

// Commit finalizes the blob under the given key, syncing and atomically
// renaming the temp file into the fanout directory.
func (b *Blob) Commit(key string) error {
	if b.closed {
		return ErrBlobClosed
	}
	if key == "" {
		return ErrEmptyKey
	}

	if err := b.tmpFile.Sync(); err != nil {
		_ = b.tmpFile.Close()
		return fmt.Errorf("sync blob: %w", err)
	}
	if err := b.tmpFile.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}

	target := b.store.Path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create fanout directory: %w", err)
	}
	if err := os.Rename(b.tmpPath, target); err != nil {
		return fmt.Errorf("commit blob: %w", err)
	}

	b.closed = true
	b.committed = true
	return nil
}

// Discard abandons the blob and removes its temp file. Safe to call after
// Commit, where it does nothing.
func (b *Blob) Discard() {
	if b.committed {
		return
	}
	if !b.closed {
		_ = b.tmpFile.Close()
		b.closed = true
	}
	_ = os.Remove(b.tmpPath)
}
