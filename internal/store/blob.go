package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/zeebo/blake3"
)

// Digest identifies the exact bytes a writer last read from a blob.
type Digest [32]byte

func digestOf(data []byte) Digest { return blake3.Sum256(data) }

// Blob holds one whole serialized collection.
type Blob interface {
	// Read returns the current contents, or nil when the blob does not exist yet.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the contents only if they still hash to expected,
	// otherwise it fails with ErrConflict.
	Write(ctx context.Context, data []byte, expected Digest) error
}

const lockRetry = 10 * time.Millisecond

// LocalBlob is a Blob stored as a file on local disk. A sibling .lock file
// makes compare-and-write exclusive across processes.
type LocalBlob struct {
	path string
	lock *flock.Flock
}

func NewLocalBlob(dir, name string) (*LocalBlob, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	return &LocalBlob{path: path, lock: flock.New(path + ".lock")}, nil
}

func (b *LocalBlob) Path() string { return b.path }

func (b *LocalBlob) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return data, nil
}

func (b *LocalBlob) Write(ctx context.Context, data []byte, expected Digest) error {
	locked, err := b.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock %s: %w", b.path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: %w", b.path, ErrConflict)
	}
	defer b.lock.Unlock()

	current, err := b.Read(ctx)
	if err != nil {
		return err
	}
	if digestOf(current) != expected {
		return fmt.Errorf("%s changed since it was read: %w", b.path, ErrConflict)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
