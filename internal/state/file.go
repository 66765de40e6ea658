package state

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileBackend stores the snapshot as a JSON document on a filesystem.
type FileBackend struct {
	fs   afero.Fs
	path string
}

// NewFileBackend returns a backend writing to path on the OS filesystem.
func NewFileBackend(path string) *FileBackend {
	return NewFileBackendFs(afero.NewOsFs(), path)
}

// NewFileBackendFs returns a backend writing to path on fs.
func NewFileBackendFs(fs afero.Fs, path string) *FileBackend {
	return &FileBackend{fs: fs, path: filepath.Clean(path)}
}

// Path returns the snapshot file location.
func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load(_ context.Context) (*Snapshot, error) {
	data, err := afero.ReadFile(b.fs, b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read %s: %w", b.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoSnapshot
	}
	return Decode(bytes.NewReader(data))
}

// Save writes to a temp file in the same directory and renames it over the
// target so readers never observe a partial document.
func (b *FileBackend) Save(_ context.Context, s *Snapshot) error {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	tmp, err := afero.TempFile(b.fs, dir, "."+filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := b.fs.Rename(tmpName, b.path); err != nil {
		_ = b.fs.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
