// Package assetstore keeps the bytes of materialized blobs in a flat
// key/value layout on an afero filesystem.
package assetstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

var (
	ErrNotFound   = errors.New("asset not found")
	ErrInvalidKey = errors.New("invalid asset key")
)

// Store reads and writes assets by key.
type Store struct {
	fs afero.Fs
}

// New wraps fs. Keys become paths relative to its root.
func New(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// NewOs stores assets below dir on the local filesystem.
func NewOs(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir %s: %w", dir, err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewMem returns an in-memory asset store.
func NewMem() *Store {
	return New(afero.NewMemMapFs())
}

// keyPath shards keys two characters deep: "abcdef" → "ab/abcdef".
func keyPath(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, "/\\") || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return path.Join(key[:2], key), nil
}

// Put writes r under key, replacing any previous asset. The data is written
// to a temporary name first so a failed write never leaves a torn asset.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := keyPath(key)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("ensuring directories for %q: %w", key, err)
	}

	tmp := p + ".partial"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create asset %q: %w", key, err)
	}
	n, err := io.Copy(f, contextReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(tmp) // best-effort cleanup
		return n, fmt.Errorf("write asset %q: %w", key, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return n, fmt.Errorf("commit asset %q: %w", key, err)
	}
	return n, nil
}

// Open returns a seekable handle on the asset.
func (s *Store) Open(_ context.Context, key string) (afero.File, error) {
	p, err := keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return f, err
}

// Has reports whether key exists.
func (s *Store) Has(_ context.Context, key string) (bool, error) {
	p, err := keyPath(key)
	if err != nil {
		return false, err
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

// Size returns the byte length of the asset.
func (s *Store) Size(_ context.Context, key string) (int64, error) {
	p, err := keyPath(key)
	if err != nil {
		return 0, err
	}
	fi, err := s.fs.Stat(p)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Delete removes the asset; deleting a missing key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	p, err := keyPath(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
