package nfsmount

import (
	"context"
	"io"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/h5mirror/internal/reader"
)

// itemFile implements billy.File over an item's payload. Every read opens
// a fresh byte range; reference payloads come from the StoreFS cache after
// the first read.
type itemFile struct {
	ctx    context.Context
	name   string
	id     string
	size   int64
	reader *reader.Reader
	pos    int64
}

func (f *itemFile) Name() string { return f.name }

func (f *itemFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *itemFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}
	s, err := f.reader.OpenByteRange(f.ctx, f.id, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.Close() }() // ignore error

	n, err := io.ReadFull(s, p[:s.Len()])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *itemFile) Seek(offset int64, whence int) (int64, error) {
	f.pos = seek(f.pos, f.size, offset, whence)
	return f.pos, nil
}

func (f *itemFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *itemFile) Truncate(int64) error      { return errReadOnly }
func (f *itemFile) Lock() error               { return nil }
func (f *itemFile) Unlock() error             { return nil }
func (f *itemFile) Close() error              { return nil }

// bytesFile implements billy.File backed by a static byte slice.
// Used for the manifest.
type bytesFile struct {
	name string
	data []byte
	pos  int64
}

func (f *bytesFile) Name() string { return f.name }

func (f *bytesFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *bytesFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *bytesFile) Seek(offset int64, whence int) (int64, error) {
	f.pos = seek(f.pos, int64(len(f.data)), offset, whence)
	return f.pos, nil
}

func (f *bytesFile) Write([]byte) (int, error) { return 0, errReadOnly }
func (f *bytesFile) Truncate(int64) error      { return errReadOnly }
func (f *bytesFile) Lock() error               { return nil }
func (f *bytesFile) Unlock() error             { return nil }
func (f *bytesFile) Close() error              { return nil }

func seek(pos, size, offset int64, whence int) int64 {
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos += offset
	case io.SeekEnd:
		pos = size + offset
	}
	return max(pos, 0)
}

var (
	_ billy.File = (*itemFile)(nil)
	_ billy.File = (*bytesFile)(nil)
)
