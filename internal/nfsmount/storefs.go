// Package nfsmount exports a mirrored store subtree as a read-only NFS
// filesystem. Folders are directories and items are files whose bytes come
// from the lazy reader.
package nfsmount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/h5mirror/internal/reader"
	"github.com/agentic-research/h5mirror/internal/store"
)

var errReadOnly = fmt.Errorf("read-only filesystem")

// ManifestName is the virtual file at the export root holding a JSON
// snapshot of the exported subtree.
const ManifestName = ".h5mirror.json"

// StoreFS adapts a store subtree to billy.Filesystem for go-nfs.
type StoreFS struct {
	ctx       context.Context
	store     store.Store
	reader    *reader.Reader
	rootID    string
	mountTime time.Time
}

// PayloadCacheEntries bounds the reference payloads a StoreFS keeps
// regenerated between NFS reads.
const PayloadCacheEntries = 16

// NewStoreFS exports the folder rootID. ctx bounds every store and source
// access made on behalf of NFS clients.
//
// go-nfs reopens a file for every READ, so unless rd already carries one a
// payload cache is attached to a copy of rd. Without it each READ of a
// reference blob would regenerate the whole dataset.
func NewStoreFS(ctx context.Context, rd *reader.Reader, rootID string) *StoreFS {
	if rootID == "" {
		rootID = store.RootID
	}
	r := *rd
	if r.Cache == nil {
		r.Cache, _ = lru.New[string, []byte](PayloadCacheEntries) // fails only for size <= 0
	}
	return &StoreFS{
		ctx:       ctx,
		store:     rd.Store,
		reader:    &r,
		rootID:    rootID,
		mountTime: time.Now(),
	}
}

// --- billy.Basic ---

func (fs *StoreFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *StoreFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *StoreFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}

	if filename == "/"+ManifestName {
		data, err := fs.manifest()
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: filename, Err: err}
		}
		return &bytesFile{name: ManifestName, data: data}, nil
	}

	e, err := fs.resolve(filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	if e.Kind == store.KindFolder {
		return nil, &os.PathError{Op: "open", Path: filename, Err: fmt.Errorf("is a directory")}
	}
	size, err := fs.reader.ContentSize(fs.ctx, e.ID)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	return &itemFile{
		ctx:    fs.ctx,
		name:   filename,
		id:     e.ID,
		size:   size,
		reader: fs.reader,
	}, nil
}

func (fs *StoreFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *StoreFS) Rename(oldpath, newpath string) error { return errReadOnly }
func (fs *StoreFS) Remove(filename string) error         { return errReadOnly }

func (fs *StoreFS) Join(elem ...string) string {
	return filepath.Join(elem...)
}

// --- billy.TempFile ---

func (fs *StoreFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *StoreFS) ReadDir(p string) ([]os.FileInfo, error) {
	p = cleanPath(p)

	e, err := fs.resolve(p)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: err}
	}
	if e.Kind != store.KindFolder {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: fmt.Errorf("not a directory")}
	}

	children, err := fs.store.Children(fs.ctx, e.ID)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: p, Err: err}
	}

	infos := make([]os.FileInfo, 0, len(children)+1)
	if p == "/" {
		info, err := fs.manifestInfo()
		if err != nil {
			return nil, &os.PathError{Op: "readdir", Path: p, Err: err}
		}
		infos = append(infos, info)
	}
	for _, c := range children {
		info, err := fs.entryInfo(c)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (fs *StoreFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *StoreFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)

	if filename == "/" {
		return &staticFileInfo{
			name:    "/",
			mode:    os.ModeDir | 0o555,
			modTime: fs.mountTime,
		}, nil
	}
	if filename == "/"+ManifestName {
		return fs.manifestInfo()
	}

	e, err := fs.resolve(filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: err}
	}
	info, err := fs.entryInfo(e)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: err}
	}
	return info, nil
}

func (fs *StoreFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *StoreFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *StoreFS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, p), nil
}

func (fs *StoreFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *StoreFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// resolve maps a clean export path to its entry, translating store misses
// into os.ErrNotExist.
func (fs *StoreFS) resolve(p string) (*store.Entry, error) {
	e, err := store.Resolve(fs.ctx, fs.store, fs.rootID, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, os.ErrNotExist
	}
	return e, err
}

func (fs *StoreFS) entryInfo(e *store.Entry) (os.FileInfo, error) {
	modTime := e.Updated
	if modTime.IsZero() {
		modTime = fs.mountTime
	}
	if e.Kind == store.KindFolder {
		return &staticFileInfo{name: e.Name, mode: os.ModeDir | 0o555, modTime: modTime}, nil
	}
	size, err := fs.reader.ContentSize(fs.ctx, e.ID)
	if err != nil {
		return nil, err
	}
	return &staticFileInfo{name: e.Name, size: size, mode: 0o444, modTime: modTime}, nil
}

func (fs *StoreFS) manifest() ([]byte, error) {
	snap, err := store.Snapshot(fs.ctx, fs.store, fs.rootID)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (fs *StoreFS) manifestInfo() (os.FileInfo, error) {
	data, err := fs.manifest()
	if err != nil {
		return nil, err
	}
	return &staticFileInfo{
		name:    ManifestName,
		size:    int64(len(data)),
		mode:    0o444,
		modTime: fs.mountTime,
	}, nil
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(p string) string {
	return path.Clean("/" + filepath.ToSlash(p))
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() any           { return nil }

var (
	_ billy.Filesystem = (*StoreFS)(nil)
	_ billy.Capable    = (*StoreFS)(nil)
)
