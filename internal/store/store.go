// Package store is the destination hierarchy: folders, items, one blob per
// item, and key/value metadata. The mirror only ever creates or reuses
// entries; it never deletes them.
package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

// RootID is the ID of the folder every store is created with.
const RootID = "root"

var (
	ErrNotFound = errors.New("entry not found")
	// ErrConflict means an entry of the other kind already has the name.
	ErrConflict = errors.New("entry kind conflict")
	ErrNoBlob   = errors.New("item has no blob")
)

// Kind distinguishes folders from items.
type Kind int

const (
	KindFolder Kind = iota
	KindItem
)

func (k Kind) String() string {
	if k == KindItem {
		return "item"
	}
	return "folder"
}

// Metadata maps unique keys to JSON-compatible values.
type Metadata map[string]any

// Merge copies src into dst, overwriting same keys. It never removes keys.
func Merge(dst, src Metadata) Metadata {
	if dst == nil {
		dst = make(Metadata, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Entry is a folder or an item.
type Entry struct {
	ID       string
	ParentID string
	Name     string
	Kind     Kind
	Meta     Metadata
	Creator  string
	Created  time.Time
	Updated  time.Time
}

// BlobMode says where a blob's bytes live.
type BlobMode int

const (
	// BlobReference records only a size; bytes are read from the source on demand.
	BlobReference BlobMode = iota
	// BlobMaterialized bytes were serialized into the asset store at import time.
	BlobMaterialized
)

func (m BlobMode) String() string {
	if m == BlobMaterialized {
		return "materialized"
	}
	return "reference"
}

// Blob is the payload attached to an item.
type Blob struct {
	ItemID             string
	Name               string
	Mode               BlobMode
	Size               int64
	AssetKey           string // set for BlobMaterialized
	SourceFilePath     string
	SourceInternalPath string
}

// ItemWrite is one unit of item creation: the item, its metadata and its blob
// are written together or not at all.
type ItemWrite struct {
	ParentID string
	Name     string
	Creator  string
	Meta     Metadata
	Blob     Blob
}

// Store is the destination hierarchy.
//
// Implementations assume a single writer per subtree; concurrent imports
// into the same subtree must be serialized by the caller.
type Store interface {
	Get(ctx context.Context, id string) (*Entry, error)
	Child(ctx context.Context, parentID, name string) (*Entry, error)
	// Children are sorted by name.
	Children(ctx context.Context, id string) ([]*Entry, error)

	// EnsureFolder returns the folder named name under parentID, creating it
	// if absent. ErrConflict if an item already has that name.
	EnsureFolder(ctx context.Context, parentID, name, creator string) (e *Entry, created bool, err error)
	// SaveMeta merges meta into the entry's metadata.
	SaveMeta(ctx context.Context, id string, meta Metadata) (*Entry, error)

	// PutItem creates or reuses an item, merges its metadata and replaces
	// its blob, atomically. ErrConflict if a folder already has that name.
	PutItem(ctx context.Context, w ItemWrite) (*Entry, error)
	Blob(ctx context.Context, itemID string) (*Blob, error)

	// ItemsFromSource lists the IDs of items whose blob points at the source file.
	ItemsFromSource(ctx context.Context, sourceFilePath string) ([]string, error)

	Close() error
}
