// Package source models the hierarchy of a scientific data file as a read-only
// tree of groups and datasets, independent of the on-disk format.
package source

import (
	"context"
	"errors"
)

var (
	// ErrNotHDF5 is returned by an Opener when the path is not a readable HDF5 file.
	ErrNotHDF5 = errors.New("not an hdf5 file")
	// ErrNoSuchDataset is returned when a path does not resolve to a dataset.
	ErrNoSuchDataset = errors.New("no such dataset")
	// ErrUnsupportedType is returned when a dataset's element type cannot be read.
	ErrUnsupportedType = errors.New("unsupported element type")
	// SkipSubtree may be returned by a WalkFunc to skip the children of a group.
	SkipSubtree = errors.New("skip subtree")
)

// Kind tags a Node as a group or a dataset.
type Kind int

const (
	KindGroup Kind = iota
	KindDataset
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDataset:
		return "dataset"
	}
	return "unknown"
}

// Attribute is a single name/value pair attached to a group or dataset.
type Attribute struct {
	Name  string
	Value any
}

// DatasetInfo carries the dataset-only fields of a Node.
type DatasetInfo struct {
	Shape    []uint64
	DType    string // NumPy descriptor, e.g. "<f8"
	ByteSize int64
}

// Node is an immutable view of one object in the source file.
// Dataset is non-nil iff Kind == KindDataset.
type Node struct {
	Path       string // full internal path, e.g. "/a/b/c"
	Kind       Kind
	Attributes []Attribute
	Dataset    *DatasetInfo

	// AttributeErrors lists attributes that could not be decoded. They are
	// left out of Attributes; the node itself is still usable.
	AttributeErrors []error
}

// IsDataset reports whether the node is a dataset.
func (n *Node) IsDataset() bool {
	return n.Kind == KindDataset && n.Dataset != nil
}

// Array is a fully read dataset: raw little-endian element bytes in C order.
type Array struct {
	Shape []uint64
	DType string
	Data  []byte
}

// Len is the element count implied by Shape.
func (a *Array) Len() uint64 {
	n := uint64(1)
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// WalkFunc is called for every node in pre-order. A non-nil err means the
// node could not be described; n still carries its Path and Kind.
type WalkFunc func(n *Node, err error) error

// File is an open hierarchical data file.
type File interface {
	// Path returns the filesystem path the file was opened from.
	Path() string
	// Walk visits every node, parents before children, siblings in the
	// file's native order. The root group "/" is visited first.
	Walk(ctx context.Context, fn WalkFunc) error
	// Lookup resolves an internal path to a node.
	Lookup(internalPath string) (*Node, error)
	// ReadArray reads a dataset fully.
	ReadArray(internalPath string) (*Array, error)
	Close() error
}

// Opener opens a hierarchical data file read-only.
type Opener func(path string) (File, error)
