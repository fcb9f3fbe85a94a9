package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/agentic-research/h5mirror/internal/h5path"
)

// Tree is an in-memory File. Children keep insertion order, so Walk is
// deterministic. Intermediate groups are created on demand.
type Tree struct {
	path string

	mu       sync.RWMutex
	nodes    map[string]*treeNode
	failRead map[string]error
	handles  int
}

type treeNode struct {
	node     Node
	array    *Array
	children []string
}

// NewTree creates an empty tree that reports path as its file path.
func NewTree(path string) *Tree {
	t := &Tree{
		path:     path,
		nodes:    make(map[string]*treeNode),
		failRead: make(map[string]error),
	}
	t.nodes["/"] = &treeNode{node: Node{Path: "/", Kind: KindGroup}}
	return t
}

// Opener returns an Opener that yields a handle on this tree for any path.
// Closing a handle leaves the tree usable; OpenHandles counts the ones
// not yet closed.
func (t *Tree) Opener() Opener {
	return func(string) (File, error) {
		t.mu.Lock()
		t.handles++
		t.mu.Unlock()
		return &treeHandle{Tree: t}, nil
	}
}

// OpenHandles is the number of handles from Opener that are still open.
func (t *Tree) OpenHandles() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handles
}

type treeHandle struct {
	*Tree
	once sync.Once
}

func (h *treeHandle) Close() error {
	h.once.Do(func() {
		h.mu.Lock()
		h.handles--
		h.mu.Unlock()
	})
	return nil
}

// AddGroup adds (or updates the attributes of) a group.
func (t *Tree) AddGroup(p string, attrs ...Attribute) *Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.ensure(h5path.Clean(p), KindGroup)
	n.node.Attributes = append([]Attribute(nil), attrs...)
	return t
}

// AddDataset adds a float64 dataset with the given shape and values.
func (t *Tree) AddDataset(p string, shape []uint64, values []float64, attrs ...Attribute) *Tree {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return t.AddArray(p, &Array{Shape: shape, DType: "<f8", Data: data}, attrs...)
}

// AddArray adds a dataset backed by a raw array.
func (t *Tree) AddArray(p string, a *Array, attrs ...Attribute) *Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.ensure(h5path.Clean(p), KindDataset)
	n.node.Attributes = append([]Attribute(nil), attrs...)
	n.node.Dataset = &DatasetInfo{
		Shape:    append([]uint64(nil), a.Shape...),
		DType:    a.DType,
		ByteSize: int64(len(a.Data)),
	}
	n.array = a
	return t
}

// Remove deletes a node and its subtree.
func (t *Tree) Remove(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p = h5path.Clean(p)
	for k := range t.nodes {
		if k != "/" && h5path.IsWithin(k, p) {
			delete(t.nodes, k)
		}
	}
	dir, leaf, err := h5path.SplitLeaf(p)
	if err != nil {
		return
	}
	if parent, ok := t.nodes[dir]; ok {
		kept := parent.children[:0]
		for _, c := range parent.children {
			if c != leaf {
				kept = append(kept, c)
			}
		}
		parent.children = kept
	}
}

// FailRead makes ReadArray (and Walk) report err for the dataset at p.
func (t *Tree) FailRead(p string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failRead[h5path.Clean(p)] = err
}

// FailAttribute records an attribute of the node at p that could not be
// decoded, as a file driver would report it.
func (t *Tree) FailAttribute(p, name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[h5path.Clean(p)]
	if !ok {
		return
	}
	n.node.AttributeErrors = append(n.node.AttributeErrors, fmt.Errorf("attribute %s: %w", name, err))
}

// ensure must be called with t.mu held.
func (t *Tree) ensure(p string, kind Kind) *treeNode {
	if n, ok := t.nodes[p]; ok {
		n.node.Kind = kind
		if kind == KindGroup {
			n.node.Dataset = nil
			n.array = nil
		}
		return n
	}
	dir, leaf, _ := h5path.SplitLeaf(p)
	parent := t.ensure(dir, KindGroup)
	parent.children = append(parent.children, leaf)
	n := &treeNode{node: Node{Path: p, Kind: kind}}
	t.nodes[p] = n
	return n
}

func (t *Tree) Path() string { return t.path }

func (t *Tree) Walk(ctx context.Context, fn WalkFunc) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.walk(ctx, "/", fn)
}

func (t *Tree) walk(ctx context.Context, p string, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := t.nodes[p]
	node := n.node
	var nodeErr error
	if node.Kind == KindDataset {
		nodeErr = t.failRead[p]
	}
	if err := fn(&node, nodeErr); err != nil {
		if err == SkipSubtree {
			return nil
		}
		return err
	}
	for _, c := range n.children {
		child := h5path.Join(append(h5path.Segments(p), c)...)
		if err := t.walk(ctx, child, fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) Lookup(internalPath string) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[h5path.Clean(internalPath)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", internalPath, ErrNoSuchDataset)
	}
	node := n.node
	return &node, nil
}

func (t *Tree) ReadArray(internalPath string) (*Array, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := h5path.Clean(internalPath)
	if err := t.failRead[p]; err != nil {
		return nil, err
	}
	n, ok := t.nodes[p]
	if !ok || n.array == nil {
		return nil, fmt.Errorf("%s: %w", internalPath, ErrNoSuchDataset)
	}
	a := *n.array
	return &a, nil
}

// Close is a no-op; a Tree lives as long as its owner keeps it.
func (t *Tree) Close() error { return nil }

var _ File = (*Tree)(nil)
