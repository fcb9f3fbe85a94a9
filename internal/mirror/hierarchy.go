package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentic-research/h5mirror/api"
	"github.com/agentic-research/h5mirror/internal/h5path"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

// Segment is one path component paired with the source node it mirrors,
// when the walk has seen that node.
type Segment struct {
	Name   string
	Source *source.Node
}

// AttributeSupplier returns the metadata to merge onto the folder for the
// segment at depth (0-based). Nil or empty means no write.
type AttributeSupplier func(depth int, seg Segment) store.Metadata

// Chain builds the segments of p, attaching each ancestor from the walk's
// parent chain to the segment it corresponds to.
func Chain(p string, ancestors []*source.Node) []Segment {
	names := h5path.Segments(p)
	segs := make([]Segment, len(names))
	for i, name := range names {
		segs[i].Name = name
	}
	for _, a := range ancestors {
		d := h5path.Depth(a.Path)
		if d == 0 || d > len(segs) {
			continue
		}
		if h5path.Clean(a.Path) == h5path.Join(names[:d]...) {
			segs[d-1].Source = a
		}
	}
	return segs
}

// OwnAttributes supplies node's attributes (plus its internal path) at the
// node's own depth and nothing for its ancestors, which the pre-order walk
// has already written.
func OwnAttributes(n *source.Node) AttributeSupplier {
	depth := h5path.Depth(n.Path) - 1
	return func(d int, seg Segment) store.Metadata {
		if d != depth {
			return nil
		}
		return nodeMetadata(n)
	}
}

// EnsurePath creates or reuses one folder per segment below rootID and
// returns the deepest one (rootID itself when segs is empty). Supplied
// metadata is merged, overwriting same keys.
func EnsurePath(ctx context.Context, st store.Store, rootID string, segs []Segment, supply AttributeSupplier, actor string) (*store.Entry, error) {
	cur, err := st.Get(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("%w: destination root %s: %w", ErrInvalidArgument, rootID, err)
	}
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, _, err := st.EnsureFolder(ctx, cur.ID, seg.Name, actor)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, fmt.Errorf("%w: %w", ErrStructuralConflict, err)
			}
			return nil, fmt.Errorf("ensure folder %q: %w", seg.Name, err)
		}
		if supply != nil {
			if meta := supply(i, seg); len(meta) > 0 {
				if next, err = st.SaveMeta(ctx, next.ID, meta); err != nil {
					return nil, fmt.Errorf("save metadata of %q: %w", seg.Name, err)
				}
			}
		}
		cur = next
	}
	return cur, nil
}

// nodeMetadata is the metadata a group or dataset contributes: its
// attributes in declaration order, then its internal path.
func nodeMetadata(n *source.Node) store.Metadata {
	attrs := source.AttributesOf(n)
	meta := make(store.Metadata, len(attrs)+1)
	for _, a := range attrs {
		meta[a.Name] = source.MetadataValue(a.Value)
	}
	meta[api.KeySourceInternalPath] = h5path.Clean(n.Path)
	return meta
}
