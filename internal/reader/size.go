package reader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/h5mirror/api"
	"github.com/agentic-research/h5mirror/internal/mirror"
	"github.com/agentic-research/h5mirror/internal/npy"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

// ContentSize is the number of bytes Content would yield for the item. For
// reference blobs it is derived from the recorded shape and dtype without
// touching the source; if those are unusable the payload is regenerated.
func (r *Reader) ContentSize(ctx context.Context, itemID string) (int64, error) {
	e, err := r.Store.Get(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if e.Kind != store.KindItem {
		return 0, fmt.Errorf("%w: %s is a folder", mirror.ErrInvalidArgument, itemID)
	}
	blob, err := r.Store.Blob(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if blob.Mode == store.BlobMaterialized {
		return blob.Size, nil
	}

	shape, okShape := shapeOf(e.Meta[api.KeyShape])
	dtype, okType := e.Meta[api.KeyDType].(string)
	if okShape && okType {
		return int64(len(npy.Header(&source.Array{Shape: shape, DType: dtype}))) + blob.Size, nil
	}
	s, err := r.Content(ctx, itemID)
	if err != nil {
		return 0, err
	}
	defer func() { _ = s.Close() }()
	return s.Size(), nil
}

// shapeOf accepts a shape as written by the mirror or as read back from a
// JSON-backed store.
func shapeOf(v any) ([]uint64, bool) {
	switch s := v.(type) {
	case []uint64:
		return s, true
	case []any:
		out := make([]uint64, len(s))
		for i, d := range s {
			switch n := d.(type) {
			case float64:
				if n < 0 || n != float64(uint64(n)) {
					return nil, false
				}
				out[i] = uint64(n)
			case json.Number:
				u, err := n.Int64()
				if err != nil || u < 0 {
					return nil, false
				}
				out[i] = uint64(u)
			case int64:
				if n < 0 {
					return nil, false
				}
				out[i] = uint64(n)
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
