package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/agentic-research/h5mirror/api"
	"github.com/agentic-research/h5mirror/internal/h5path"
	"github.com/agentic-research/h5mirror/internal/npy"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

// MaterializeDataset mirrors one dataset node: it ensures the parent
// folders, then writes the item, its metadata and its blob as one unit.
// Re-running reuses the item, replaces the blob and merges the metadata.
func MaterializeDataset(ctx context.Context, dst Destination, src source.File, n *source.Node, ancestors []*source.Node) (*store.Entry, *store.Blob, error) {
	if !n.IsDataset() {
		return nil, nil, fmt.Errorf("%w: %s is not a dataset", ErrInvalidArgument, n.Path)
	}
	dir, leaf, err := h5path.SplitLeaf(n.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalidArgument, n.Path, err)
	}
	internalPath := h5path.Clean(n.Path)

	parent, err := EnsurePath(ctx, dst.Store, dst.RootID, Chain(dir, ancestors), nil, dst.Actor)
	if err != nil {
		return nil, nil, err
	}

	meta := nodeMetadata(n)
	meta[api.KeyShape] = append([]uint64(nil), n.Dataset.Shape...)
	meta[api.KeyDType] = n.Dataset.DType
	meta[api.KeyByteSize] = n.Dataset.ByteSize
	meta[api.KeySourceFilePath] = src.Path()

	blob := store.Blob{
		Name:               leaf,
		Mode:               store.BlobReference,
		Size:               n.Dataset.ByteSize,
		SourceFilePath:     src.Path(),
		SourceInternalPath: internalPath,
	}
	if dst.Eager {
		key := AssetKey(dst.RootID, src.Path(), internalPath)
		size, err := writeAsset(ctx, dst, src, internalPath, key)
		if err != nil {
			return nil, nil, err
		}
		blob.Mode = store.BlobMaterialized
		blob.AssetKey = key
		blob.Size = size
	}

	item, err := dst.Store.PutItem(ctx, store.ItemWrite{
		ParentID: parent.ID,
		Name:     leaf,
		Creator:  dst.Actor,
		Meta:     meta,
		Blob:     blob,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, fmt.Errorf("%w: %w", ErrStructuralConflict, err)
		}
		return nil, nil, fmt.Errorf("put item %q: %w", leaf, err)
	}
	blob.ItemID = item.ID
	return item, &blob, nil
}

// writeAsset reads the dataset and stores its serialized form under key.
func writeAsset(ctx context.Context, dst Destination, src source.File, internalPath, key string) (int64, error) {
	arr, err := src.ReadArray(internalPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	payload, err := npy.Bytes(arr)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSourceUnreadable, internalPath, err)
	}
	n, err := dst.Assets.Put(ctx, key, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("store payload: %w", err)
	}
	return n, nil
}

// AssetKey names the materialized payload of a dataset mirrored under rootID.
// It is stable across runs so a re-import overwrites rather than orphans.
func AssetKey(rootID, sourceFile, internalPath string) string {
	h := sha256.New()
	for _, s := range []string{rootID, sourceFile, internalPath} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
