package store

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// WalkFunc receives each entry with its slash path relative to the walk root.
type WalkFunc func(p string, e *Entry) error

// Walk visits rootID and everything below it in pre-order, children by name.
func Walk(ctx context.Context, s Store, rootID string, fn WalkFunc) error {
	root, err := s.Get(ctx, rootID)
	if err != nil {
		return err
	}
	return walk(ctx, s, "/", root, fn)
}

func walk(ctx context.Context, s Store, p string, e *Entry, fn WalkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(p, e); err != nil {
		return err
	}
	if e.Kind != KindFolder {
		return nil
	}
	children, err := s.Children(ctx, e.ID)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := walk(ctx, s, path.Join(p, c.Name), c, fn); err != nil {
			return err
		}
	}
	return nil
}

// Resolve follows a slash path of names from rootID.
func Resolve(ctx context.Context, s Store, rootID, p string) (*Entry, error) {
	e, err := s.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	for _, name := range splitPath(p) {
		if e.Kind != KindFolder {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		if e, err = s.Child(ctx, e.ID, name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func splitPath(p string) []string {
	var out []string
	for _, name := range strings.Split(p, "/") {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// SnapshotEntry is the comparable summary of one entry.
type SnapshotEntry struct {
	Path string     `json:"path"`
	ID   string     `json:"id"`
	Kind string     `json:"kind"`
	Meta Metadata   `json:"meta,omitempty"`
	Blob *BlobState `json:"blob,omitempty"`
}

// BlobState is the comparable summary of a blob.
type BlobState struct {
	Mode               string `json:"mode"`
	Size               int64  `json:"size"`
	AssetKey           string `json:"assetKey,omitempty"`
	SourceFilePath     string `json:"sourceFilePath"`
	SourceInternalPath string `json:"sourceInternalPath"`
}

// Snapshot dumps the subtree at rootID in walk order, without timestamps.
func Snapshot(ctx context.Context, s Store, rootID string) ([]SnapshotEntry, error) {
	var out []SnapshotEntry
	err := Walk(ctx, s, rootID, func(p string, e *Entry) error {
		se := SnapshotEntry{Path: p, ID: e.ID, Kind: e.Kind.String(), Meta: e.Meta}
		if len(se.Meta) == 0 {
			se.Meta = nil
		}
		if e.Kind == KindItem {
			b, err := s.Blob(ctx, e.ID)
			if err != nil {
				return err
			}
			se.Blob = &BlobState{
				Mode:               b.Mode.String(),
				Size:               b.Size,
				AssetKey:           b.AssetKey,
				SourceFilePath:     b.SourceFilePath,
				SourceInternalPath: b.SourceInternalPath,
			}
		}
		out = append(out, se)
		return nil
	})
	return out, err
}
