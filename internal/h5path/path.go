// Package h5path splits slash-delimited HDF5 internal paths into segments.
// All functions are pure string logic.
package h5path

import (
	"errors"
	"strings"
)

// ErrInvalidArgument is returned for paths that cannot name a leaf.
var ErrInvalidArgument = errors.New("invalid internal path")

// Segments returns the non-empty tokens of p in order.
// Leading, trailing and repeated slashes are tolerated: "/a//b/" → ["a", "b"].
func Segments(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Join is the inverse of Segments. It always returns a rooted path.
func Join(segments ...string) string {
	return "/" + strings.Join(segments, "/")
}

// Clean returns the canonical rooted form of p.
func Clean(p string) string {
	return Join(Segments(p)...)
}

// SplitLeaf splits p into its parent directory and final segment.
// "/a/b/c" → ("/a/b", "c"); "/c" → ("/", "c").
func SplitLeaf(p string) (dir, leaf string, err error) {
	segs := Segments(p)
	if len(segs) == 0 {
		return "", "", ErrInvalidArgument
	}
	return Join(segs[:len(segs)-1]...), segs[len(segs)-1], nil
}

// Base returns the final segment of p, or "" for the root.
func Base(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Depth is the number of segments in p.
func Depth(p string) int {
	return len(Segments(p))
}

// IsWithin reports whether p equals dir or lies below it.
func IsWithin(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}
