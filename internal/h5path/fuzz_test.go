package h5path

import (
	"slices"
	"strings"
	"testing"
)

func FuzzSegments(f *testing.F) {
	f.Add("/a/b/c")
	f.Add("a//b/")
	f.Add("/")
	f.Add("")
	f.Add("/grp 1/data.1/")

	f.Fuzz(func(t *testing.T, p string) {
		segs := Segments(p)
		for _, s := range segs {
			if s == "" || strings.Contains(s, "/") {
				t.Fatalf("bad segment %q from %q", s, p)
			}
		}
		if got := Segments(Join(segs...)); !slices.Equal(got, segs) {
			t.Fatalf("Segments(Join(%q)) = %q", segs, got)
		}
		if Clean(Clean(p)) != Clean(p) {
			t.Fatalf("Clean not idempotent on %q", p)
		}

		dir, leaf, err := SplitLeaf(p)
		if len(segs) == 0 {
			if err == nil {
				t.Fatalf("SplitLeaf(%q) accepted an empty path", p)
			}
			return
		}
		if err != nil {
			t.Fatal(err)
		}
		if Join(append(Segments(dir), leaf)...) != Clean(p) {
			t.Fatalf("SplitLeaf(%q) = %q, %q", p, dir, leaf)
		}
		if !IsWithin(p, dir) {
			t.Fatalf("%q not within its parent %q", p, dir)
		}
	})
}
