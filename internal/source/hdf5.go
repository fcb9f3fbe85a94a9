package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/scigolib/hdf5"

	"github.com/agentic-research/h5mirror/internal/h5path"
)

// hdf5File adapts a scigolib/hdf5 file to File.
//
// The library walks the object tree with a callback that cannot stop early,
// so the tree is indexed once at open and Walk replays the index. Describing
// a dataset reads only its object header; the payload is read by ReadArray,
// which decodes through float64 and re-encodes to the source element type.
type hdf5File struct {
	path  string
	f     *hdf5.File
	order []string
	objs  map[string]hdf5.Object
}

// OpenHDF5 opens path as an HDF5 file. It is the default Opener.
func OpenHDF5(path string) (File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrNotHDF5, err)
	}
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrNotHDF5, err)
	}

	h := &hdf5File{
		path: path,
		f:    f,
		objs: make(map[string]hdf5.Object),
	}
	f.Walk(func(p string, obj hdf5.Object) {
		p = h5path.Clean(p)
		if _, seen := h.objs[p]; seen {
			return
		}
		h.order = append(h.order, p)
		h.objs[p] = obj
	})
	if _, ok := h.objs["/"]; !ok {
		h.order = append([]string{"/"}, h.order...)
	}
	return h, nil
}

func (h *hdf5File) Path() string { return h.path }

func (h *hdf5File) Walk(ctx context.Context, fn WalkFunc) error {
	skip := ""
	for _, p := range h.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if skip != "" && h5path.IsWithin(p, skip) {
			continue
		}
		skip = ""

		n, err := h.describe(p)
		if err := fn(n, err); err != nil {
			if err == SkipSubtree {
				skip = p
				continue
			}
			return err
		}
	}
	return nil
}

func (h *hdf5File) Lookup(internalPath string) (*Node, error) {
	p := h5path.Clean(internalPath)
	if _, ok := h.objs[p]; !ok && p != "/" {
		return nil, fmt.Errorf("%s: %w", internalPath, ErrNoSuchDataset)
	}
	return h.describe(p)
}

func (h *hdf5File) ReadArray(internalPath string) (*Array, error) {
	p := h5path.Clean(internalPath)
	ds, ok := h.objs[p].(*hdf5.Dataset)
	if !ok {
		return nil, fmt.Errorf("%s: %w", internalPath, ErrNoSuchDataset)
	}
	info, err := datasetInfo(ds)
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", internalPath, err)
	}
	put, ok := encoders[info.DType]
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", internalPath, ErrUnsupportedType, info.DType)
	}
	values, err := ds.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", internalPath, ErrUnsupportedType, err)
	}

	a := &Array{Shape: info.Shape, DType: info.DType}
	if uint64(len(values)) != a.Len() {
		return nil, fmt.Errorf("%s: read %d elements, header declares shape %v", internalPath, len(values), info.Shape)
	}
	width := int(info.ByteSize) / max(len(values), 1)
	a.Data = make([]byte, int(info.ByteSize))
	for i, v := range values {
		put(a.Data[i*width:], v)
	}
	return a, nil
}

func (h *hdf5File) Close() error {
	return h.f.Close()
}

// describe builds the Node for p from object headers only. On error the
// returned node still carries Path and Kind.
func (h *hdf5File) describe(p string) (*Node, error) {
	switch obj := h.objs[p].(type) {
	case *hdf5.Dataset:
		n := &Node{Path: p, Kind: KindDataset}
		attrs, err := obj.Attributes()
		addAttributeError(n, err)
		for _, a := range attrs {
			v, err := a.ReadValue()
			addAttribute(n, a.Name, v, err)
		}
		info, err := datasetInfo(obj)
		if err != nil {
			return n, fmt.Errorf("read header of %s: %w", p, err)
		}
		n.Dataset = info
		if _, ok := encoders[info.DType]; !ok {
			return n, fmt.Errorf("%s: %w: %s", p, ErrUnsupportedType, info.DType)
		}
		return n, nil
	case *hdf5.Group:
		n := &Node{Path: p, Kind: KindGroup}
		attrs, err := obj.Attributes()
		addAttributeError(n, err)
		for _, a := range attrs {
			v, err := a.ReadValue()
			addAttribute(n, a.Name, v, err)
		}
		return n, nil
	default:
		// Root without an object, or a kind the library does not expose.
		return &Node{Path: p, Kind: KindGroup}, nil
	}
}

// Attributes the library cannot decode are recorded on the node and left
// out; they never fail it.
func addAttribute(n *Node, name string, v any, err error) {
	if err != nil {
		n.AttributeErrors = append(n.AttributeErrors, fmt.Errorf("attribute %s: %w", name, err))
		return
	}
	n.Attributes = append(n.Attributes, Attribute{Name: name, Value: v})
}

func addAttributeError(n *Node, err error) {
	if err != nil {
		n.AttributeErrors = append(n.AttributeErrors, fmt.Errorf("read attributes: %w", err))
	}
}

// Dataset.Info renders the object header as
//
//	Dataset: float (size=8 bytes), 2D array [2 x 3], contiguous (address=0x320, size=48)
//
// and is the only header view the library exports.
var (
	infoType  = regexp.MustCompile(`^Dataset: (\w+) \(size=(\d+) bytes\)`)
	infoSpace = regexp.MustCompile(`, (scalar|null|\d+D array \[([^\]]*)\])`)
)

func datasetInfo(ds *hdf5.Dataset) (*DatasetInfo, error) {
	s, err := ds.Info()
	if err != nil {
		return nil, err
	}
	return parseInfo(s)
}

func parseInfo(s string) (*DatasetInfo, error) {
	t := infoType.FindStringSubmatch(s)
	if t == nil {
		return nil, fmt.Errorf("unrecognised dataset header %q", s)
	}
	size, err := strconv.Atoi(t[2])
	if err != nil {
		return nil, fmt.Errorf("element size in %q: %w", s, err)
	}
	sp := infoSpace.FindStringSubmatch(s)
	if sp == nil {
		return nil, fmt.Errorf("unrecognised dataspace in %q", s)
	}

	shape := []uint64{}
	switch sp[1] {
	case "scalar":
	case "null":
		shape = []uint64{0}
	default:
		for _, f := range strings.Fields(sp[2]) {
			if f == "x" {
				continue
			}
			d, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("dimension in %q: %w", s, err)
			}
			shape = append(shape, d)
		}
	}

	elems := uint64(1)
	for _, d := range shape {
		elems *= d
	}
	return &DatasetInfo{
		Shape:    shape,
		DType:    descriptor(t[1], size),
		ByteSize: int64(elems) * int64(size),
	}, nil
}

// descriptor maps an HDF5 type class and width to a NumPy descriptor.
// Values are served little-endian whatever the stored byte order.
func descriptor(class string, size int) string {
	w := strconv.Itoa(size)
	switch class {
	case "float":
		return "<f" + w
	case "integer":
		return "<i" + w
	case "string":
		return "|S" + w
	}
	return "|V" + w
}

// encoders covers the element types the library can decode.
var encoders = map[string]func(b []byte, v float64){
	"<f8": func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) },
	"<f4": func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v))) },
	"<i4": func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, uint32(int32(v))) },
	"<i8": func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, uint64(int64(v))) },
}

var _ File = (*hdf5File)(nil)
var _ Opener = OpenHDF5
