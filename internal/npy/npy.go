// Package npy writes arrays in the NumPy .npy format (version 1.0), the
// self-describing container used for dataset payloads.
package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agentic-research/h5mirror/internal/source"
)

const (
	magic     = "\x93NUMPY"
	alignment = 64
)

// ErrShapeMismatch is returned when an array's data length disagrees with
// its shape and element size.
var ErrShapeMismatch = errors.New("npy: data length does not match shape")

// Header returns the full preamble (magic, version, length, dict, padding).
func Header(a *source.Array) []byte {
	var dict strings.Builder
	dict.WriteString("{'descr': '")
	dict.WriteString(a.DType)
	dict.WriteString("', 'fortran_order': False, 'shape': ")
	dict.WriteString(shapeTuple(a.Shape))
	dict.WriteString(", }")

	// magic(6) + version(2) + len(2) + dict + padding + '\n'
	pre := len(magic) + 2 + 2
	total := pre + dict.Len() + 1
	if rem := total % alignment; rem != 0 {
		total += alignment - rem
	}
	hlen := total - pre

	out := make([]byte, 0, total)
	out = append(out, magic...)
	out = append(out, 1, 0)
	out = binary.LittleEndian.AppendUint16(out, uint16(hlen))
	out = append(out, dict.String()...)
	for len(out) < total-1 {
		out = append(out, ' ')
	}
	return append(out, '\n')
}

func shapeTuple(shape []uint64) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.FormatUint(shape[0], 10) + ",)"
	}
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.FormatUint(d, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// EncodedSize is the number of bytes Encode writes for a.
func EncodedSize(a *source.Array) int64 {
	return int64(len(Header(a))) + int64(len(a.Data))
}

// Encode writes a to w and returns the number of bytes written.
func Encode(w io.Writer, a *source.Array) (int64, error) {
	if size, err := elementSize(a.DType); err == nil && uint64(len(a.Data)) != a.Len()*uint64(size) {
		return 0, fmt.Errorf("%w: shape %v, %d bytes of %s", ErrShapeMismatch, a.Shape, len(a.Data), a.DType)
	}
	n, err := w.Write(Header(a))
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(a.Data)
	return int64(n + m), err
}

// Bytes returns the encoded form of a.
func Bytes(a *source.Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(EncodedSize(a)))
	if _, err := Encode(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// elementSize parses the byte width out of a descriptor like "<f8" or "|u1".
func elementSize(descr string) (int, error) {
	if len(descr) < 3 {
		return 0, fmt.Errorf("npy: bad descriptor %q", descr)
	}
	return strconv.Atoi(descr[2:])
}
