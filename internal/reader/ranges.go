package reader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentic-research/h5mirror/internal/mirror"
)

// ParseRange reads a single HTTP byte range ("bytes=a-b", "bytes=a-" or
// "bytes=-n") against a payload of size bytes. The returned length may be
// negative, meaning "to the end".
func ParseRange(header string, size int64) (offset, length int64, err error) {
	rng, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(rng, ",") {
		return 0, 0, fmt.Errorf("%w: range %q", mirror.ErrInvalidArgument, header)
	}
	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: range %q", mirror.ErrInvalidArgument, header)
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("%w: suffix range %q", mirror.ErrInvalidArgument, header)
		}
		if n > size {
			n = size
		}
		return size - n, n, nil
	}

	offset, err = strconv.ParseInt(first, 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("%w: range start %q", mirror.ErrInvalidArgument, header)
	}
	if last == "" {
		return offset, -1, nil
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < offset {
		return 0, 0, fmt.Errorf("%w: range end %q", mirror.ErrInvalidArgument, header)
	}
	return offset, end - offset + 1, nil
}

// Window turns an optional inclusive start and exclusive end into an offset
// and length. A nil end reads to the end.
func Window(start, end *int64, size int64) (offset, length int64, err error) {
	if start != nil {
		offset = *start
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("%w: negative start %d", mirror.ErrInvalidArgument, offset)
	}
	if end == nil {
		return offset, -1, nil
	}
	e := min(*end, size)
	if e <= offset {
		return offset, 0, nil
	}
	return offset, e - offset, nil
}
