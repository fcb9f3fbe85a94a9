// Package reader serves the bytes of mirrored items. Materialized blobs come
// from the asset store; reference blobs are regenerated from the source file
// on every open unless the Reader carries a payload cache.
package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/agentic-research/h5mirror/internal/assetstore"
	"github.com/agentic-research/h5mirror/internal/mirror"
	"github.com/agentic-research/h5mirror/internal/npy"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

// ChunkSize bounds every chunk a Stream yields.
const ChunkSize = 65536

// ErrConsumed is yielded when Chunks is iterated a second time.
var ErrConsumed = errors.New("stream already consumed")

// Reader opens byte ranges of items.
type Reader struct {
	Store  store.Store
	Assets *assetstore.Store // needed only for materialized blobs
	Open   source.Opener     // defaults to source.OpenHDF5
	Logger *zap.Logger

	// Cache, when set, keeps regenerated reference payloads by item ID.
	// Cached payloads do not see later changes to the source file.
	Cache *lru.Cache[string, []byte]
}

// Content opens the whole payload of an item.
func (r *Reader) Content(ctx context.Context, itemID string) (*Stream, error) {
	return r.OpenByteRange(ctx, itemID, 0, -1)
}

// OpenByteRange opens length bytes of the item's payload starting at offset.
// A negative length reads to the end. Ranges past the end are clipped; an
// offset at or beyond the end yields no bytes.
func (r *Reader) OpenByteRange(ctx context.Context, itemID string, offset, length int64) (*Stream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", mirror.ErrInvalidArgument, offset)
	}
	e, err := r.Store.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if e.Kind != store.KindItem {
		return nil, fmt.Errorf("%w: %s is a folder", mirror.ErrInvalidArgument, itemID)
	}
	blob, err := r.Store.Blob(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var body io.ReadSeeker
	var size int64
	var closer io.Closer
	switch blob.Mode {
	case store.BlobMaterialized:
		f, err := r.openAsset(ctx, blob)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close() // ignore error
			return nil, fmt.Errorf("stat asset of %s: %w", itemID, err)
		}
		body, size, closer = f, fi.Size(), f
	default:
		payload, err := r.payload(blob)
		if err != nil {
			return nil, err
		}
		body, size = bytes.NewReader(payload), int64(len(payload))
	}

	offset, length = clip(offset, length, size)
	if _, err := body.Seek(offset, io.SeekStart); err != nil {
		if closer != nil {
			_ = closer.Close() // ignore error
		}
		return nil, fmt.Errorf("seek %s to %d: %w", itemID, offset, err)
	}
	r.logger().Debug("open range",
		zap.String("item", itemID),
		zap.Stringer("mode", blob.Mode),
		zap.Int64("offset", offset),
		zap.Int64("length", length),
		zap.Int64("size", size),
	)
	return &Stream{
		ctx:    ctx,
		size:   size,
		length: length,
		r:      io.LimitReader(body, length),
		closer: closer,
	}, nil
}

func (r *Reader) openAsset(ctx context.Context, blob *store.Blob) (afero.File, error) {
	if r.Assets == nil {
		return nil, fmt.Errorf("%w: materialized blob %s without an asset store", mirror.ErrInvalidArgument, blob.ItemID)
	}
	f, err := r.Assets.Open(ctx, blob.AssetKey)
	if err != nil {
		if errors.Is(err, assetstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: asset %s of %s: %w", mirror.ErrDatasetMissing, blob.AssetKey, blob.ItemID, err)
		}
		return nil, err
	}
	return f, nil
}

func (r *Reader) payload(blob *store.Blob) ([]byte, error) {
	if r.Cache != nil {
		if p, ok := r.Cache.Get(blob.ItemID); ok {
			return p, nil
		}
	}
	p, err := r.regenerate(blob)
	if err != nil {
		return nil, err
	}
	if r.Cache != nil {
		r.Cache.Add(blob.ItemID, p)
	}
	return p, nil
}

// regenerate reads the dataset the blob points at and serializes it. The
// source handle is closed before returning.
func (r *Reader) regenerate(blob *store.Blob) ([]byte, error) {
	open := r.Open
	if open == nil {
		open = source.OpenHDF5
	}
	src, err := open(blob.SourceFilePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mirror.ErrDatasetMissing, blob.SourceFilePath, err)
	}
	defer func() { _ = src.Close() }() // read-only handle

	arr, err := src.ReadArray(blob.SourceInternalPath)
	if err != nil {
		if errors.Is(err, source.ErrNoSuchDataset) {
			return nil, fmt.Errorf("%w: %s in %s: %w", mirror.ErrDatasetMissing, blob.SourceInternalPath, blob.SourceFilePath, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", mirror.ErrSourceUnreadable, blob.SourceInternalPath, err)
	}
	payload, err := npy.Bytes(arr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", mirror.ErrSourceUnreadable, blob.SourceInternalPath, err)
	}
	return payload, nil
}

func (r *Reader) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func clip(offset, length, size int64) (int64, int64) {
	if offset >= size {
		return size, 0
	}
	if length < 0 || length > size-offset {
		length = size - offset
	}
	return offset, length
}

// Stream is one opened range. Read and Chunks draw from the same window.
type Stream struct {
	ctx    context.Context
	size   int64
	length int64
	r      io.Reader
	closer io.Closer

	mu       sync.Mutex
	consumed bool

	closeOnce sync.Once
	closeErr  error
}

// Size is the full payload size of the item.
func (s *Stream) Size() int64 { return s.size }

// Len is the number of bytes the window holds.
func (s *Stream) Len() int64 { return s.length }

func (s *Stream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return s.r.Read(p)
}

// Chunks yields the window in pieces of at most ChunkSize bytes. It can be
// ranged over once; the stream is closed when the loop ends, including on
// break.
func (s *Stream) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		s.mu.Lock()
		consumed := s.consumed
		s.consumed = true
		s.mu.Unlock()
		if consumed {
			yield(nil, ErrConsumed)
			return
		}
		defer func() { _ = s.Close() }()
		for {
			buf := make([]byte, ChunkSize)
			n, err := io.ReadFull(s, buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			switch {
			case err == io.EOF || err == io.ErrUnexpectedEOF:
				return
			case err != nil:
				yield(nil, err)
				return
			}
		}
	}
}

// WriteTo copies the rest of the window to w.
func (s *Stream) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for chunk, err := range s.Chunks() {
		if err != nil {
			return total, err
		}
		n, err := w.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close releases the underlying asset handle. It is safe to call more than
// once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}
