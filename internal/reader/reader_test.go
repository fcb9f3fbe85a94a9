package reader

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/afero/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/h5mirror/internal/assetstore"
	"github.com/agentic-research/h5mirror/internal/mirror"
	"github.com/agentic-research/h5mirror/internal/npy"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

type fixture struct {
	tree   *source.Tree
	st     store.Store
	assets *assetstore.Store
	itemID string
	want   []byte
}

// newFixture mirrors one dataset whose serialized form is exactly 1000 bytes
// (128-byte header plus 109 float64 values).
func newFixture(t *testing.T, eager bool) *fixture {
	t.Helper()
	values := make([]float64, 109)
	for i := range values {
		values[i] = float64(i) * 0.5
	}
	f := &fixture{
		tree:   source.NewTree("/data/ranges.h5").AddDataset("/grp/d", []uint64{109}, values),
		st:     store.NewMemoryStore(),
		assets: assetstore.NewMem(),
	}
	ctx := context.Background()
	_, err := mirror.Import(ctx, mirror.Config{
		Destination: mirror.Destination{Store: f.st, Assets: f.assets, Eager: eager},
		SourcePath:  f.tree.Path(),
		Open:        f.tree.Opener(),
	})
	require.NoError(t, err)

	item, err := store.Resolve(ctx, f.st, store.RootID, "/grp/d")
	require.NoError(t, err)
	f.itemID = item.ID

	arr, err := f.tree.ReadArray("/grp/d")
	require.NoError(t, err)
	f.want, err = npy.Bytes(arr)
	require.NoError(t, err)
	require.Len(t, f.want, 1000)
	return f
}

func (f *fixture) reader() *Reader {
	return &Reader{Store: f.st, Assets: f.assets, Open: f.tree.Opener()}
}

func readAll(t *testing.T, s *Stream) []byte {
	t.Helper()
	var buf bytes.Buffer
	for chunk, err := range s.Chunks() {
		require.NoError(t, err)
		require.LessOrEqual(t, len(chunk), ChunkSize)
		buf.Write(chunk)
	}
	require.NoError(t, s.Close())
	return buf.Bytes()
}

func TestOpenByteRange_Windows(t *testing.T) {
	for _, eager := range []bool{false, true} {
		f := newFixture(t, eager)
		r := f.reader()
		cases := []struct {
			name           string
			offset, length int64
			want           []byte
		}{
			{"whole", 0, -1, f.want},
			{"middle", 200, 300, f.want[200:500]},
			{"clipped", 900, 500, f.want[900:]},
			{"at end", 1000, 10, nil},
			{"past end", 5000, -1, nil},
			{"empty", 10, 0, nil},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				s, err := r.OpenByteRange(context.Background(), f.itemID, tc.offset, tc.length)
				require.NoError(t, err)
				assert.Equal(t, int64(1000), s.Size())
				assert.Equal(t, int64(len(tc.want)), s.Len())
				got := readAll(t, s)
				assert.Equal(t, len(tc.want), len(got))
				if len(tc.want) > 0 {
					assert.Equal(t, tc.want, got)
				}
			})
		}
		assert.Zero(t, f.tree.OpenHandles())
	}
}

func TestOpenByteRange_NegativeOffset(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.reader().OpenByteRange(context.Background(), f.itemID, -1, 10)
	assert.ErrorIs(t, err, mirror.ErrInvalidArgument)
}

func TestOpenByteRange_Folder(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.reader().OpenByteRange(context.Background(), store.RootID, 0, -1)
	assert.ErrorIs(t, err, mirror.ErrInvalidArgument)
}

func TestOpenByteRange_UnknownItem(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.reader().OpenByteRange(context.Background(), "nope", 0, -1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpenByteRange_DatasetRemovedFromSource(t *testing.T) {
	f := newFixture(t, false)
	f.tree.Remove("/grp/d")

	_, err := f.reader().OpenByteRange(context.Background(), f.itemID, 0, -1)
	assert.ErrorIs(t, err, mirror.ErrDatasetMissing)
	assert.Zero(t, f.tree.OpenHandles())
}

func TestOpenByteRange_SourceFileGone(t *testing.T) {
	f := newFixture(t, false)
	r := f.reader()
	r.Open = func(string) (source.File, error) { return nil, io.ErrUnexpectedEOF }

	_, err := r.OpenByteRange(context.Background(), f.itemID, 0, -1)
	assert.ErrorIs(t, err, mirror.ErrDatasetMissing)
}

func TestOpenByteRange_MaterializedIgnoresSource(t *testing.T) {
	f := newFixture(t, true)
	f.tree.Remove("/grp/d")

	s, err := f.reader().Content(context.Background(), f.itemID)
	require.NoError(t, err)
	assert.Equal(t, f.want, readAll(t, s))
}

func TestOpenByteRange_MaterializedAssetMissing(t *testing.T) {
	f := newFixture(t, true)
	blob, err := f.st.Blob(context.Background(), f.itemID)
	require.NoError(t, err)
	require.NoError(t, f.assets.Delete(context.Background(), blob.AssetKey))

	_, err = f.reader().Content(context.Background(), f.itemID)
	assert.ErrorIs(t, err, mirror.ErrDatasetMissing)
}

func TestStream_ChunksSinglePass(t *testing.T) {
	f := newFixture(t, false)
	s, err := f.reader().Content(context.Background(), f.itemID)
	require.NoError(t, err)
	assert.Len(t, readAll(t, s), 1000)

	for chunk, err := range s.Chunks() {
		assert.Nil(t, chunk)
		assert.ErrorIs(t, err, ErrConsumed)
	}
}

type countingCloser struct {
	io.Reader
	closed int
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestStream_ChunksClosesWhenDone(t *testing.T) {
	for _, stop := range []bool{true, false} {
		body := &countingCloser{Reader: bytes.NewReader(make([]byte, 3*ChunkSize))}
		s := &Stream{ctx: context.Background(), size: 3 * ChunkSize, length: 3 * ChunkSize, r: body, closer: body}

		n := 0
		for _, err := range s.Chunks() {
			require.NoError(t, err)
			n++
			if stop {
				break
			}
		}
		assert.Equal(t, 1, body.closed, "break=%v", stop)
		if !stop {
			assert.Equal(t, 3, n)
		}

		require.NoError(t, s.Close())
		assert.Equal(t, 1, body.closed)
	}
}

func TestStream_MaterializedBreakReleasesAsset(t *testing.T) {
	ctx := context.Background()
	values := make([]float64, 2*ChunkSize/8)
	tree := source.NewTree("/big.h5").AddDataset("/big", []uint64{uint64(len(values))}, values)
	st, assets := store.NewMemoryStore(), assetstore.NewMem()
	_, err := mirror.Import(ctx, mirror.Config{
		Destination: mirror.Destination{Store: st, Assets: assets, Eager: true},
		SourcePath:  tree.Path(),
		Open:        tree.Opener(),
	})
	require.NoError(t, err)
	item, err := store.Resolve(ctx, st, store.RootID, "/big")
	require.NoError(t, err)

	s, err := (&Reader{Store: st, Assets: assets}).Content(ctx, item.ID)
	require.NoError(t, err)
	for range s.Chunks() {
		break
	}

	_, err = s.Read(make([]byte, 10))
	assert.ErrorIs(t, err, mem.ErrFileClosed)
	assert.NoError(t, s.Close())
}

func TestStream_Read(t *testing.T) {
	f := newFixture(t, true)
	s, err := f.reader().OpenByteRange(context.Background(), f.itemID, 100, 50)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, f.want[100:150], got)
}

func TestStream_ReadAfterCancel(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	s, err := f.reader().Content(ctx, f.itemID)
	require.NoError(t, err)
	cancel()

	_, err = s.Read(make([]byte, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_LargeChunks(t *testing.T) {
	values := make([]float64, 3*ChunkSize/8)
	tree := source.NewTree("/big.h5").AddDataset("/big", []uint64{uint64(len(values))}, values)
	st := store.NewMemoryStore()
	_, err := mirror.Import(context.Background(), mirror.Config{
		Destination: mirror.Destination{Store: st},
		SourcePath:  tree.Path(),
		Open:        tree.Opener(),
	})
	require.NoError(t, err)
	item, err := store.Resolve(context.Background(), st, store.RootID, "/big")
	require.NoError(t, err)

	s, err := (&Reader{Store: st, Open: tree.Opener()}).Content(context.Background(), item.ID)
	require.NoError(t, err)
	var sizes []int
	for chunk, err := range s.Chunks() {
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
	}
	// 128-byte header pushes the tail into a fourth chunk.
	assert.Equal(t, []int{ChunkSize, ChunkSize, ChunkSize, 128}, sizes)
}

func TestContentSize(t *testing.T) {
	for _, eager := range []bool{false, true} {
		f := newFixture(t, eager)
		n, err := f.reader().ContentSize(context.Background(), f.itemID)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), n)
	}
}

func TestContentSize_FallsBackToPayload(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.st.SaveMeta(context.Background(), f.itemID, store.Metadata{"shape": "unknown"})
	require.NoError(t, err)

	n, err := f.reader().ContentSize(context.Background(), f.itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
	assert.Zero(t, f.tree.OpenHandles())
}

func TestShapeOf(t *testing.T) {
	s, ok := shapeOf([]any{float64(10), float64(10)})
	require.True(t, ok)
	assert.Equal(t, []uint64{10, 10}, s)

	_, ok = shapeOf([]any{float64(-1)})
	assert.False(t, ok)
	_, ok = shapeOf("10x10")
	assert.False(t, ok)
}

func TestContentSize_SQLiteMetadata(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	tree := source.NewTree("/data/grid.h5").AddDataset("/g", []uint64{10, 10}, make([]float64, 100))
	_, err = mirror.Import(ctx, mirror.Config{
		Destination: mirror.Destination{Store: st},
		SourcePath:  tree.Path(),
		Open:        tree.Opener(),
	})
	require.NoError(t, err)
	item, err := store.Resolve(ctx, st, store.RootID, "/g")
	require.NoError(t, err)

	r := &Reader{Store: st, Open: tree.Opener()}
	n, err := r.ContentSize(ctx, item.ID)
	require.NoError(t, err)

	s, err := r.Content(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Size(), n)
	assert.Len(t, readAll(t, s), int(n))
}

func TestContent_HDF5File(t *testing.T) {
	ctx := context.Background()
	path, err := filepath.Abs(filepath.Join("..", "source", "testdata", "matrix_2x3.h5"))
	require.NoError(t, err)

	st := store.NewMemoryStore()
	_, err = mirror.Import(ctx, mirror.Config{
		Destination: mirror.Destination{Store: st},
		SourcePath:  path,
	})
	require.NoError(t, err)
	item, err := store.Resolve(ctx, st, store.RootID, "/matrix")
	require.NoError(t, err)

	src, err := source.OpenHDF5(path)
	require.NoError(t, err)
	arr, err := src.ReadArray("/matrix")
	require.NoError(t, err)
	require.NoError(t, src.Close())
	want, err := npy.Bytes(arr)
	require.NoError(t, err)
	assert.Contains(t, string(want), "'shape': (2, 3)")

	r := &Reader{Store: st}
	s, err := r.Content(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, want, readAll(t, s))

	n, err := r.ContentSize(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(len(want)), n)
}
