package source

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioTree() *Tree {
	return NewTree("/data/sample.h5").
		AddGroup("/grp1", Attribute{Name: "note", Value: "root child"}).
		AddDataset("/grp1/data1", []uint64{10, 10}, make([]float64, 100), Attribute{Name: "units", Value: "m"}).
		AddGroup("/grp2").
		AddDataset("/grp2/sub/values", []uint64{3}, []float64{1, 2, 3})
}

func TestTree_WalkIsPreOrder(t *testing.T) {
	tree := scenarioTree()

	var got []string
	err := tree.Walk(context.Background(), func(n *Node, err error) error {
		require.NoError(t, err)
		got = append(got, n.Path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/grp1", "/grp1/data1", "/grp2", "/grp2/sub", "/grp2/sub/values"}, got)
}

func TestTree_SkipSubtree(t *testing.T) {
	tree := scenarioTree()

	var got []string
	err := tree.Walk(context.Background(), func(n *Node, err error) error {
		got = append(got, n.Path)
		if n.Path == "/grp2" {
			return SkipSubtree
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/grp1", "/grp1/data1", "/grp2"}, got)
}

func TestTree_WalkHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := scenarioTree().Walk(ctx, func(*Node, error) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTree_DatasetInfo(t *testing.T) {
	n, err := scenarioTree().Lookup("/grp1/data1")
	require.NoError(t, err)
	require.True(t, n.IsDataset())
	assert.Equal(t, []uint64{10, 10}, n.Dataset.Shape)
	assert.Equal(t, "<f8", n.Dataset.DType)
	assert.Equal(t, int64(800), n.Dataset.ByteSize)

	arr, err := scenarioTree().ReadArray("grp1/data1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), arr.Len())
	assert.Len(t, arr.Data, 800)
}

func TestTree_ReadArrayMissing(t *testing.T) {
	tree := scenarioTree()
	_, err := tree.ReadArray("/nope")
	assert.ErrorIs(t, err, ErrNoSuchDataset)

	_, err = tree.ReadArray("/grp1")
	assert.ErrorIs(t, err, ErrNoSuchDataset)

	tree.Remove("/grp1")
	_, err = tree.ReadArray("/grp1/data1")
	assert.ErrorIs(t, err, ErrNoSuchDataset)
}

func TestTree_FailRead(t *testing.T) {
	tree := scenarioTree()
	boom := errors.New("boom")
	tree.FailRead("/grp1/data1", boom)

	var walkErr error
	require.NoError(t, tree.Walk(context.Background(), func(n *Node, err error) error {
		if n.Path == "/grp1/data1" {
			walkErr = err
		}
		return nil
	}))
	assert.ErrorIs(t, walkErr, boom)

	_, err := tree.ReadArray("/grp1/data1")
	assert.ErrorIs(t, err, boom)
}

func TestTree_OpenerCountsHandles(t *testing.T) {
	tree := scenarioTree()
	open := tree.Opener()
	f, err := open("ignored")
	require.NoError(t, err)
	assert.Equal(t, 1, tree.OpenHandles())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 0, tree.OpenHandles())
}

func TestAttributesOf_StableOrder(t *testing.T) {
	n := &Node{Attributes: []Attribute{{"units", "K"}, {"long_name", "Temp"}}}
	first := AttributesOf(n)
	second := AttributesOf(n)
	assert.Equal(t, first, second)
	assert.Equal(t, "units", first[0].Name)
	assert.Equal(t, "long_name", first[1].Name)

	first[0].Name = "mutated"
	assert.Equal(t, "units", n.Attributes[0].Name)
	assert.Nil(t, AttributesOf(nil))
}

func TestMetadataValue(t *testing.T) {
	assert.Equal(t, "K", MetadataValue("K"))
	assert.Equal(t, "Temp", MetadataValue([]byte("Temp\x00\x00")))
	assert.Equal(t, 3.5, MetadataValue(3.5))
	assert.Equal(t, "NaN", MetadataValue(math.NaN()))
	assert.Equal(t, "+Inf", MetadataValue(math.Inf(1)))
	assert.Equal(t, int32(7), MetadataValue([]int32{7}))
	assert.Equal(t, []any{int64(1), int64(2)}, MetadataValue([]int64{1, 2}))
	assert.Equal(t, []any{"a", "b"}, MetadataValue([]string{"a", "b"}))
}

func TestOpenHDF5_RejectsNonHDF5(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(p, []byte("definitely not hdf5"), 0o644))

	_, err := OpenHDF5(p)
	assert.ErrorIs(t, err, ErrNotHDF5)

	_, err = OpenHDF5(filepath.Join(dir, "missing.h5"))
	assert.ErrorIs(t, err, ErrNotHDF5)
}

func TestTree_FailAttribute(t *testing.T) {
	tree := scenarioTree()
	tree.FailAttribute("/grp1", "version", errors.New("unsupported datatype class 9"))
	tree.FailAttribute("/nope", "ignored", errors.New("x"))

	n, err := tree.Lookup("/grp1")
	require.NoError(t, err)
	require.Len(t, n.AttributeErrors, 1)
	assert.ErrorContains(t, n.AttributeErrors[0], "version")
	assert.Equal(t, []Attribute{{"note", "root child"}}, n.Attributes)

	require.NoError(t, tree.Walk(context.Background(), func(n *Node, err error) error {
		assert.NoError(t, err, n.Path)
		return nil
	}))
}
