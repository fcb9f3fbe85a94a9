package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/h5mirror/internal/lock"
	"github.com/agentic-research/h5mirror/internal/npy"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func withSource(t *testing.T, tree *source.Tree) {
	t.Helper()
	prev := openSource
	openSource = tree.Opener()
	t.Cleanup(func() { openSource = prev })
}

func sampleTree() *source.Tree {
	return source.NewTree("/data/sample.h5").
		AddGroup("/grp1", source.Attribute{Name: "note", Value: "root child"}).
		AddDataset("/grp1/data1", []uint64{10, 10}, make([]float64, 100), source.Attribute{Name: "units", Value: "m"})
}

func TestImportListShow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "mirror.db")
	withSource(t, sampleTree())

	out, err := run(t, "import", "/data/sample.h5", "--db", db, "--log-level", "none")
	require.NoError(t, err)
	assert.Contains(t, out, "2 groups, 1 datasets, 0 skipped")

	out, err = run(t, "ls", "--db", db, "--log-level", "none")
	require.NoError(t, err)
	assert.Contains(t, out, "grp1/")
	assert.Contains(t, out, "data1")

	out, err = run(t, "show", "/grp1/data1", "--db", db, "--log-level", "none", "--query", "$.meta.units")
	require.NoError(t, err)
	assert.Equal(t, "\"m\"\n", out)

	out, err = run(t, "show", "/grp1/data1", "--db", db, "--log-level", "none")
	require.NoError(t, err)
	var view entryView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, "item", view.Kind)
	require.NotNil(t, view.Blob)
	assert.Equal(t, "reference", view.Blob.Mode)
	assert.Equal(t, "/grp1/data1", view.Blob.SourceInternalPath)
}

func TestImportTwiceKeepsTree(t *testing.T) {
	db := filepath.Join(t.TempDir(), "mirror.db")
	withSource(t, sampleTree())

	_, err := run(t, "import", "/data/sample.h5", "--db", db, "--log-level", "none")
	require.NoError(t, err)
	first, err := run(t, "ls", "--json", "--db", db, "--log-level", "none")
	require.NoError(t, err)

	_, err = run(t, "import", "/data/sample.h5", "--db", db, "--log-level", "none")
	require.NoError(t, err)
	second, err := run(t, "ls", "--json", "--db", db, "--log-level", "none")
	require.NoError(t, err)

	assert.JSONEq(t, first, second)
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "mirror.db")
	assets := filepath.Join(dir, "assets")
	tree := sampleTree()
	withSource(t, tree)

	arr, err := tree.ReadArray("/grp1/data1")
	require.NoError(t, err)
	want, err := npy.Bytes(arr)
	require.NoError(t, err)

	for _, eager := range []bool{false, true} {
		args := []string{"import", "/data/sample.h5", "--db", db, "--assets", assets, "--log-level", "none"}
		if eager {
			args = append(args, "--eager")
		}
		_, err := run(t, args...)
		require.NoError(t, err)

		out, err := run(t, "download", "/grp1/data1", "--db", db, "--assets", assets, "--log-level", "none")
		require.NoError(t, err)
		assert.Equal(t, want, []byte(out))

		out, err = run(t, "download", "/grp1/data1", "--db", db, "--assets", assets, "--log-level", "none", "--start", "10", "--end", "20")
		require.NoError(t, err)
		assert.Equal(t, want[10:20], []byte(out))

		out, err = run(t, "download", "/grp1/data1", "--db", db, "--assets", assets, "--log-level", "none", "--range", "bytes=-8")
		require.NoError(t, err)
		assert.Equal(t, want[len(want)-8:], []byte(out))

		file := filepath.Join(dir, "data1.npy")
		_, err = run(t, "download", "/grp1/data1", "--db", db, "--assets", assets, "--log-level", "none", "-o", file)
		require.NoError(t, err)
		got, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// closeFailFs creates files whose Close reports a deferred write error.
type closeFailFs struct{ afero.Fs }

func (fs closeFailFs) Create(name string) (afero.File, error) {
	f, err := fs.Fs.Create(name)
	return closeFailFile{f}, err
}

type closeFailFile struct{ afero.File }

func (f closeFailFile) Close() error {
	_ = f.File.Close()
	return errors.New("no space left on device")
}

func TestDownload_OutputCloseError(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "mirror.db")
	assets := filepath.Join(dir, "assets")
	withSource(t, sampleTree())

	_, err := run(t, "import", "/data/sample.h5", "--db", db, "--assets", assets, "--log-level", "none")
	require.NoError(t, err)

	prev := outputFs
	outputFs = closeFailFs{afero.NewMemMapFs()}
	t.Cleanup(func() { outputFs = prev })

	_, err = run(t, "download", "/grp1/data1", "--db", db, "--assets", assets, "--log-level", "none", "-o", "/out/data1.npy")
	require.Error(t, err)
	assert.ErrorContains(t, err, "no space left on device")
}

func TestWriteOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	n, err := writeOutput(fs, "/a.npy", strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	got, err := afero.ReadFile(fs, "/a.npy")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = writeOutput(closeFailFs{fs}, "/b.npy", strings.NewReader("payload"))
	assert.ErrorContains(t, err, "close output /b.npy")

	_, err = writeOutput(afero.NewReadOnlyFs(fs), "/c.npy", strings.NewReader("payload"))
	assert.ErrorContains(t, err, "create output")
}

func TestImportIntoFolder(t *testing.T) {
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "mirror.db")
	withSource(t, sampleTree())

	st, err := store.OpenSQLite(db)
	require.NoError(t, err)
	dest, _, err := st.EnsureFolder(ctx, store.RootID, "runs", "")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = run(t, "import", "/data/sample.h5", "--db", db, "--folder", "/runs", "--actor", "alice", "--log-level", "none")
	require.NoError(t, err)

	st, err = store.OpenSQLite(db)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	e, err := store.Resolve(ctx, st, dest.ID, "/grp1")
	require.NoError(t, err)
	assert.Equal(t, "alice", e.Creator)
}

func TestImportRefusesWhileLocked(t *testing.T) {
	db := filepath.Join(t.TempDir(), "mirror.db")
	withSource(t, sampleTree())

	lk, err := lock.Acquire(db + ".lock")
	require.NoError(t, err)
	defer func() { _ = lk.Release() }()

	_, err = run(t, "import", "/data/sample.h5", "--db", db, "--log-level", "none")
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "from-config.db")
	cfgFile := filepath.Join(dir, "h5mirror.hcl")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
store     = "`+db+`"
actor     = "config-actor"
log_level = "none"
`), 0o644))
	withSource(t, sampleTree())

	_, err := run(t, "import", "/data/sample.h5", "--config", cfgFile)
	require.NoError(t, err)
	_, err = os.Stat(db)
	require.NoError(t, err)

	out, err := run(t, "show", "/grp1", "--config", cfgFile, "--query", "$.creator")
	require.NoError(t, err)
	assert.Equal(t, "\"config-actor\"\n", out)
}

func TestBadLogLevel(t *testing.T) {
	_, err := run(t, "ls", "--db", filepath.Join(t.TempDir(), "x.db"), "--log-level", "loud")
	assert.Error(t, err)
}
