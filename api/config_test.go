package api

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "h5mirror.hcl")
	require.NoError(t, os.WriteFile(p, []byte(`
store    = "/srv/mirror.db"
eager    = true
actor    = "ops"
base_dir = "/data"
`), 0o644))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "/srv/mirror.db", cfg.Store)
	assert.Equal(t, "h5mirror-assets", cfg.Assets)
	assert.Equal(t, "/data", cfg.BaseDir)
	assert.Equal(t, "ops", cfg.Actor)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Eager)
}

func TestLoadConfig_JSONSyntax(t *testing.T) {
	p := filepath.Join(t.TempDir(), "h5mirror.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"store": "x.db", "log_level": "debug"}`), 0o644))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "x.db", cfg.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Eager)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(p, []byte(`unknown_key = 1`), 0o644))
	_, err = LoadConfig(p)
	assert.Error(t, err)
}
