// Package api holds the public configuration and metadata contract of h5mirror.
package api

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the optional HCL configuration file. Every field can also be
// set by a command-line flag, which wins over the file.
//
//	store     = "/var/lib/h5mirror/store.db"
//	assets    = "/var/lib/h5mirror/assets"
//	base_dir  = "/data"
//	eager     = false
//	actor     = "importer"
//	log_level = "info"
type Config struct {
	// Store is the SQLite database holding the mirrored hierarchy.
	Store string `hcl:"store,optional"`
	// Assets is the directory for materialized blob bytes.
	Assets string `hcl:"assets,optional"`
	// BaseDir resolves relative source paths.
	BaseDir string `hcl:"base_dir,optional"`
	// Eager materializes dataset payloads at import time instead of
	// reading them from the source on each download.
	Eager    bool   `hcl:"eager,optional"`
	Actor    string `hcl:"actor,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

// DefaultConfig is used when no file is given.
func DefaultConfig() Config {
	return Config{
		Store:    "h5mirror.db",
		Assets:   "h5mirror-assets",
		LogLevel: "info",
	}
}

// LoadConfig decodes path over DefaultConfig. Unset attributes keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	src, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	var file Config
	// hclsimple picks the syntax from the file name.
	name := "config.hcl"
	if filepath.Ext(path) == ".json" {
		name = "config.json"
	}
	if err := hclsimple.Decode(name, src, nil, &file); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if file.Store != "" {
		cfg.Store = file.Store
	}
	if file.Assets != "" {
		cfg.Assets = file.Assets
	}
	if file.BaseDir != "" {
		cfg.BaseDir = file.BaseDir
	}
	if file.Actor != "" {
		cfg.Actor = file.Actor
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	cfg.Eager = file.Eager
	return cfg, nil
}
