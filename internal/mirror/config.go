package mirror

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/agentic-research/h5mirror/internal/assetstore"
	"github.com/agentic-research/h5mirror/internal/progress"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

// Destination is where materializers write.
type Destination struct {
	Store  store.Store
	Assets *assetstore.Store // required when Eager
	RootID string
	Actor  string
	// Eager serializes dataset payloads into Assets at import time.
	// Otherwise blobs are references resolved from the source on read.
	Eager bool
}

// Config is everything one import run needs. It is passed per call; the
// package keeps no global state.
type Config struct {
	Destination

	// SourcePath is the file to mirror. Relative paths are resolved
	// against BaseDir when it is set, then made absolute.
	SourcePath string
	BaseDir    string

	Progress progress.Sink
	Open     source.Opener
	Logger   *zap.Logger

	// ContinueOnError skips the subtree of a failing node and keeps going.
	// The combined error is returned at the end.
	ContinueOnError bool
}

func (c Config) withDefaults() Config {
	if c.Progress == nil {
		c.Progress = progress.Nop{}
	}
	if c.Open == nil {
		c.Open = source.OpenHDF5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.RootID == "" {
		c.RootID = store.RootID
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Store == nil:
		return fmt.Errorf("%w: no destination store", ErrInvalidArgument)
	case c.SourcePath == "":
		return fmt.Errorf("%w: empty source path", ErrInvalidArgument)
	case c.Eager && c.Assets == nil:
		return fmt.Errorf("%w: eager import needs an asset store", ErrInvalidArgument)
	}
	return nil
}

// ResolveSourcePath applies BaseDir and makes p absolute.
func ResolveSourcePath(p, baseDir string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty source path", ErrInvalidArgument)
	}
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Join(baseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArgument, p, err)
	}
	return abs, nil
}
