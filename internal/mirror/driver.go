package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/agentic-research/h5mirror/internal/h5path"
	"github.com/agentic-research/h5mirror/internal/source"
	"github.com/agentic-research/h5mirror/internal/store"
)

// Report summarises one import run.
type Report struct {
	SourcePath        string
	Groups            int
	Datasets          int
	Skipped           int   // nodes whose subtree was skipped after an error
	DroppedAttributes int   // undecodable attributes left out of metadata
	Bytes             int64 // sum of blob sizes written
	Elapsed           time.Duration
}

// Import mirrors the source file into the destination folder.
//
// Nodes are visited in pre-order and each is committed before the next is
// read, so a cancelled or failed run leaves a destination that a later
// Import completes. Running Import twice is a no-op the second time apart
// from metadata being rewritten with the same values.
//
// Concurrent imports into the same destination subtree are not supported;
// callers serialize them.
func Import(ctx context.Context, cfg Config) (*Report, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	sourcePath, err := ResolveSourcePath(cfg.SourcePath, cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	root, err := cfg.Store.Get(ctx, cfg.RootID)
	if err != nil {
		return nil, fmt.Errorf("%w: destination root %s: %w", ErrInvalidArgument, cfg.RootID, err)
	}
	if root.Kind != store.KindFolder {
		return nil, fmt.Errorf("%w: destination root %s is an item", ErrInvalidArgument, cfg.RootID)
	}

	src, err := cfg.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAHierarchicalFile, sourcePath, err)
	}
	defer func() { _ = src.Close() }() // read-only handle

	d := &driver{
		ctx:    ctx,
		cfg:    cfg,
		src:    src,
		log:    cfg.Logger.With(zap.String("source_file", sourcePath)),
		report: &Report{SourcePath: sourcePath},
	}
	start := time.Now()
	walkErr := src.Walk(ctx, d.visit)
	d.report.Elapsed = time.Since(start)

	err = multierr.Append(walkErr, d.errs)
	d.log.Info("import finished",
		zap.Int("groups", d.report.Groups),
		zap.Int("datasets", d.report.Datasets),
		zap.Int("skipped", d.report.Skipped),
		zap.Int("attributes_skipped", d.report.DroppedAttributes),
		zap.Int64("bytes", d.report.Bytes),
		zap.Duration("elapsed", d.report.Elapsed),
		zap.Error(err),
	)
	return d.report, err
}

// driver carries one run's state through the walk callback.
type driver struct {
	ctx       context.Context
	cfg       Config
	src       source.File
	log       *zap.Logger
	report    *Report
	ancestors []*source.Node // groups on the path from "/" to the current node
	errs      error
}

func (d *driver) visit(n *source.Node, walkErr error) error {
	if err := context.Cause(d.ctx); err != nil {
		return fmt.Errorf("import interrupted before %s: %w", n.Path, err)
	}
	d.popTo(n.Path)
	d.cfg.Progress.Report(n.Path)

	for _, aerr := range n.AttributeErrors {
		d.report.DroppedAttributes++
		d.log.Warn("skipping attribute", zap.String("internal_path", n.Path), zap.Error(aerr))
	}

	err := walkErr
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	} else {
		err = d.mirror(n)
	}
	if err == nil {
		if n.Kind == source.KindGroup {
			d.ancestors = append(d.ancestors, n)
		}
		return nil
	}

	nerr := &NodeError{Op: "mirror " + n.Kind.String(), InternalPath: n.Path, SourcePath: d.src.Path(), Err: err}
	if !d.cfg.ContinueOnError || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nerr
	}
	d.log.Warn("skipping subtree", zap.String("internal_path", n.Path), zap.Error(err))
	d.report.Skipped++
	d.errs = multierr.Append(d.errs, nerr)
	if n.Kind == source.KindGroup {
		return source.SkipSubtree
	}
	return nil
}

func (d *driver) mirror(n *source.Node) error {
	ctx := d.ctx
	switch n.Kind {
	case source.KindDataset:
		_, blob, err := MaterializeDataset(ctx, d.cfg.Destination, d.src, n, d.ancestors)
		if err != nil {
			return err
		}
		d.report.Datasets++
		d.report.Bytes += blob.Size
		d.log.Debug("dataset", zap.String("internal_path", n.Path), zap.Stringer("blob", blob.Mode), zap.Int64("size", blob.Size))
	case source.KindGroup:
		segs := Chain(n.Path, append(d.ancestors, n))
		if _, err := EnsurePath(ctx, d.cfg.Store, d.cfg.RootID, segs, OwnAttributes(n), d.cfg.Actor); err != nil {
			return err
		}
		d.report.Groups++
		d.log.Debug("group", zap.String("internal_path", n.Path))
	default:
		return fmt.Errorf("%w: unknown node kind %d", ErrInvalidArgument, n.Kind)
	}
	return nil
}

// popTo drops ancestors that do not contain p.
func (d *driver) popTo(p string) {
	for len(d.ancestors) > 0 {
		top := d.ancestors[len(d.ancestors)-1]
		if h5path.IsWithin(p, top.Path) && h5path.Clean(p) != h5path.Clean(top.Path) {
			return
		}
		d.ancestors = d.ancestors[:len(d.ancestors)-1]
	}
}
