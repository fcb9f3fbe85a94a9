package mirror

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every failure returned by this package wraps exactly one
// of these, so callers can map them with errors.Is.
var (
	// ErrNotAHierarchicalFile: the source does not open as a hierarchical
	// data file. Raised before any destination writes.
	ErrNotAHierarchicalFile = errors.New("not a hierarchical data file")
	// ErrSourceUnreadable: a dataset could not be read during import.
	ErrSourceUnreadable = errors.New("source dataset unreadable")
	// ErrStructuralConflict: the destination holds an entry of the other
	// kind (folder vs item) where the source needs one.
	ErrStructuralConflict = errors.New("structural conflict")
	// ErrDatasetMissing: recorded provenance no longer resolves in the source.
	ErrDatasetMissing = errors.New("dataset missing")
	ErrInvalidArgument = errors.New("invalid argument")
)

// NodeError records which source node failed and where it came from.
type NodeError struct {
	Op           string
	InternalPath string
	SourcePath   string
	Err          error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s (source %s): %v", e.Op, e.InternalPath, e.SourcePath, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
