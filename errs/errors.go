// Package errs collects the sentinel errors surfaced by leanbtree's core
// packages, named the way bnclabs-gostore names its own package errors.
package errs

import "errors"

var (
	// ErrCorruptFormat is raised when a tuple header carries a format
	// discriminant outside {Chained, Fat}.
	ErrCorruptFormat = errors.New("leanbtree.tuple.corruptformat")

	// ErrChainTooLong is raised when reconstructing a chained tuple walks
	// past the configured maximum chain length.
	ErrChainTooLong = errors.New("leanbtree.tuple.chaintoolong")

	// ErrFatRemoveUnsupported is raised by Remove when the primary is a
	// fat tuple; removing fat tuples is explicitly unsupported (spec §9).
	ErrFatRemoveUnsupported = errors.New("leanbtree.tuple.fatremoveunsupported")

	// ErrUnimplementedCollision marks an insert that landed on a key whose
	// slot is still occupied by a visible-removed row that GC has not yet
	// reclaimed. Behavior here is unspecified by design (spec §9).
	ErrUnimplementedCollision = errors.New("leanbtree.btree.unimplementedcollision")

	// ErrUnsupportedOLAPDesc marks ScanDesc under the OLAP reader mode.
	ErrUnsupportedOLAPDesc = errors.New("leanbtree.btree.unsupportedolapdesc")

	// ErrSeekExactInconsistent is a fatal structural assertion raised from
	// the undo path when seekExact fails to find a slot it must find.
	ErrSeekExactInconsistent = errors.New("leanbtree.wal.seekexactinconsistent")

	// ErrDanglingPointerStale marks a failed fast-path validation of a
	// recorded dangling pointer; callers fall through to the slow todo path.
	ErrDanglingPointerStale = errors.New("leanbtree.gc.danglingpointerstale")
)
