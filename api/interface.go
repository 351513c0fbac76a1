// Package api declares the collaborator interfaces the leanbtree core
// consumes (spec §6): buffer management, the worker/transaction registry,
// the write-ahead log, and the callbacks the core exposes back to its
// hosting engine. The shape follows bnclabs-gostore/api/interface.go: small,
// named interfaces plus a couple of callback function types, rather than one
// monolithic interface.
package api

import "github.com/bnclabs/leanbtree/page"

// OpResult is the outcome of a consumer-facing index operation (spec §7).
type OpResult int

const (
	OK OpResult = iota
	NotFound
	Duplicate
	AbortTx
	NotEnoughSpace
	Other
)

func (r OpResult) String() string {
	switch r {
	case OK:
		return "OK"
	case NotFound:
		return "NOT_FOUND"
	case Duplicate:
		return "DUPLICATE"
	case AbortTx:
		return "ABORT_TX"
	case NotEnoughSpace:
		return "NOT_ENOUGH_SPACE"
	default:
		return "OTHER"
	}
}

// IsolationMode selects the concurrency-control discipline a reader or
// writer runs under (spec §1, §5).
type IsolationMode int

const (
	ReadCommitted IsolationMode = iota
	SnapshotIsolation
	SerializableTimestamp
	Serializable2PL
	OLAP
)

// ValueMutator mutates a value's bytes in place; used by
// UpdateSameSizeInPlace (spec §4.5, §4.2).
type ValueMutator func(value []byte)

// ValueConsumer receives a lookup's resolved value; it must not retain the
// slice past the call (spec §4.3).
type ValueConsumer func(value []byte) bool

// RowCallback receives one row during a scan; returning false stops the
// scan (spec §6).
type RowCallback func(key, value []byte) bool

// BufferManager is the external collaborator that owns page allocation,
// eviction, and pinning (spec §1, §6). The core only ever reaches pages
// through it, then latches and mutates them directly via the *page.Page
// each call returns — the buffer manager does not interpose on the latch
// word itself, only on which page.ID maps to which resident *page.Page.
type BufferManager interface {
	// AllocPage reserves a new page of the given byte capacity.
	AllocPage(capacity int) (*page.Page, error)
	// ReclaimPage returns a page to the free pool.
	ReclaimPage(page.ID)
	// Resolve pins and returns the resident page for id, used to reach a
	// child under lock coupling (spec §4.1).
	Resolve(page.ID) (*page.Page, error)
	// MarkDirty flags a page for eventual write-back.
	MarkDirty(page.ID)
}

// WorkerRegistry is the external collaborator tracking workers and their
// transactions (spec §6).
type WorkerRegistry interface {
	WorkerID() uint16
	TTS() uint64 // current transaction timestamp for the calling worker
	CommitTX() error
	WALEnsureEnoughSpace(size int)
	InsertVersion(workerID uint16, txID, size uint64, payload []byte) (cmdID uint64)
	RetrieveVersion(workerID uint16, txID, cmdID uint64) ([]byte, bool)
	LocalOLAPLowWaterMark() uint64
	LocalOLTPLowWaterMark() uint64
	WorkersInProgress() []uint64 // one snapshot word per registered worker
	IsVisibleForMe(workerID uint16, txID uint64) bool
}

// WAL is the external append-only, per-worker write-ahead log (spec §6).
type WAL interface {
	// ReserveEntry reserves size bytes for a new record of the given kind
	// and returns a buffer to fill in before Submit.
	ReserveEntry(kind byte, size int) []byte
	Submit()
}

// DTMeta are the callbacks the core exposes back to the hosting engine
// (spec §6): iteration, GC hooks, checkpoint/serialize, and rollback.
type DTMeta interface {
	IterateChildren(page.ID, func(page.ID) bool)
	FindParent(child page.ID) (parent page.ID, ok bool)
	CheckSpaceUtilization(page.ID)
	Checkpoint()
	Undo(entry []byte) error
	Todo(entry []byte, versionWorker uint16, versionTx, versionCommand uint64, calledBefore bool)
	Unlock(entry []byte)
	Serialize() []byte
	Deserialize([]byte)
}
