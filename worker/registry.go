// Package worker implements the transaction/visibility registry (spec §5,
// §6): each worker hands out monotonic transaction timestamps, tracks the
// transactions it has in flight, and publishes a low-water mark other
// workers and the garbage collector use to decide what history is still
// needed.
//
// Counters and the in-progress snapshot word are plain atomics CAS/add
// loops, the same style bnclabs-gostore/llrb/mvcc.go uses for its
// n_txns/n_commits/n_aborts bookkeeping and its tagged snapshot pointer
// (acquiresnapshot/releasesnapshot): no mutex, just atomic words workers
// publish and everyone else reads.
package worker

import (
	"sync"
	"sync/atomic"
)

// TX is one worker's in-flight transaction (spec §5). StartTS is the
// snapshot timestamp it reads at.
type TX struct {
	ID      uint64
	StartTS uint64
	Mode    IsolationMode
}

// IsolationMode mirrors tuple.IsolationMode/api.IsolationMode; kept local
// like tuple's copy so worker has no dependency on either package.
type IsolationMode int

const (
	ReadCommitted IsolationMode = iota
	SnapshotIsolation
	SerializableTimestamp
	Serializable2PL
	OLAP
)

// Worker is one registered execution thread. Each worker owns a private,
// monotonically increasing transaction-id counter and publishes the id of
// its oldest still-running transaction (or ^uint64(0) if idle) as a single
// atomic word other workers scan to compute low-water marks — the
// generalization of mvcc.go's single global snapshot pointer to N
// independent per-worker words (spec §5's "global_workers_in_progress_txid
// snapshot array").
type Worker struct {
	id uint16

	nextTxID  uint64
	inProgress uint64 // atomic: ^uint64(0) when idle, else the running tx's id

	nCommits int64
	nAborts  int64
}

const idleMarker = ^uint64(0)

func newWorker(id uint16) *Worker {
	return &Worker{id: id, inProgress: idleMarker}
}

// ID returns the worker's registry-assigned id.
func (w *Worker) ID() uint16 { return w.id }

// Begin starts a transaction at the given snapshot timestamp and publishes
// it as this worker's in-progress marker.
func (w *Worker) Begin(startTS uint64, mode IsolationMode) *TX {
	id := atomic.AddUint64(&w.nextTxID, 1)
	atomic.StoreUint64(&w.inProgress, id)
	return &TX{ID: id, StartTS: startTS, Mode: mode}
}

// Commit clears the in-progress marker and bumps the commit counter.
func (w *Worker) Commit(tx *TX) {
	atomic.StoreUint64(&w.inProgress, idleMarker)
	atomic.AddInt64(&w.nCommits, 1)
}

// Abort clears the in-progress marker and bumps the abort counter.
func (w *Worker) Abort(tx *TX) {
	atomic.StoreUint64(&w.inProgress, idleMarker)
	atomic.AddInt64(&w.nAborts, 1)
}

// InProgressTxID returns the id of this worker's currently running
// transaction, or (0, false) if it is idle.
func (w *Worker) InProgressTxID() (uint64, bool) {
	id := atomic.LoadUint64(&w.inProgress)
	if id == idleMarker {
		return 0, false
	}
	return id, true
}

func (w *Worker) Stats() (commits, aborts int64) {
	return atomic.LoadInt64(&w.nCommits), atomic.LoadInt64(&w.nAborts)
}

// Registry owns every registered Worker and the global timestamp counter
// transactions snapshot from (spec §6 "WorkerRegistry"). Registration is
// rare relative to the hot read/write path, so it alone takes a mutex; the
// rest of the registry's state is reached through each Worker's own atomics.
type Registry struct {
	mu      sync.Mutex
	workers map[uint16]*Worker
	nextID  uint16

	globalTS uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[uint16]*Worker)}
}

// Register allocates a new worker id and returns its Worker handle.
func (r *Registry) Register() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	w := newWorker(id)
	r.workers[id] = w
	return w
}

// Deregister removes a worker, e.g. on connection close.
func (r *Registry) Deregister(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// NextTimestamp hands out the next globally monotonic transaction
// timestamp (spec §5's TTS for snapshot/serializable modes).
func (r *Registry) NextTimestamp() uint64 {
	return atomic.AddUint64(&r.globalTS, 1)
}

func (r *Registry) snapshotWorkers() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		ws = append(ws, w)
	}
	return ws
}

// WorkersInProgress returns one in-progress transaction id per currently
// busy worker (spec §5's "global_workers_in_progress_txid").
func (r *Registry) WorkersInProgress() []uint64 {
	var ids []uint64
	for _, w := range r.snapshotWorkers() {
		if id, busy := w.InProgressTxID(); busy {
			ids = append(ids, id)
		}
	}
	return ids
}

// OLTPLowWaterMark is the oldest start timestamp any currently running
// OLTP transaction still needs visible, below which the version store and
// graveyard may discard history (spec §5, §4.9). minStartTS is supplied by
// the caller tracking each TX's StartTS (the registry itself only tracks
// liveness, not per-tx timestamps, matching Worker's minimal public state).
func (r *Registry) OLTPLowWaterMark(minStartTS func(workerID uint16, txID uint64) (uint64, bool)) uint64 {
	var low uint64
	found := false
	for _, w := range r.snapshotWorkers() {
		txID, busy := w.InProgressTxID()
		if !busy {
			continue
		}
		if ts, ok := minStartTS(w.ID(), txID); ok && (!found || ts < low) {
			low, found = ts, true
		}
	}
	if !found {
		return r.NextTimestamp() // defaults to "now" when nothing is in flight
	}
	return low
}

// AllIdle reports whether every registered worker's snapshot word currently
// shows idle (spec §4.5 step 7's "isAllIdle" read side, SPEC_FULL.md §D.2):
// the gate version-elision checks alongside vi_update_version_elision and
// the calling operation being single-statement.
func (r *Registry) AllIdle() bool {
	for _, w := range r.snapshotWorkers() {
		if _, busy := w.InProgressTxID(); busy {
			return false
		}
	}
	return true
}

// AutoCommit clears workerID's in-progress marker for txID and bumps its
// commit counter, mirroring Worker.Commit for callers holding only the
// (workerID, txID) identity rather than the *TX handle — the shape Tree's
// per-call write API needs, since it is never handed a *TX (spec §4.4,
// §4.5 step 10, §4.6's "auto-commit if single-statement"). A mismatched or
// already-idle worker is a no-op: nothing to commit.
func (r *Registry) AutoCommit(workerID uint16, txID uint64) {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if inProgress, busy := w.InProgressTxID(); busy && inProgress == txID {
		w.Commit(&TX{ID: txID})
	}
}

// IsVisibleForMe reports whether the write made by (workerID, txID) has
// committed: false while workerID still shows txID as in-progress, even
// when the caller is that same worker (spec §4.2's "in-progress"
// visibility check). tuple.Header.Visible handles a reader's own writes
// before it consults this.
func (r *Registry) IsVisibleForMe(workerID uint16, txID uint64) bool {
	r.mu.Lock()
	w, ok := r.workers[workerID]
	r.mu.Unlock()
	if !ok {
		return true // worker long gone; its writes must have committed or been undone
	}
	inProgress, busy := w.InProgressTxID()
	return !(busy && inProgress == txID)
}
