// Package version implements the external, append-only per-worker version
// store (spec §3, §6) that backs tuple.VersionSink/VersionSource: history
// a chained tuple's in-page slot no longer holds, and a fat tuple's ring
// evicts, lands here, addressed by the (worker_id, tx_id, command_id)
// triple the tuple header or a fat delta's Prev field carries.
//
// Each worker owns its own growing record log and recycles freed slots
// through a channel exactly the way bnclabs-gostore/llrb/txn.go recycles
// *record/*Cursor values through txn.recchan/txn.curchan. Only the owning
// worker appends to its log, but other workers read it and GC reclaims from
// it, so each log carries its own lock (see workerLog).
package version

import (
	"sync"

	"github.com/bnclabs/leanbtree/tuple"
)

// Record is one version-store entry, covering both update and remove
// history (spec §3's UpdateVersion/RemoveVersion).
type Record struct {
	TxID            uint64
	Prev            tuple.Triple
	IsDelta         bool
	IsRemove        bool
	Descriptor      tuple.UpdateDescriptor
	Payload         []byte
	KeyLength       int
	ValueLength     int
	DanglingPointer bool
	live            bool
}

// workerLog is owned by one worker for writes (append always runs on the
// worker's own processing goroutine) but read concurrently by any other
// worker's OLAP scan or reconstruction walk, and reclaimed by whichever
// goroutine runs leaf GC — so its slice needs its own lock distinct from
// the Store-level map lock below.
type workerLog struct {
	mu      sync.RWMutex
	records []Record
	free    chan int
}

func newWorkerLog() *workerLog {
	return &workerLog{free: make(chan int, 1024)}
}

func (w *workerLog) append(r Record) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case idx := <-w.free:
		r.live = true
		w.records[idx] = r
		return uint64(idx)
	default:
	}
	r.live = true
	w.records = append(w.records, r)
	return uint64(len(w.records) - 1)
}

func (w *workerLog) lookup(txID, commandID uint64) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if commandID >= uint64(len(w.records)) {
		return Record{}, false
	}
	r := w.records[commandID]
	if !r.live || r.TxID != txID {
		return Record{}, false
	}
	return r, true
}

func (w *workerLog) reclaim(commandID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if commandID >= uint64(len(w.records)) {
		return
	}
	w.records[commandID].live = false
	select {
	case w.free <- int(commandID):
	default: // ring full, leave the slot for a later compaction pass
	}
}

// Store holds every worker's version log, one per registered worker.
// Sink/Lookup/Reclaim are called concurrently across workers (a writer
// appending to its own log while another worker's OLAP reader or the GC
// path reads or reclaims it), so the worker-indexed map itself is guarded
// by mu; each workerLog then guards its own slice (spec §5: each worker
// owns its own log, the same isolation txn.go gets from recchan being
// per-Txn rather than shared — generalized here to a lock per log instead
// of relying on single-goroutine ownership).
type Store struct {
	mu   sync.Mutex
	logs map[uint16]*workerLog
}

// NewStore creates an empty version store.
func NewStore() *Store {
	return &Store{logs: make(map[uint16]*workerLog)}
}

func (s *Store) logFor(workerID uint16) *workerLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[workerID]
	if !ok {
		log = newWorkerLog()
		s.logs[workerID] = log
	}
	return log
}

func (s *Store) existingLogFor(workerID uint16) (*workerLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[workerID]
	return log, ok
}

// Lookup implements tuple.VersionSource.
func (s *Store) Lookup(workerID uint16, txID, commandID uint64) (tuple.VersionRecord, bool) {
	log, ok := s.existingLogFor(workerID)
	if !ok {
		return tuple.VersionRecord{}, false
	}
	r, ok := log.lookup(txID, commandID)
	if !ok {
		return tuple.VersionRecord{}, false
	}
	return tuple.VersionRecord{
		Prev:            r.Prev,
		IsDelta:         r.IsDelta,
		IsRemove:        r.IsRemove,
		Descriptor:      r.Descriptor,
		Payload:         r.Payload,
		DanglingPointer: r.DanglingPointer,
	}, true
}

// Reclaim frees a worker's record slot for reuse once garbage collection
// (spec §4.9's todo callback) determines no reader can still reach it.
func (s *Store) Reclaim(workerID uint16, commandID uint64) {
	log, ok := s.existingLogFor(workerID)
	if !ok {
		return
	}
	log.reclaim(commandID)
}

// Sink binds a Store to one worker/transaction's identity so tuple.go's
// ChainedUpdate/ChainedRemove/FatUpdate call sites don't need to thread the
// writer's worker id through every VersionSink call (spec §6 "WorkerRegistry
// assigns command ids monotonically per worker").
type Sink struct {
	store    *Store
	workerID uint16
	txID     uint64
}

// NewSink returns a VersionSink/VersionSource bound to the given worker and
// transaction, for the duration of one write operation.
func NewSink(store *Store, workerID uint16, txID uint64) *Sink {
	return &Sink{store: store, workerID: workerID, txID: txID}
}

// AppendUpdateVersion implements tuple.VersionSink.
func (s *Sink) AppendUpdateVersion(prevWorkerID uint16, prevTxID, prevCommandID uint64, isDelta bool, descriptor tuple.UpdateDescriptor, payload []byte) uint64 {
	log := s.store.logFor(s.workerID)
	return log.append(Record{
		TxID:       s.txID,
		Prev:       tuple.Triple{WorkerID: prevWorkerID, TxID: prevTxID, CommandID: prevCommandID},
		IsDelta:    isDelta,
		Descriptor: descriptor,
		Payload:    append([]byte(nil), payload...),
	})
}

// AppendRemoveVersion implements tuple.VersionSink.
func (s *Sink) AppendRemoveVersion(prevWorkerID uint16, prevTxID, prevCommandID uint64, keyLen, valueLen int, danglingPointer bool, payload []byte) uint64 {
	log := s.store.logFor(s.workerID)
	return log.append(Record{
		TxID:            s.txID,
		Prev:            tuple.Triple{WorkerID: prevWorkerID, TxID: prevTxID, CommandID: prevCommandID},
		IsRemove:        true,
		KeyLength:       keyLen,
		ValueLength:     valueLen,
		DanglingPointer: danglingPointer,
		Payload:         append([]byte(nil), payload...),
	})
}

// Lookup implements tuple.VersionSource by delegating to the bound store,
// so a Sink can also serve as the VersionSource Reconstruct walks.
func (s *Sink) Lookup(workerID uint16, txID, commandID uint64) (tuple.VersionRecord, bool) {
	return s.store.Lookup(workerID, txID, commandID)
}
