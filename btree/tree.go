// Package btree composes latch, page, tuple, version, worker, wal, gc and
// graveyard into the concurrent, versioned index the rest of this module
// exists to build (spec §4). It corresponds to
// bnclabs-gostore/llrb/llrb.go's LLRB (the top-level index type wiring
// together node storage, arenas, and the writer/snapshot machinery) and to
// llrb/mvcc.go's MVCC, but descends over latch-coupled *page.Page leaves
// instead of a copy-on-write red-black tree.
//
// This module keeps a single leaf level: an in-memory, latch-free sorted
// directory of leaf pages (protected by Tree.dirMu, analogous to
// LLRB.rw guarding llrb.root) maps key ranges to *page.Page. Splitting a
// leaf inserts a new entry into that directory rather than allocating an
// inner page, since the directory itself is not persisted or paged (an
// external buffer manager, spec §1's out-of-scope collaborator, would own
// a real multi-level page tree; this module's job is the concurrency and
// MVCC protocol above one leaf, which the directory exercises faithfully).
package btree

import (
	"bytes"
	"math/rand"
	"sort"
	"sync"

	"github.com/bnclabs/leanbtree/api"
	"github.com/bnclabs/leanbtree/config"
	"github.com/bnclabs/leanbtree/errs"
	"github.com/bnclabs/leanbtree/gc"
	"github.com/bnclabs/leanbtree/graveyard"
	"github.com/bnclabs/leanbtree/latch"
	"github.com/bnclabs/leanbtree/leanlog"
	"github.com/bnclabs/leanbtree/page"
	"github.com/bnclabs/leanbtree/tuple"
	"github.com/bnclabs/leanbtree/version"
	"github.com/bnclabs/leanbtree/wal"
	"github.com/bnclabs/leanbtree/worker"
)

var log = leanlog.For("btree")

type leafEntry struct {
	minKey []byte // nil means "-infinity"
	page   *page.Page
}

// Tree is a concurrent, MVCC-aware sorted index over slotted leaf pages.
type Tree struct {
	cfg       config.Config
	registry  *worker.Registry
	versions  *version.Store
	grave     *graveyard.Store
	collector *gc.Collector
	wal       *wal.Log

	dirMu  sync.RWMutex
	leaves []leafEntry

	nextPageID uint64
}

// WAL exposes the tree's write-ahead log so a hosting engine can drain and
// replay its entries (spec §4.8, §6) — e.g. walking Entries() through Undo
// on abort, or Truncate() once a transaction's changes are durable and its
// rollback records are no longer needed.
func (t *Tree) WAL() *wal.Log { return t.wal }

// logEntry reserves exactly len(encoded) bytes, the reserve-then-fill-then-
// submit shape api.WAL declares (spec §6), and submits encoded into it.
func (t *Tree) logEntry(kind wal.Kind, encoded []byte) {
	buf := t.wal.ReserveEntry(byte(kind), len(encoded))
	copy(buf, encoded)
	t.wal.Submit()
}

// New creates an empty tree with a single leaf page.
func New(cfg config.Config, registry *worker.Registry) *Tree {
	versions := version.NewStore()
	grave := graveyard.New()
	t := &Tree{
		cfg:       cfg,
		registry:  registry,
		versions:  versions,
		grave:     grave,
		collector: gc.New(versions, grave),
		wal:       wal.New(),
	}
	root := page.New(page.ID(t.nextPageID), cfg.PageCapacity)
	t.nextPageID++
	t.leaves = append(t.leaves, leafEntry{minKey: nil, page: root})
	return t
}

func (t *Tree) sinkFor(writer tuple.Triple) *version.Sink {
	return version.NewSink(t.versions, writer.WorkerID, writer.TxID)
}

// writerAsReader views a writer's own identity as a tuple.Reader for the
// purposes of Header.Visible: a writer must never overwrite a row it cannot
// itself see committed, matching the teacher's isVisibleForMe gate ahead of
// a write lock attempt (bnclabs-gostore's BTreeVI.cpp:156-170).
func (t *Tree) writerAsReader(writer tuple.Triple) tuple.Reader {
	return tuple.Reader{
		WorkerID: writer.WorkerID,
		TTS:      writer.TxID,
		Mode:     tuple.ReadCommitted,
		InProgress: func(workerID uint16, txID uint64) bool {
			return !t.registry.IsVisibleForMe(workerID, txID)
		},
	}
}

// findLeaf returns the index into t.leaves whose range contains key.
// Caller must hold dirMu.
func (t *Tree) findLeaf(key []byte) int {
	idx := sort.Search(len(t.leaves), func(i int) bool {
		return t.leaves[i].minKey != nil && bytes.Compare(t.leaves[i].minKey, key) > 0
	})
	return idx - 1
}

func (t *Tree) leafFor(key []byte) *page.Page {
	t.dirMu.RLock()
	defer t.dirMu.RUnlock()
	return t.leaves[t.findLeaf(key)].page
}

// Lookup resolves key's value as visible to reader (spec §4.3). An OLAP
// miss against the primary also probes the graveyard: leaf GC may already
// have structurally removed the slot while this reader's snapshot still
// predates the remove (spec §4.3, §4.6).
func (t *Tree) Lookup(key []byte, reader tuple.Reader) ([]byte, api.OpResult, error) {
	for {
		leaf := t.leafFor(key)
		g, err := page.NewRoot(leaf, page.Optimistic)
		if err != nil {
			continue
		}
		idx, found := g.Page().Seek(key)
		if !found {
			if err := g.Close(); latch.IsRestart(err) {
				continue
			}
			if reader.Mode == tuple.OLAP {
				if value, ok := t.grave.Get(key); ok {
					return value, api.OK, nil
				}
			}
			return nil, api.NotFound, nil
		}
		payload := g.Page().ValueAt(idx)
		value, result, oerr := t.resolveLookup(payload, reader)
		if err := g.Close(); latch.IsRestart(err) {
			continue
		}
		return value, result, oerr
	}
}

func (t *Tree) resolveLookup(payload []byte, reader tuple.Reader) ([]byte, api.OpResult, error) {
	h := tuple.Decode(payload)
	switch h.Format {
	case tuple.Chained:
		_, value := tuple.DecodeChained(payload)
		sink := version.NewSink(t.versions, h.WorkerID, h.TxID)
		resolved, outcome := tuple.Reconstruct(h, value, nil, reader, t.cfg.MaxChainLength, sink)
		return mapOutcome(resolved, outcome)
	case tuple.Fat:
		ft := tuple.DecodeFat(payload)
		sink := version.NewSink(t.versions, h.WorkerID, h.TxID)
		resolved, outcome := tuple.Reconstruct(h, ft.Value, ft.Deltas, reader, t.cfg.MaxChainLength, sink)
		return mapOutcome(resolved, outcome)
	default:
		return nil, api.Other, errs.ErrCorruptFormat
	}
}

func mapOutcome(value []byte, outcome tuple.Outcome) ([]byte, api.OpResult, error) {
	switch outcome {
	case tuple.Found:
		return value, api.OK, nil
	case tuple.NotFoundOutcome:
		return nil, api.NotFound, nil
	case tuple.ChainTooLongOutcome:
		return nil, api.Other, errs.ErrChainTooLong
	default:
		return nil, api.Other, errs.ErrCorruptFormat
	}
}

// Insert adds a new key/value pair, splitting the target leaf if it does
// not fit (spec §4.4). singleStatement selects auto-commit at the end of
// this call versus leaving the write open for a longer transaction the
// hosting engine composes out of further calls (spec §4.4/§4.5 step 10/
// §4.6's "auto-commit if single-statement").
func (t *Tree) Insert(key, value []byte, writer tuple.Triple, singleStatement bool) (api.OpResult, error) {
	for {
		t.dirMu.RLock()
		idx := t.findLeaf(key)
		leaf := t.leaves[idx].page
		t.dirMu.RUnlock()

		g, err := page.NewRoot(leaf, page.Exclusive)
		if err != nil {
			continue
		}

		if existingIdx, found := g.Page().Seek(key); found {
			existing := tuple.Decode(g.Page().ValueAt(existingIdx))
			reader := t.writerAsReader(writer)
			if existing.IsWriteLocked || !existing.Visible(reader, true) {
				g.Close()
				return api.AbortTx, nil
			}
			g.Close()
			if !existing.IsRemoved {
				return api.Duplicate, nil
			}
			// Open Question #1: a key whose slot still carries a visible
			// remove that GC has not yet reclaimed is left unimplemented.
			return api.Other, errs.ErrUnimplementedCollision
		}

		h := tuple.Header{
			Format:          tuple.Chained,
			WorkerID:        writer.WorkerID,
			TxID:            writer.TxID,
			CommandID:       writer.CommandID,
			CanConvertToFat: t.cfg.FatTuple,
			IsWriteLocked:   t.cfg.TwoPL && !singleStatement,
		}
		payload := tuple.EncodeChained(h, value)
		if _, ok := g.Page().InsertSlot(key, payload); ok {
			g.Close()
			t.logEntry(wal.KindInsert, wal.EncodeInsert(wal.InsertEntry{Key: key}))
			if singleStatement {
				t.registry.AutoCommit(writer.WorkerID, writer.TxID)
			}
			return api.OK, nil
		}
		g.Close()

		if !t.split(idx) {
			return api.NotEnoughSpace, nil
		}
	}
}

// split divides the leaf at t.leaves[idx] into two, updating the
// directory. Returns false if the leaf holds a single slot too large to
// ever fit two ways (nothing more this layer can do; caller reports
// NotEnoughSpace).
func (t *Tree) split(idx int) bool {
	t.dirMu.Lock()
	defer t.dirMu.Unlock()
	leaf := t.leaves[idx].page
	keys, values := leaf.Snapshot()
	if len(keys) < 2 {
		return false
	}
	mid := len(keys) / 2

	right := page.New(page.ID(t.nextPageID), t.cfg.PageCapacity)
	t.nextPageID++
	leaf.Reset()
	for i := 0; i < mid; i++ {
		leaf.InsertSlot(keys[i], values[i])
	}
	for i := mid; i < len(keys); i++ {
		right.InsertSlot(keys[i], values[i])
	}
	log.Infof("split leaf %d at key %q into %d/%d slots", leaf.ID(), keys[mid], mid, len(keys)-mid)

	entry := leafEntry{minKey: append([]byte(nil), keys[mid]...), page: right}
	t.leaves = append(t.leaves, leafEntry{})
	copy(t.leaves[idx+2:], t.leaves[idx+1:])
	t.leaves[idx+1] = entry
	return true
}

// UpdateSameSizeInPlace mutates value's bytes over descriptor's ranges
// without changing its length (spec §4.5, §4.2). singleStatement selects
// auto-commit and immediate write-unlock versus leaving both open for a
// longer 2PL transaction (spec §4.5 step 10, §4.9).
func (t *Tree) UpdateSameSizeInPlace(key []byte, descriptor tuple.UpdateDescriptor, mutate func([]byte), writer tuple.Triple, singleStatement bool) (api.OpResult, error) {
	leaf := t.leafFor(key)
	g, err := page.NewRoot(leaf, page.Exclusive)
	if err != nil {
		return api.Other, err
	}
	defer g.Close()

	idx, found := g.Page().Seek(key)
	if !found {
		return api.NotFound, nil
	}
	payload := g.Page().ValueAt(idx)
	h := tuple.Decode(payload)
	if h.IsRemoved {
		return api.NotFound, nil
	}
	reader := t.writerAsReader(writer)
	if h.IsWriteLocked || !h.Visible(reader, true) {
		return api.AbortTx, nil
	}
	tuple.TryWriteLock(&h)

	sink := t.sinkFor(writer)
	elide := !t.cfg.MV || (t.cfg.UpdateVersionElision && singleStatement && t.registry.AllIdle())

	switch h.Format {
	case tuple.Chained:
		_, value := tuple.DecodeChained(payload)
		newH := tuple.ChainedUpdate(h, value, descriptor, mutate, writer, elide, sink)
		if singleStatement {
			newH.IsWriteLocked = false
		}
		newPayload := tuple.EncodeChained(newH, value)
		g.Page().WriteValueAt(idx, 0, newPayload)
		g.Page().NoteUpdate()
		t.maybePromote(g.Page(), idx, newH, value)
		t.logEntry(wal.KindUpdate, wal.EncodeUpdate(wal.UpdateEntry{Key: key}))
		if singleStatement {
			t.registry.AutoCommit(writer.WorkerID, writer.TxID)
		}
		return api.OK, nil
	case tuple.Fat:
		ft := tuple.DecodeFat(payload)
		ft.Header.IsWriteLocked = h.IsWriteLocked
		ft = tuple.FatUpdate(ft, descriptor, mutate, writer, t.cfg.FatDeltaCapacity, sink)
		if singleStatement {
			ft.Header.IsWriteLocked = false
		}
		newPayload := ft.Encode()
		if g.Page().ExtendOrShorten(idx, len(newPayload)) {
			g.Page().WriteValueAt(idx, 0, newPayload)
		}
		g.Page().NoteUpdate()
		t.logEntry(wal.KindUpdate, wal.EncodeUpdate(wal.UpdateEntry{Key: key}))
		if singleStatement {
			t.registry.AutoCommit(writer.WorkerID, writer.TxID)
		}
		return api.OK, nil
	default:
		return api.Other, errs.ErrCorruptFormat
	}
}

// maybePromote gates chained→fat promotion behind config.PromotionGate,
// only for tuples the header still marks eligible (spec §4.2 "a random
// gate fires, and only if multi-version, fat-tuple conversion, and a chain
// long enough to be worth collapsing are all enabled").
func (t *Tree) maybePromote(p *page.Page, idx int, h tuple.Header, value []byte) {
	if !t.cfg.MV || !t.cfg.FatTuple || !h.CanConvertToFat {
		return
	}
	if p.UpdateHint() < t.cfg.SplitHintThreshold/4 {
		return
	}
	if rand.Float64() > t.cfg.PromotionGate {
		return
	}
	ft := tuple.PromoteToFat(h, value)
	newPayload := ft.Encode()
	if p.ExtendOrShorten(idx, len(newPayload)) {
		p.WriteValueAt(idx, 0, newPayload)
	}
}

// Remove marks key logically removed, filing a RemoveVersion so an
// in-flight OLAP reader can still see it (spec §4.6, §4.9). Removing a fat
// tuple is unsupported (spec §9's decision, SPEC_FULL.md §E.2).
// singleStatement selects auto-commit at the end of this call (spec §4.6's
// "auto-commit if single-statement").
func (t *Tree) Remove(key []byte, writer tuple.Triple, danglingPointer, singleStatement bool) (api.OpResult, error) {
	leaf := t.leafFor(key)
	g, err := page.NewRoot(leaf, page.Exclusive)
	if err != nil {
		return api.Other, err
	}
	defer g.Close()

	idx, found := g.Page().Seek(key)
	if !found {
		return api.NotFound, nil
	}
	payload := g.Page().ValueAt(idx)
	h := tuple.Decode(payload)
	if h.IsRemoved {
		return api.NotFound, nil
	}
	if h.Format == tuple.Fat {
		return api.Other, errs.ErrFatRemoveUnsupported
	}
	reader := t.writerAsReader(writer)
	if h.IsWriteLocked || !h.Visible(reader, true) {
		return api.AbortTx, nil
	}
	tuple.TryWriteLock(&h)

	_, value := tuple.DecodeChained(payload)
	preRemoveValue := append([]byte(nil), value...)
	sink := t.sinkFor(writer)
	newH := tuple.ChainedRemove(h, value, len(key), writer, danglingPointer, sink)
	if singleStatement {
		newH.IsWriteLocked = false
	}
	newPayload := tuple.EncodeChained(newH, value)
	if g.Page().ExtendOrShorten(idx, len(newPayload)) {
		g.Page().WriteValueAt(idx, 0, newPayload)
	}
	t.logEntry(wal.KindRemove, wal.EncodeRemove(wal.RemoveEntry{Key: key, Value: preRemoveValue}))
	if singleStatement {
		t.registry.AutoCommit(writer.WorkerID, writer.TxID)
	}
	return api.OK, nil
}
