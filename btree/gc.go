package btree

import (
	"github.com/bnclabs/leanbtree/errs"
	"github.com/bnclabs/leanbtree/page"
	"github.com/bnclabs/leanbtree/tuple"
	"github.com/bnclabs/leanbtree/wal"
)

// CheckSpaceUtilization runs leaf GC on the leaf at pageID once its
// garbage ratio crosses config.GarbageThreshold (spec §4.6): removed rows
// past the OLAP low-water mark are dropped or parked in the graveyard via
// gc.Collector.Todo, and fat tuples whose page-space cost outweighs their
// value are decomposed back to chained.
func (t *Tree) CheckSpaceUtilization(pageID page.ID) {
	if !t.cfg.XMerge {
		return
	}
	t.dirMu.RLock()
	var leaf *page.Page
	for _, e := range t.leaves {
		if e.page.ID() == pageID {
			leaf = e.page
			break
		}
	}
	t.dirMu.RUnlock()
	if leaf == nil {
		return
	}

	g, err := page.NewRoot(leaf, page.Exclusive)
	if err != nil {
		return
	}
	defer g.Close()

	p := g.Page()
	if p.GarbageRatio() < t.cfg.GarbageThreshold && !p.HasGarbage() {
		return
	}

	olapLow := t.registry.OLTPLowWaterMark(func(uint16, uint64) (uint64, bool) { return 0, false })
	// Read the update hint before Reset zeroes it.
	decompose := p.ShouldSplit(t.cfg.SplitHintThreshold)
	keys, values := p.Snapshot()
	p.Reset()

	for i, key := range keys {
		value := values[i]
		h := tuple.Decode(value)

		if h.Format == tuple.Fat {
			ft := tuple.DecodeFat(value)
			if len(ft.Deltas) > 0 && decompose {
				newH := tuple.DecomposeToChained(ft, t.sinkFor(tuple.Triple{WorkerID: h.WorkerID, TxID: h.TxID, CommandID: h.CommandID}))
				value = tuple.EncodeChained(newH, ft.Value)
			}
			p.InsertSlot(key, value)
			continue
		}

		if h.IsRemoved {
			_, plainValue := tuple.DecodeChained(value)
			// Either branch of Todo means the row no longer belongs in the
			// primary: reclaimed outright, or copied into the graveyard for
			// a still-running OLAP scan to find there instead (spec §4.9's
			// slow path structurally removes from the primary either way).
			t.collector.Todo(key, plainValue, h.Triple(), h.TxID, false, false, olapLow)
			continue
		}
		p.InsertSlot(key, value)
	}
	p.ClearGarbage()
}

// The remaining methods implement api.DTMeta's structural/rollback surface
// the hosting engine drives directly.

// Undo replays a wal entry to unwind an aborted, not-yet-committed
// structural change (spec §4.8). Only in-flight rollback is supported;
// crash recovery replay is out of scope (SPEC_FULL.md §E.4). Only an
// InsertEntry or a RemoveEntry is undone; for any other entry, including an
// UpdateEntry, Undo changes nothing and returns nil.
func (t *Tree) Undo(entry []byte) error {
	_, v := wal.Decode(entry)
	switch e := v.(type) {
	case wal.InsertEntry:
		leaf := t.leafFor(e.Key)
		g, err := page.NewRoot(leaf, page.Exclusive)
		if err != nil {
			return err
		}
		defer g.Close()
		idx, found := g.Page().Seek(e.Key)
		if !found {
			return errs.ErrSeekExactInconsistent
		}
		g.Page().DeleteSlot(idx)
		return nil
	case wal.RemoveEntry:
		leaf := t.leafFor(e.Key)
		g, err := page.NewRoot(leaf, page.Exclusive)
		if err != nil {
			return err
		}
		defer g.Close()
		idx, found := g.Page().Seek(e.Key)
		if !found {
			return errs.ErrSeekExactInconsistent
		}
		h := tuple.Decode(g.Page().ValueAt(idx))
		h.IsRemoved = false
		payload := tuple.EncodeChained(h, e.Value)
		if g.Page().ExtendOrShorten(idx, len(payload)) {
			g.Page().WriteValueAt(idx, 0, payload)
		}
		return nil
	default:
		return nil
	}
}

// Todo implements api.DTMeta.Todo: the hosting engine replays a previously
// logged wal.RemoveEntry through this once it's ready for the deferred
// cleanup decision (spec §4.9), delegating to gc.Collector. danglingPointer
// is read from the RemoveVersion record filed at (versionWorker, versionTx,
// versionCommand); it is false when no such record is found.
func (t *Tree) Todo(entry []byte, versionWorker uint16, versionTx, versionCommand uint64, calledBefore bool) {
	_, v := wal.Decode(entry)
	e, ok := v.(wal.RemoveEntry)
	if !ok {
		return
	}
	olapLow := t.registry.OLTPLowWaterMark(func(uint16, uint64) (uint64, bool) { return 0, false })
	removedAt := tuple.Triple{WorkerID: versionWorker, TxID: versionTx, CommandID: versionCommand}
	rec, found := t.versions.Lookup(versionWorker, versionTx, versionCommand)
	dangling := found && rec.DanglingPointer
	t.collector.Todo(e.Key, e.Value, removedAt, versionTx, dangling, calledBefore, olapLow)
}

// Unlock implements api.DTMeta.Unlock: entry is a wal.UnlockEntry naming
// the row to release (spec §4.9, §5's 2PL discipline).
func (t *Tree) Unlock(entry []byte) {
	_, v := wal.Decode(entry)
	e, ok := v.(wal.UnlockEntry)
	if !ok {
		return
	}
	leaf := t.leafFor(e.Key)
	g, err := page.NewRoot(leaf, page.Exclusive)
	if err != nil {
		return
	}
	defer g.Close()
	idx, found := g.Page().Seek(e.Key)
	if !found {
		return
	}
	h := tuple.Decode(g.Page().ValueAt(idx))
	h.IsWriteLocked = false
	tuple.Encode(g.Page().ValueAt(idx)[:tuple.HeaderSize], h)
}

// Checkpoint is a no-op placeholder: this module keeps no on-disk state to
// checkpoint (spec §1's persistence is an external collaborator concern).
func (t *Tree) Checkpoint() {}
