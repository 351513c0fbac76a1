package btree

import (
	"bytes"

	"github.com/bnclabs/leanbtree/api"
	"github.com/bnclabs/leanbtree/errs"
	"github.com/bnclabs/leanbtree/page"
	"github.com/bnclabs/leanbtree/tuple"
)

// ScanAsc walks [start, end) in ascending key order, invoking cb with each
// row visible to reader (spec §6's RowCallback, §4.3's visibility rules
// applied per row). end == nil scans to the last key. An OLAP scan also
// merges in graveyard tombstones a leaf GC pass has already structurally
// removed from the primary, so a long-running reader whose snapshot
// predates the remove still sees those rows (spec §4.3, §4.6, §4.9).
func (t *Tree) ScanAsc(start, end []byte, reader tuple.Reader, cb api.RowCallback) error {
	t.dirMu.RLock()
	startIdx := 0
	if start != nil {
		startIdx = t.findLeaf(start)
		if startIdx < 0 {
			startIdx = 0
		}
	}
	leaves := make([]*page.Page, 0, len(t.leaves)-startIdx)
	for i := startIdx; i < len(t.leaves); i++ {
		leaves = append(leaves, t.leaves[i].page)
	}
	t.dirMu.RUnlock()

	if reader.Mode != tuple.OLAP {
		for _, leaf := range leaves {
			stop, err := t.scanLeafAsc(leaf, start, end, reader, cb)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	}

	var tombs []tombEntry
	t.grave.Range(start, end, func(key, value []byte) bool {
		tombs = append(tombs, tombEntry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
		return true
	})
	ti := 0
	merged := func(key, value []byte) bool {
		for ti < len(tombs) && bytes.Compare(tombs[ti].key, key) < 0 {
			if !cb(tombs[ti].key, tombs[ti].value) {
				return false
			}
			ti++
		}
		return cb(key, value)
	}
	for _, leaf := range leaves {
		stop, err := t.scanLeafAsc(leaf, start, end, reader, merged)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	for ; ti < len(tombs); ti++ {
		if !cb(tombs[ti].key, tombs[ti].value) {
			return nil
		}
	}
	return nil
}

// tombEntry is one graveyard row fetched ahead of time so ScanAsc can merge
// it into the primary scan's ascending key order.
type tombEntry struct {
	key, value []byte
}

func (t *Tree) scanLeafAsc(leaf *page.Page, start, end []byte, reader tuple.Reader, cb api.RowCallback) (stop bool, err error) {
	for {
		g, gerr := page.NewRoot(leaf, page.Shared)
		if gerr != nil {
			continue
		}
		p := g.Page()
		lo := 0
		if start != nil {
			lo = p.LowerBound(start)
		}
		for i := lo; i < p.Len(); i++ {
			key := p.KeyAt(i)
			if end != nil && bytes.Compare(key, end) >= 0 {
				g.Close()
				return true, nil
			}
			value, result, oerr := t.resolveLookup(p.ValueAt(i), reader)
			if oerr != nil {
				g.Close()
				return true, oerr
			}
			if result != api.OK {
				continue
			}
			if !cb(append([]byte(nil), key...), value) {
				g.Close()
				return true, nil
			}
		}
		if err := g.Close(); err != nil {
			continue
		}
		return false, nil
	}
}

// ScanDesc walks [start, end) in descending key order. Descending OLAP
// scans are explicitly unsupported (spec §9's Open Question, resolved in
// SPEC_FULL.md §E.3): an OLAP reader gets ErrUnsupportedOLAPDesc rather
// than a silently reversed ascending scan.
func (t *Tree) ScanDesc(start, end []byte, reader tuple.Reader, cb api.RowCallback) error {
	if reader.Mode == tuple.OLAP {
		return errs.ErrUnsupportedOLAPDesc
	}

	t.dirMu.RLock()
	endIdx := len(t.leaves) - 1
	if end != nil {
		endIdx = t.findLeaf(end)
		if endIdx < 0 {
			t.dirMu.RUnlock()
			return nil
		}
	}
	leaves := make([]*page.Page, endIdx+1)
	for i := 0; i <= endIdx; i++ {
		leaves[i] = t.leaves[i].page
	}
	t.dirMu.RUnlock()

	for i := len(leaves) - 1; i >= 0; i-- {
		stop, err := t.scanLeafDesc(leaves[i], start, end, reader, cb)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (t *Tree) scanLeafDesc(leaf *page.Page, start, end []byte, reader tuple.Reader, cb api.RowCallback) (stop bool, err error) {
	for {
		g, gerr := page.NewRoot(leaf, page.Shared)
		if gerr != nil {
			continue
		}
		p := g.Page()
		hi := p.Len() - 1
		if end != nil {
			hi = p.LowerBound(end) - 1
		}
		for i := hi; i >= 0; i-- {
			key := p.KeyAt(i)
			if start != nil && bytes.Compare(key, start) < 0 {
				break
			}
			value, result, oerr := t.resolveLookup(p.ValueAt(i), reader)
			if oerr != nil {
				g.Close()
				return true, oerr
			}
			if result != api.OK {
				continue
			}
			if !cb(append([]byte(nil), key...), value) {
				g.Close()
				return true, nil
			}
		}
		if err := g.Close(); err != nil {
			continue
		}
		return false, nil
	}
}
