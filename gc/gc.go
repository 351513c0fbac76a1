// Package gc implements the two deferred cleanup callbacks the core hands
// back to its hosting engine (spec §4.9, §6): todo, which decides whether a
// removed row's history can be discarded outright or must be parked in the
// graveyard for a still-running OLAP scan, and unlock, which releases a
// tuple's 2PL write lock once its owning transaction has terminated.
//
// The dangling-pointer fast path mirrors
// bnclabs-gostore/llrb/mvcc.go's reclaim path for a node dropped from every
// snapshot's reachable set (purgeblock/reclaimnodes): if nothing could have
// taken a reference to the old value since it was unlinked, free it
// immediately instead of waiting on a low-water-mark comparison.
package gc

import (
	"github.com/bnclabs/leanbtree/graveyard"
	"github.com/bnclabs/leanbtree/tuple"
	"github.com/bnclabs/leanbtree/version"
)

// Collector bundles the collaborators Todo needs: the version store to
// reclaim from and the graveyard to park still-visible tombstones in. The
// OLAP low-water mark a removed row's commit timestamp is compared against
// is passed to each Todo call.
type Collector struct {
	versions *version.Store
	grave    *graveyard.Store
}

// New builds a Collector over the given version store and graveyard.
func New(versions *version.Store, grave *graveyard.Store) *Collector {
	return &Collector{versions: versions, grave: grave}
}

// Todo is invoked once a row's remove has committed and its version-chain
// entry is reachable for cleanup (spec §4.9). removedAt is the triple the
// RemoveVersion record was filed under; danglingPointer reports whether the
// structural delete left no possible concurrent reference to it (spec §6's
// vi_dangling_pointer); calledBefore is true on a retry the caller is
// making because an earlier Todo call found the row still needed by an
// active OLAP scan.
//
// It returns true when the row's history has been fully reclaimed (the
// caller need not call Todo again), and false when the row was parked in
// the graveyard and the caller should retry once the OLAP low-water mark
// advances.
func (c *Collector) Todo(key, removedValue []byte, removedAt tuple.Triple, removedCommitTS uint64, danglingPointer, calledBefore bool, olapLowWaterMark uint64) bool {
	if danglingPointer && !calledBefore {
		// No reader could have taken a reference to the old value between
		// the structural unlink and this call: nothing to preserve.
		c.versions.Reclaim(removedAt.WorkerID, removedAt.CommandID)
		return true
	}

	if removedCommitTS < olapLowWaterMark {
		// Every OLAP scan that could have seen the pre-remove value has
		// since finished; safe to drop both the graveyard entry (if any
		// earlier Todo call parked one) and the version record.
		c.grave.Delete(key)
		c.versions.Reclaim(removedAt.WorkerID, removedAt.CommandID)
		return true
	}

	// An OLAP scan that started before the remove committed might still
	// need to see this row; park it where a scan merging graveyard entries
	// can find it, and ask the caller to retry later.
	c.grave.Upsert(key, removedValue)
	return false
}

// Unlock clears a tuple's write-lock flag, the 2PL release step run once a
// transaction using Serializable2PL commits or aborts (spec §4.9's unlock
// callback, spec §5's 2PL discipline). The caller must already hold the
// owning page's exclusive latch.
func Unlock(h *tuple.Header) {
	tuple.WriteUnlock(h)
}
