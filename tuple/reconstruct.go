// Reconstruct walks a tuple's version chain backward, XOR-undoing deltas
// off the current value, until it finds a version visible to the asking
// reader (spec §4.7). It first drains a fat tuple's in-page delta ring
// (spec §4.2's whole point of carrying inline history) before falling back
// to the external version store, so the common case of a recent reader
// never leaves the page.
package tuple

// VersionRecord is a single entry fetched from the external version store,
// shaped to cover both update and remove records (spec §3's
// UpdateVersion/RemoveVersion).
type VersionRecord struct {
	Prev            Triple
	IsDelta         bool
	IsRemove        bool
	Descriptor      UpdateDescriptor
	Payload         []byte // diff bytes if IsDelta, else a full value
	DanglingPointer bool
}

// VersionSource is the read side of the external version store (spec §6);
// VersionSink above is the write side.
type VersionSource interface {
	Lookup(workerID uint16, txID, commandID uint64) (VersionRecord, bool)
}

// Outcome is Reconstruct's result, kept local to this package so it has no
// dependency on the api package's richer OpResult (btree maps between the
// two at the boundary).
type Outcome int

const (
	Found Outcome = iota
	NotFoundOutcome
	ChainTooLongOutcome
)

// Reconstruct resolves the value of a tuple as seen by reader. deltas are
// the fat tuple's in-page ring (pass nil for a chained tuple). maxChain
// bounds the total number of external version-store hops walked, matching
// vi_max_chain_length (spec §6); exceeding it yields ChainTooLongOutcome
// rather than looping forever over a corrupt or pathological chain.
func Reconstruct(h Header, value []byte, deltas []FatDelta, reader Reader, maxChain int, source VersionSource) ([]byte, Outcome) {
	if h.Visible(reader, false) {
		if h.IsRemoved {
			return nil, NotFoundOutcome
		}
		return value, Found
	}

	cur := append([]byte(nil), value...)
	triple := h.Triple()
	hops := 0

	for _, d := range deltas {
		d.Descriptor.ApplyXOR(cur, d.Diff)
		triple = d.Prev
		if visibleTriple(triple, reader) {
			return cur, Found
		}
	}

	for {
		hops++
		if hops > maxChain {
			return nil, ChainTooLongOutcome
		}
		rec, ok := source.Lookup(triple.WorkerID, triple.TxID, triple.CommandID)
		if !ok {
			return nil, NotFoundOutcome
		}
		if rec.IsRemove {
			// rec.Payload is always a full pre-remove value, never a diff:
			// the row's entire history collapses to one snapshot at the
			// moment it was removed (spec §4.6/§4.9).
			cur = append([]byte(nil), rec.Payload...)
			triple = rec.Prev
			if visibleTriple(triple, reader) {
				return cur, Found
			}
			continue
		}
		if rec.IsDelta {
			rec.Descriptor.ApplyXOR(cur, rec.Payload)
		} else {
			cur = append([]byte(nil), rec.Payload...)
		}
		triple = rec.Prev
		if visibleTriple(triple, reader) {
			return cur, Found
		}
	}
}

func visibleTriple(t Triple, reader Reader) bool {
	h := Header{WorkerID: t.WorkerID, TxID: t.TxID, CommandID: t.CommandID}
	return h.Visible(reader, false)
}
