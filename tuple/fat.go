// Fat-format tuple operations: the in-page slot holds the header, the
// current value, and a bounded ring of inline deltas recording enough
// history to satisfy most readers without a version-store round trip (spec
// §3, §4.2). Capacity is config.FatDeltaCapacity; once full, FatUpdate
// evicts the oldest delta to the external version store exactly like a
// chained tuple's update would have recorded it directly, so a fat tuple
// degrades gracefully into behaving like a chained one with a short
// in-page prefix rather than ever blocking an update.
//
// Grounded on bnclabs-gostore/llrb/value.go's fixed-header-plus-trailing-
// payload encoding (there: one value plus its size prefix; here: one value
// plus a self-describing list of prior diffs) and on llrb/node.go's
// inline small-object layout more generally.
package tuple

import "encoding/binary"

// FatDelta is one inline history entry: the (worker, tx, command) identity
// of the update that produced the *previous* value, the descriptor of what
// changed, and the XOR diff needed to recover that previous value from the
// one immediately newer than it.
type FatDelta struct {
	Prev       Triple
	Descriptor UpdateDescriptor
	Diff       []byte
}

func (d FatDelta) encodedSize() int {
	return 2 + 8 + 8 + d.Descriptor.Size() + len(d.Diff)
}

func (d FatDelta) encode(buf []byte) int {
	off := 0
	binary.LittleEndian.PutUint16(buf[off:], d.Prev.WorkerID)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], d.Prev.TxID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], d.Prev.CommandID)
	off += 8
	d.Descriptor.Encode(buf[off:])
	off += d.Descriptor.Size()
	off += copy(buf[off:], d.Diff)
	return off
}

func decodeFatDelta(buf []byte) (FatDelta, int) {
	var d FatDelta
	off := 0
	d.Prev.WorkerID = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	d.Prev.TxID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	d.Prev.CommandID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	desc, n := DecodeDescriptor(buf[off:])
	d.Descriptor = desc
	off += n
	d.Diff = append([]byte(nil), buf[off:off+desc.DiffLength()]...)
	off += desc.DiffLength()
	return d, off
}

// FatTuple is the decoded view of a fat-format slot payload.
type FatTuple struct {
	Header Header
	Value  []byte
	Deltas []FatDelta // newest first
}

// DecodeFat parses a fat-format slot payload.
func DecodeFat(buf []byte) FatTuple {
	h := Decode(buf)
	off := HeaderSize
	valueLen := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	value := buf[off : off+valueLen]
	off += valueLen
	count := int(buf[off])
	off++
	deltas := make([]FatDelta, count)
	for i := 0; i < count; i++ {
		d, n := decodeFatDelta(buf[off:])
		deltas[i] = d
		off += n
	}
	return FatTuple{Header: h, Value: value, Deltas: deltas}
}

// EncodedSize returns the total slot payload width ft would encode to.
func (ft FatTuple) EncodedSize() int {
	n := HeaderSize + 2 + len(ft.Value) + 1
	for _, d := range ft.Deltas {
		n += d.encodedSize()
	}
	return n
}

// Encode serializes ft into a fresh slot payload.
func (ft FatTuple) Encode() []byte {
	buf := make([]byte, ft.EncodedSize())
	Encode(buf, ft.Header)
	off := HeaderSize
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(ft.Value)))
	off += 2
	off += copy(buf[off:], ft.Value)
	buf[off] = byte(len(ft.Deltas))
	off++
	for _, d := range ft.Deltas {
		off += d.encode(buf[off:])
	}
	return buf
}

// PromoteToFat converts a chained tuple's decoded header+value into the fat
// representation with an empty delta ring, gated by config.FatTuple and the
// random promotion gate (spec §4.2: "a random gate fires, and only if
// multi-version, fat-tuple conversion, and a chain long enough to be worth
// collapsing are all enabled"). The caller is responsible for evaluating the
// gate probability and chain-length precondition before calling this.
func PromoteToFat(h Header, value []byte) FatTuple {
	h.Format = Fat
	h.CanConvertToFat = false
	return FatTuple{Header: h, Value: append([]byte(nil), value...)}
}

// DecomposeToChained collapses a fat tuple back to chained format by
// evicting every inline delta to the version store oldest-first, leaving
// only the current value in the slot (spec §4.6's leaf GC decomposing a fat
// tuple to reclaim page space).
func DecomposeToChained(ft FatTuple, versions VersionSink) Header {
	h := ft.Header
	h.Format = Chained
	prevTriple := h.Triple()
	for i := len(ft.Deltas) - 1; i >= 0; i-- {
		d := ft.Deltas[i]
		cmdID := versions.AppendUpdateVersion(prevTriple.WorkerID, prevTriple.TxID, prevTriple.CommandID, true, d.Descriptor, d.Diff)
		prevTriple = Triple{WorkerID: h.WorkerID, TxID: h.TxID, CommandID: cmdID}
	}
	if len(ft.Deltas) > 0 {
		h.CommandID = prevTriple.CommandID
	}
	return h
}

// FatUpdate applies mutate over descriptor's ranges, pushes the resulting
// diff onto the front of the delta ring, and evicts the oldest delta to
// versions once the ring exceeds capacity (spec §4.2 "fat_update"). Returns
// the updated tuple; value length is unchanged, matching ChainedUpdate's
// same-length constraint. As with ChainedUpdate, ft.Header.IsWriteLocked
// passes through unchanged; the caller decides when to release it.
//
// Eviction re-addressing: an evicted delta is handed to versions under a
// freshly assigned (writer.WorkerID, writer.TxID, commandID) address —
// versions.AppendUpdateVersion always files into the writer's own log, the
// same convention ChainedUpdate relies on. Whatever in-page entry used to
// be the "next hop" back to the evicted delta (the new ring boundary, or the
// header itself if the ring is now empty) must be rewritten to that fresh
// address, or Reconstruct's fallback to the version store would look up an
// address nothing was ever filed under.
func FatUpdate(ft FatTuple, descriptor UpdateDescriptor, mutate func([]byte), writer Triple, capacity int, versions VersionSink) FatTuple {
	preimage := make([]byte, len(ft.Value))
	copy(preimage, ft.Value)
	mutate(ft.Value)
	diff := ExtractXOR(descriptor, preimage, ft.Value)

	prevTriple := ft.Header.Triple()
	ft.Deltas = append([]FatDelta{{Prev: prevTriple, Descriptor: descriptor, Diff: diff}}, ft.Deltas...)

	lastEvictedAt := Triple{}
	evicted := false
	for len(ft.Deltas) > capacity {
		oldest := ft.Deltas[len(ft.Deltas)-1]
		ft.Deltas = ft.Deltas[:len(ft.Deltas)-1]
		cmdID := versions.AppendUpdateVersion(oldest.Prev.WorkerID, oldest.Prev.TxID, oldest.Prev.CommandID, true, oldest.Descriptor, oldest.Diff)
		lastEvictedAt = Triple{WorkerID: writer.WorkerID, TxID: writer.TxID, CommandID: cmdID}
		evicted = true
		if n := len(ft.Deltas); n > 0 {
			ft.Deltas[n-1].Prev = lastEvictedAt
		}
	}

	ft.Header.WorkerID = writer.WorkerID
	ft.Header.TxID = writer.TxID
	if evicted && len(ft.Deltas) == 0 {
		// capacity 0 (or the ring just drained entirely): nothing in-page
		// carries the boundary pointer forward, so the header itself must
		// address where the last eviction landed rather than an unrelated
		// caller-supplied command id.
		ft.Header.CommandID = lastEvictedAt.CommandID
	} else {
		ft.Header.CommandID = writer.CommandID
	}
	return ft
}

// UndoLast reverts the most recent delta — the in-flight update a rollback
// is unwinding (spec §4.8) — back into the current value, popping it off the
// ring, and restores the header to the delta's Prev identity. It panics if
// there is no delta to undo; callers must only invoke it when WAL replay
// confirms the last record on this tuple was this same update.
func (ft FatTuple) UndoLast() FatTuple {
	if len(ft.Deltas) == 0 {
		panic("tuple: fat undo with empty delta ring")
	}
	last := ft.Deltas[0]
	last.Descriptor.ApplyXOR(ft.Value, last.Diff)
	ft.Deltas = ft.Deltas[1:]
	ft.Header.WorkerID = last.Prev.WorkerID
	ft.Header.TxID = last.Prev.TxID
	ft.Header.CommandID = last.Prev.CommandID
	return ft
}
