// Chained-format tuple operations: the in-page slot holds the header plus
// the current full value; history lives in the external version store as a
// backward-linked chain of XOR diffs (spec §3, §4.2). Grounded on
// bnclabs-gostore/llrb/mvcc.go's clone-and-link approach to versioned
// updates (each mutation produces a new node linked to its predecessor
// rather than mutating history in place), adapted here to an in-page
// current value plus an external diff chain instead of whole-node clones.
package tuple

// VersionSink is the external version-store collaborator a writer appends
// history to while mutating a chained or fat tuple (spec §6). It is a
// narrow, tuple-package-local interface so this package never imports the
// version or worker packages directly; the btree package wires a concrete
// implementation in.
type VersionSink interface {
	// AppendUpdateVersion records the superseded value (or diff) with a
	// back link to (prevWorkerID, prevTxID, prevCommandID), files it under
	// the sink's own worker and transaction, and returns the command id
	// assigned to the new record.
	AppendUpdateVersion(prevWorkerID uint16, prevTxID, prevCommandID uint64, isDelta bool, descriptor UpdateDescriptor, payload []byte) (commandID uint64)

	// AppendRemoveVersion records a tombstoned row's last value so
	// reconstruction and OLAP scans can still see it (spec §4.6, §4.9).
	AppendRemoveVersion(prevWorkerID uint16, prevTxID, prevCommandID uint64, keyLen, valueLen int, danglingPointer bool, payload []byte) (commandID uint64)
}

// DecodeChained splits a chained-format slot payload into its header and
// current value.
func DecodeChained(buf []byte) (Header, []byte) {
	h := Decode(buf)
	return h, buf[HeaderSize:]
}

// EncodeChained serializes a header and value into a slot payload.
func EncodeChained(h Header, value []byte) []byte {
	buf := make([]byte, HeaderSize+len(value))
	Encode(buf, h)
	copy(buf[HeaderSize:], value)
	return buf
}

// TryWriteLock sets the write-lock flag, failing if another writer already
// holds it (spec §4.1's write-lock bit, applied at tuple granularity). The
// caller must already hold the page's exclusive latch; this only protects
// against a second concurrent transaction discovering the same row.
func TryWriteLock(h *Header) bool {
	if h.IsWriteLocked {
		return false
	}
	h.IsWriteLocked = true
	return true
}

// WriteUnlock clears the write-lock flag, e.g. after a 2PL commit/abort
// runs its Unlock callback (spec §4.9).
func WriteUnlock(h *Header) { h.IsWriteLocked = false }

// ChainedUpdate applies mutate to value in place over the spans named by
// descriptor, pushes the pre-image diff to versions, and rewrites the
// header to the writer's identity (spec §4.2 "chained_update"). value's
// length is unchanged by construction — same-length mutation is the only
// shape chained_update supports; callers needing to change length must
// remove and reinsert. The caller is expected to have already run
// TryWriteLock (or otherwise confirmed ownership) before calling: h.IsWriteLocked
// passes through unchanged here, since only the caller knows whether this
// write is single-statement (release now) or part of a longer 2PL
// transaction (release later via an explicit Unlock, spec §4.9).
func ChainedUpdate(h Header, value []byte, descriptor UpdateDescriptor, mutate func([]byte), writer Triple, elideVersion bool, versions VersionSink) Header {
	var preimage []byte
	if !elideVersion {
		preimage = make([]byte, len(value))
		copy(preimage, value)
	}
	mutate(value)

	if !elideVersion {
		diff := ExtractXOR(descriptor, preimage, value)
		cmdID := versions.AppendUpdateVersion(h.WorkerID, h.TxID, h.CommandID, true, descriptor, diff)
		h.CommandID = cmdID
	}
	h.WorkerID = writer.WorkerID
	h.TxID = writer.TxID
	if elideVersion {
		h.CommandID = writer.CommandID
	}
	return h
}

// ChainedRemove pushes value as a remove-version (so a concurrent OLAP scan
// or an in-flight reconstruction can still see the last committed value)
// and marks the header removed. The btree layer keeps the slot in the page,
// marked removed; leaf GC later drops it (spec §4.6's leaf GC owns reclaiming
// the bytes; ChainedRemove only updates the version chain and header bits). As
// with ChainedUpdate, h.IsWriteLocked passes through unchanged; the caller
// decides when to release it.
func ChainedRemove(h Header, value []byte, keyLen int, writer Triple, danglingPointer bool, versions VersionSink) Header {
	cmdID := versions.AppendRemoveVersion(h.WorkerID, h.TxID, h.CommandID, keyLen, len(value), danglingPointer, value)
	h.WorkerID = writer.WorkerID
	h.TxID = writer.TxID
	h.CommandID = cmdID
	h.IsRemoved = true
	return h
}
