package tuple

import (
	"bytes"
	"testing"
)

func TestHeaderEncodeDecode(t *testing.T) {
	h := Header{
		Format:          Fat,
		WorkerID:        7,
		TxID:            42,
		CommandID:       3,
		IsWriteLocked:   true,
		IsRemoved:       false,
		CanConvertToFat: true,
		ReadTSOrLockCtr: 99,
	}
	buf := make([]byte, HeaderSize)
	Encode(buf, h)
	got := Decode(buf)
	if got != h {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderVisibleOwnWrite(t *testing.T) {
	h := Header{WorkerID: 1, TxID: 10}
	reader := Reader{WorkerID: 1, TTS: 10}
	if !h.Visible(reader, false) {
		t.Fatal("writer must see its own uncommitted write")
	}
}

func TestHeaderVisibleInProgress(t *testing.T) {
	h := Header{WorkerID: 2, TxID: 10}
	reader := Reader{
		WorkerID:   1,
		TTS:        20,
		InProgress: func(w uint16, tx uint64) bool { return w == 2 && tx == 10 },
	}
	if h.Visible(reader, false) {
		t.Fatal("row from an in-progress transaction must not be visible")
	}
}

func TestHeaderVisibleFuture(t *testing.T) {
	h := Header{WorkerID: 2, TxID: 100}
	reader := Reader{WorkerID: 1, TTS: 20, Mode: SnapshotIsolation}
	if h.Visible(reader, false) {
		t.Fatal("snapshot reader must not see a future write")
	}
}

func TestUpdateDescriptorXORRoundtrip(t *testing.T) {
	old := []byte("0123456789")
	cur := append([]byte(nil), old...)
	copy(cur[2:5], "XYZ")
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 2, Length: 3}}}

	diff := ExtractXOR(desc, old, cur)
	recovered := append([]byte(nil), cur...)
	desc.ApplyXOR(recovered, diff)
	if !bytes.Equal(recovered, old) {
		t.Fatalf("XOR undo mismatch: got %q, want %q", recovered, old)
	}
}

type fakeSink struct {
	records []fakeRecord
}

type fakeRecord struct {
	prev            Triple
	isDelta         bool
	isRemove        bool
	descriptor      UpdateDescriptor
	payload         []byte
	danglingPointer bool
}

func (s *fakeSink) AppendUpdateVersion(prevWorkerID uint16, prevTxID, prevCommandID uint64, isDelta bool, descriptor UpdateDescriptor, payload []byte) uint64 {
	id := uint64(len(s.records))
	s.records = append(s.records, fakeRecord{
		prev:       Triple{prevWorkerID, prevTxID, prevCommandID},
		isDelta:    isDelta,
		descriptor: descriptor,
		payload:    append([]byte(nil), payload...),
	})
	return id
}

func (s *fakeSink) AppendRemoveVersion(prevWorkerID uint16, prevTxID, prevCommandID uint64, keyLen, valueLen int, danglingPointer bool, payload []byte) uint64 {
	id := uint64(len(s.records))
	s.records = append(s.records, fakeRecord{
		prev:            Triple{prevWorkerID, prevTxID, prevCommandID},
		isRemove:        true,
		danglingPointer: danglingPointer,
		payload:         append([]byte(nil), payload...),
	})
	return id
}

func (s *fakeSink) Lookup(workerID uint16, txID, commandID uint64) (VersionRecord, bool) {
	if int(commandID) >= len(s.records) {
		return VersionRecord{}, false
	}
	r := s.records[commandID]
	return VersionRecord{
		Prev:            r.prev,
		IsDelta:         r.isDelta,
		IsRemove:        r.isRemove,
		Descriptor:      r.descriptor,
		Payload:         r.payload,
		DanglingPointer: r.danglingPointer,
	}, true
}

func TestChainedUpdateAndReconstruct(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	value := []byte("aaaa")
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 0, Length: 4}}}

	writer := Triple{WorkerID: 1, TxID: 2, CommandID: 0}
	h = ChainedUpdate(h, value, desc, func(v []byte) { copy(v, "bbbb") }, writer, false, sink)

	if h.WorkerID != 1 || h.TxID != 2 {
		t.Fatalf("header not updated to writer identity: %+v", h)
	}
	if string(value) != "bbbb" {
		t.Fatalf("value not mutated: %q", value)
	}

	oldReader := Reader{WorkerID: 9, TTS: 1}
	got, outcome := Reconstruct(h, value, nil, oldReader, 128, sink)
	if outcome != Found {
		t.Fatalf("expected Found, got %v", outcome)
	}
	if string(got) != "aaaa" {
		t.Fatalf("reconstructed value = %q, want aaaa", got)
	}

	newReader := Reader{WorkerID: 9, TTS: 5}
	got, outcome = Reconstruct(h, value, nil, newReader, 128, sink)
	if outcome != Found || string(got) != "bbbb" {
		t.Fatalf("current reader should see bbbb unresolved, got %q outcome %v", got, outcome)
	}
}

func TestFatPromoteUpdateUndo(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	ft := PromoteToFat(h, []byte("aaaa"))
	if ft.Header.Format != Fat {
		t.Fatal("promoted tuple must report Fat format")
	}

	desc := UpdateDescriptor{Ranges: []Range{{Offset: 0, Length: 4}}}
	writer := Triple{WorkerID: 1, TxID: 2, CommandID: 0}
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v, "bbbb") }, writer, 8, sink)

	if len(ft.Deltas) != 1 {
		t.Fatalf("expected one inline delta, got %d", len(ft.Deltas))
	}
	if string(ft.Value) != "bbbb" {
		t.Fatalf("fat value not updated: %q", ft.Value)
	}

	undone := ft.UndoLast()
	if string(undone.Value) != "aaaa" {
		t.Fatalf("undo did not restore original value: %q", undone.Value)
	}
	if len(undone.Deltas) != 0 {
		t.Fatalf("undo must pop the delta, got %d remaining", len(undone.Deltas))
	}
	if undone.Header.WorkerID != 1 || undone.Header.TxID != 1 {
		t.Fatalf("undo must restore prior writer identity: %+v", undone.Header)
	}
}

func TestFatUpdateEvictsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	ft := PromoteToFat(h, []byte("aaaa"))
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 0, Length: 4}}}

	for i := 0; i < 3; i++ {
		writer := Triple{WorkerID: 1, TxID: uint64(i + 2), CommandID: 0}
		ft = FatUpdate(ft, desc, func(v []byte) { v[0] ^= 1 }, writer, 2, sink)
	}

	if len(ft.Deltas) != 2 {
		t.Fatalf("ring must be capped at capacity 2, got %d", len(ft.Deltas))
	}
	if len(sink.records) != 1 {
		t.Fatalf("exactly one delta should have been evicted to the version store, got %d", len(sink.records))
	}
}

func TestEncodeDecodeFatRoundtrip(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	ft := PromoteToFat(h, []byte("aaaa"))
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 1, Length: 2}}}
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v[1:3], "ZZ") }, Triple{1, 2, 0}, 8, sink)

	buf := ft.Encode()
	got := DecodeFat(buf)

	if !bytes.Equal(got.Value, ft.Value) {
		t.Fatalf("value mismatch after roundtrip: %q vs %q", got.Value, ft.Value)
	}
	if len(got.Deltas) != 1 || !bytes.Equal(got.Deltas[0].Diff, ft.Deltas[0].Diff) {
		t.Fatalf("delta mismatch after roundtrip: %+v vs %+v", got.Deltas, ft.Deltas)
	}
}

func TestFatUpdateEvictionRewritesRingBoundary(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	ft := PromoteToFat(h, []byte("aaaa"))
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 0, Length: 4}}}

	// capacity 1: every update after the first evicts the ring's sole prior
	// delta, so two updates in a row exercise a second eviction rewriting a
	// boundary that itself was set by the first eviction.
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v, "bbbb") }, Triple{1, 2, 0}, 1, sink)
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v, "cccc") }, Triple{1, 3, 0}, 1, sink)
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v, "dddd") }, Triple{1, 4, 0}, 1, sink)

	if len(sink.records) != 2 {
		t.Fatalf("expected two evictions, got %d records", len(sink.records))
	}
	if len(ft.Deltas) != 1 {
		t.Fatalf("expected ring capped at 1, got %d", len(ft.Deltas))
	}

	// The remaining delta's Prev must address the *second* eviction's fresh
	// record (worker/tx 1/4, commandID 1), not the stale pre-eviction
	// identity it carried before the second eviction ran.
	want := Triple{WorkerID: 1, TxID: 4, CommandID: 1}
	if ft.Deltas[0].Prev != want {
		t.Fatalf("ring boundary not rewritten to fresh eviction address: got %+v, want %+v", ft.Deltas[0].Prev, want)
	}

	// The second eviction moved the bbbb→cccc delta out of the ring, so the
	// record at the boundary address carries that delta's diff.
	evictedDiff := ExtractXOR(desc, []byte("bbbb"), []byte("cccc"))
	rec, ok := sink.Lookup(want.WorkerID, want.TxID, want.CommandID)
	if !ok || !bytes.Equal(rec.Payload, evictedDiff) {
		t.Fatal("boundary address does not resolve to a record consistent with the second eviction")
	}
}

func TestFatUpdateEvictionAtZeroCapacityRewritesHeader(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	ft := PromoteToFat(h, []byte("aaaa"))
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 0, Length: 4}}}

	// capacity 0: the single delta this update produces is evicted
	// immediately, draining the ring to empty, so nothing in-page carries
	// the boundary forward and the header itself must take on the eviction
	// address instead of the writer's own (unrelated) commandID.
	writer := Triple{WorkerID: 1, TxID: 2, CommandID: 99}
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v, "bbbb") }, writer, 0, sink)

	if len(ft.Deltas) != 0 {
		t.Fatalf("expected ring drained to empty at capacity 0, got %d deltas", len(ft.Deltas))
	}
	if len(sink.records) != 1 {
		t.Fatalf("expected exactly one eviction, got %d", len(sink.records))
	}
	if ft.Header.CommandID != 0 {
		t.Fatalf("header must address the eviction record (commandID 0), got %d (writer's raw commandID was %d)", ft.Header.CommandID, writer.CommandID)
	}
}

func TestDecomposeToChained(t *testing.T) {
	sink := &fakeSink{}
	h := Header{WorkerID: 1, TxID: 1, CommandID: InvalidCommandID}
	ft := PromoteToFat(h, []byte("aaaa"))
	desc := UpdateDescriptor{Ranges: []Range{{Offset: 0, Length: 4}}}
	ft = FatUpdate(ft, desc, func(v []byte) { copy(v, "bbbb") }, Triple{1, 2, 0}, 8, sink)

	got := DecomposeToChained(ft, sink)
	if got.Format != Chained {
		t.Fatal("decompose must report Chained format")
	}
	if len(sink.records) != 1 {
		t.Fatalf("the single inline delta must have been flushed to the version store, got %d records", len(sink.records))
	}
}
