package btree

import (
	"testing"

	s "github.com/prataprc/gosettings"

	"github.com/bnclabs/leanbtree/api"
	"github.com/bnclabs/leanbtree/config"
	"github.com/bnclabs/leanbtree/page"
	"github.com/bnclabs/leanbtree/tuple"
	"github.com/bnclabs/leanbtree/worker"
)

func newTestTree(overrides s.Settings) (*Tree, *worker.Registry) {
	cfg := config.Defaults(overrides)
	registry := worker.NewRegistry()
	return New(cfg, registry), registry
}

func TestInsertLookupBasic(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	tx := w.Begin(registry.NextTimestamp(), tuple.SnapshotIsolation)
	writer := tuple.Triple{WorkerID: w.ID(), TxID: tx.ID}

	result, err := tree.Insert([]byte("a"), []byte("1"), writer, true)
	if err != nil || result != api.OK {
		t.Fatalf("insert failed: result=%v err=%v", result, err)
	}

	reader := tuple.Reader{WorkerID: w.ID(), TTS: tx.ID}
	value, result, err := tree.Lookup([]byte("a"), reader)
	if err != nil || result != api.OK || string(value) != "1" {
		t.Fatalf("lookup mismatch: value=%q result=%v err=%v", value, result, err)
	}
}

func TestInsertDuplicate(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1}

	tree.Insert([]byte("a"), []byte("1"), writer, true)
	result, err := tree.Insert([]byte("a"), []byte("2"), writer, true)
	if err != nil || result != api.Duplicate {
		t.Fatalf("expected Duplicate, got result=%v err=%v", result, err)
	}
}

func TestInsertDuplicateAbortsWhenUncommittedElsewhere(t *testing.T) {
	tree, registry := newTestTree(nil)
	w1 := registry.Register()
	w2 := registry.Register()
	tx1 := w1.Begin(registry.NextTimestamp(), tuple.SnapshotIsolation)
	writer1 := tuple.Triple{WorkerID: w1.ID(), TxID: tx1.ID}

	// Not single-statement: w1's insert stays uncommitted (w1 still shows
	// busy in the registry) so a second worker colliding on the same key
	// must abort rather than see a plain Duplicate (spec §4.4).
	result, err := tree.Insert([]byte("a"), []byte("1"), writer1, false)
	if err != nil || result != api.OK {
		t.Fatalf("insert failed: result=%v err=%v", result, err)
	}

	writer2 := tuple.Triple{WorkerID: w2.ID(), TxID: 1}
	result, err = tree.Insert([]byte("a"), []byte("2"), writer2, true)
	if err != nil || result != api.AbortTx {
		t.Fatalf("expected AbortTx for a collision with an in-progress insert, got result=%v err=%v", result, err)
	}
}

func TestLookupNotFound(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	reader := tuple.Reader{WorkerID: w.ID(), TTS: 1}
	_, result, err := tree.Lookup([]byte("missing"), reader)
	if err != nil || result != api.NotFound {
		t.Fatalf("expected NotFound, got result=%v err=%v", result, err)
	}
}

func TestUpdateSameSizeInPlaceAndMVCCVisibility(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer1 := tuple.Triple{WorkerID: w.ID(), TxID: 1}
	tree.Insert([]byte("a"), []byte("aaaa"), writer1, true)

	// A second worker with a transaction in flight keeps the registry from
	// reporting all workers idle, so the update records a version instead of
	// eliding it.
	rw := registry.Register()
	rw.Begin(registry.NextTimestamp(), tuple.SnapshotIsolation)

	writer2 := tuple.Triple{WorkerID: w.ID(), TxID: 2}
	desc := tuple.UpdateDescriptor{Ranges: []tuple.Range{{Offset: 0, Length: 4}}}
	result, err := tree.UpdateSameSizeInPlace([]byte("a"), desc, func(v []byte) { copy(v, "bbbb") }, writer2, true)
	if err != nil || result != api.OK {
		t.Fatalf("update failed: result=%v err=%v", result, err)
	}

	newReader := tuple.Reader{WorkerID: 99, TTS: 10}
	value, _, _ := tree.Lookup([]byte("a"), newReader)
	if string(value) != "bbbb" {
		t.Fatalf("expected current value bbbb, got %q", value)
	}

	oldReader := tuple.Reader{WorkerID: 99, TTS: 1}
	value, result, err = tree.Lookup([]byte("a"), oldReader)
	if err != nil || result != api.OK || string(value) != "aaaa" {
		t.Fatalf("expected reconstructed aaaa, got value=%q result=%v err=%v", value, result, err)
	}
}

func TestRemoveThenLookup(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1}
	tree.Insert([]byte("a"), []byte("v1v1"), writer, true)

	result, err := tree.Remove([]byte("a"), tuple.Triple{WorkerID: w.ID(), TxID: 2}, false, true)
	if err != nil || result != api.OK {
		t.Fatalf("remove failed: result=%v err=%v", result, err)
	}

	reader := tuple.Reader{WorkerID: 99, TTS: 10}
	_, result, err = tree.Lookup([]byte("a"), reader)
	if err != nil || result != api.NotFound {
		t.Fatalf("expected NotFound after remove, got result=%v err=%v", result, err)
	}

	oldReader := tuple.Reader{WorkerID: 99, TTS: 1}
	value, result, err := tree.Lookup([]byte("a"), oldReader)
	if err != nil || result != api.OK || string(value) != "v1v1" {
		t.Fatalf("expected an OLAP-style reader to still see v1v1, got value=%q result=%v err=%v", value, result, err)
	}
}

func TestLookupAndScanAscConsultGraveyardForOLAPReader(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1}
	tree.Insert([]byte("a"), []byte("v1v1"), writer, true)
	tree.Insert([]byte("b"), []byte("v2v2"), writer, true)

	result, err := tree.Remove([]byte("a"), tuple.Triple{WorkerID: w.ID(), TxID: 2}, false, true)
	if err != nil || result != api.OK {
		t.Fatalf("remove failed: result=%v err=%v", result, err)
	}

	// Simulate a completed leaf GC pass parking "a" in the graveyard: strip
	// its slot from the primary page directly (mirroring
	// TestRemoveFatTupleUnsupported's direct page manipulation) rather than
	// depending on CheckSpaceUtilization's garbage-ratio heuristics, then
	// seed the graveyard the way gc.Collector.Todo would have.
	leaf := tree.leafFor([]byte("a"))
	g, err := page.NewRoot(leaf, page.Exclusive)
	if err != nil {
		t.Fatalf("NewRoot failed: %v", err)
	}
	idx, found := g.Page().Seek([]byte("a"))
	if !found {
		t.Fatal("expected \"a\" slot to still be present before simulated GC")
	}
	g.Page().DeleteSlot(idx)
	g.Close()
	tree.grave.Upsert([]byte("a"), []byte("v1v1"))

	olapReader := tuple.Reader{WorkerID: 99, TTS: 1, Mode: tuple.OLAP}
	value, result, err := tree.Lookup([]byte("a"), olapReader)
	if err != nil || result != api.OK || string(value) != "v1v1" {
		t.Fatalf("expected OLAP reader to find tombstone via graveyard, got value=%q result=%v err=%v", value, result, err)
	}

	var seen []string
	err = tree.ScanAsc(nil, nil, olapReader, func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	want := []string{"a", "b"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("expected graveyard-merged scan %v, got %v", want, seen)
	}
}

func TestScanAscOrdersKeysAndFiltersInvisible(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1}
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		tree.Insert([]byte(k), []byte(k+k), writer, true)
	}
	// written after the reader's snapshot, so the scan must skip it
	tree.Insert([]byte("f"), []byte("ff"), tuple.Triple{WorkerID: w.ID(), TxID: 20}, true)

	reader := tuple.Reader{WorkerID: 99, TTS: 10}
	var seen []string
	err := tree.ScanAsc(nil, nil, reader, func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	want := []string{"a", "b", "c", "d", "e"}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestScanDescRejectsOLAP(t *testing.T) {
	tree, _ := newTestTree(nil)
	reader := tuple.Reader{Mode: tuple.OLAP}
	err := tree.ScanDesc(nil, nil, reader, func(key, value []byte) bool { return true })
	if err == nil {
		t.Fatal("expected ScanDesc under OLAP mode to error")
	}
}

func TestScanDescOrdersDescending(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1}
	for _, k := range []string{"a", "b", "c"} {
		tree.Insert([]byte(k), []byte(k), writer, true)
	}

	reader := tuple.Reader{WorkerID: 99, TTS: 10}
	var seen []string
	tree.ScanDesc(nil, nil, reader, func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	want := []string{"c", "b", "a"}
	for i := range want {
		if i >= len(seen) || seen[i] != want[i] {
			t.Fatalf("got %v, want %v", seen, want)
		}
	}
}

func TestInsertTriggersSplitUnderSmallCapacity(t *testing.T) {
	tree, registry := newTestTree(s.Settings{"page.capacity": int64(256)})
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1}

	for i := 0; i < 40; i++ {
		key := []byte{byte('a' + i%26), byte('0' + i/26)}
		result, err := tree.Insert(key, []byte("0123456789"), writer, true)
		if err != nil || (result != api.OK && result != api.NotEnoughSpace) {
			t.Fatalf("insert %d failed: result=%v err=%v", i, result, err)
		}
	}

	if len(tree.leaves) < 2 {
		t.Fatalf("expected at least one split to have occurred, got %d leaves", len(tree.leaves))
	}

	reader := tuple.Reader{WorkerID: 99, TTS: 100}
	count := 0
	tree.ScanAsc(nil, nil, reader, func(key, value []byte) bool {
		count++
		return true
	})
	if count == 0 {
		t.Fatal("expected scan to find rows across split leaves")
	}
}

func TestRemoveFatTupleUnsupported(t *testing.T) {
	tree, registry := newTestTree(nil)
	w := registry.Register()
	writer := tuple.Triple{WorkerID: w.ID(), TxID: 1, CommandID: tuple.InvalidCommandID}
	tree.Insert([]byte("a"), []byte("1234"), writer, true)

	leaf := tree.leafFor([]byte("a"))
	g, _ := page.NewRoot(leaf, page.Exclusive)
	idx, _ := g.Page().Seek([]byte("a"))
	h := tuple.Decode(g.Page().ValueAt(idx))
	_, value := tuple.DecodeChained(g.Page().ValueAt(idx))
	ft := tuple.PromoteToFat(h, value)
	payload := ft.Encode()
	if g.Page().ExtendOrShorten(idx, len(payload)) {
		g.Page().WriteValueAt(idx, 0, payload)
	}
	g.Close()

	result, err := tree.Remove([]byte("a"), tuple.Triple{WorkerID: w.ID(), TxID: 2}, false, true)
	if result != api.Other || err == nil {
		t.Fatalf("expected fat-remove-unsupported error, got result=%v err=%v", result, err)
	}
}
