package wal

import (
	"bytes"
	"testing"
)

func TestInsertEntryRoundtrip(t *testing.T) {
	buf := EncodeInsert(InsertEntry{Key: []byte("hello")})
	kind, v := Decode(buf)
	if kind != KindInsert {
		t.Fatalf("expected KindInsert, got %v", kind)
	}
	e := v.(InsertEntry)
	if !bytes.Equal(e.Key, []byte("hello")) {
		t.Fatalf("key mismatch: %q", e.Key)
	}
}

func TestRemoveEntryRoundtrip(t *testing.T) {
	buf := EncodeRemove(RemoveEntry{Key: []byte("k"), Value: []byte("v1v2v3")})
	kind, v := Decode(buf)
	if kind != KindRemove {
		t.Fatalf("expected KindRemove, got %v", kind)
	}
	e := v.(RemoveEntry)
	if !bytes.Equal(e.Key, []byte("k")) || !bytes.Equal(e.Value, []byte("v1v2v3")) {
		t.Fatalf("roundtrip mismatch: %+v", e)
	}
}

func TestUnlockEntryRoundtrip(t *testing.T) {
	buf := EncodeUnlock(UnlockEntry{Key: []byte("x")})
	kind, v := Decode(buf)
	if kind != KindUnlock {
		t.Fatalf("expected KindUnlock, got %v", kind)
	}
	if !bytes.Equal(v.(UnlockEntry).Key, []byte("x")) {
		t.Fatalf("key mismatch: %+v", v)
	}
}

func TestLogReserveSubmitEntries(t *testing.T) {
	log := New()
	buf := log.ReserveEntry(byte(KindInsert), 16)
	copy(buf, EncodeInsert(InsertEntry{Key: []byte("a")}))
	log.Submit()

	entries := log.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 submitted entry, got %d", len(entries))
	}
	kind, v := Decode(entries[0])
	if kind != KindInsert || !bytes.Equal(v.(InsertEntry).Key, []byte("a")) {
		t.Fatalf("unexpected decoded entry: %v %+v", kind, v)
	}
}

func TestLogTruncate(t *testing.T) {
	log := New()
	buf := log.ReserveEntry(byte(KindInsert), 8)
	copy(buf, EncodeInsert(InsertEntry{Key: []byte("a")}))
	log.Submit()
	log.Truncate()
	if len(log.Entries()) != 0 {
		t.Fatal("expected no entries after truncate")
	}
}
