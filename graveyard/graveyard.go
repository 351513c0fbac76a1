// Package graveyard implements the auxiliary keyed store that holds rows
// removed from the primary tree but still needed by an in-flight OLAP scan
// (spec §3, §4.6, §4.9). It is a small, independently latched index with
// the same Has/Get/Range shape bnclabs-gostore/llrb/llrb.go exposes on the
// plain (non-MVCC) LLRB, since a graveyard entry is single-version: once
// gc.Todo decides no reader can still reach a tombstone, it is deleted
// outright rather than versioned further.
package graveyard

import (
	"sort"
	"sync"
)

type entry struct {
	key   []byte
	value []byte
}

// Store is a sorted, mutex-guarded key/value index. Reads and writes both
// take the single RWMutex; graveyard traffic is the GC slow path, not the
// hot path, so there is no latch-per-page protocol here the way there is
// for the primary tree (spec §4.1 is deliberately not reused at this
// granularity).
type Store struct {
	mu      sync.RWMutex
	entries []entry
}

// New creates an empty graveyard.
func New() *Store {
	return &Store{}
}

func (s *Store) find(key []byte) (int, bool) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return string(s.entries[i].key) >= string(key)
	})
	if idx < len(s.entries) && string(s.entries[idx].key) == string(key) {
		return idx, true
	}
	return idx, false
}

// Has reports whether key currently has a tombstone parked in the
// graveyard.
func (s *Store) Has(key []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.find(key)
	return ok
}

// Get returns the last value a removed row held, for an OLAP reader that
// still needs to see it (spec §4.6).
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.find(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), s.entries[idx].value...), true
}

// Upsert inserts or overwrites a tombstoned row's last value (spec §4.6's
// leaf GC moving a removed row here instead of discarding it outright while
// an OLAP low-water mark still predates the remove).
func (s *Store) Upsert(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.find(key)
	e := entry{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
	if ok {
		s.entries[idx] = e
		return
	}
	s.entries = append(s.entries, entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
}

// Delete removes key's tombstone outright, once gc.Todo determines no OLAP
// scan can still need it (spec §4.9).
func (s *Store) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.find(key)
	if !ok {
		return
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
}

// Range walks graveyard entries in [startKey, endKey) order, invoking cb
// for each until it returns false or the range is exhausted (spec §6's
// RowCallback shape, reused here for an OLAP scan that must merge primary
// tree rows with graveyard tombstones).
func (s *Store) Range(startKey, endKey []byte, cb func(key, value []byte) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, _ := s.find(startKey)
	for ; idx < len(s.entries); idx++ {
		e := s.entries[idx]
		if endKey != nil && string(e.key) >= string(endKey) {
			return
		}
		if !cb(e.key, e.value) {
			return
		}
	}
}

// Len reports the number of tombstones currently parked.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
