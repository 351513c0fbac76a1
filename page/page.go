// Package page implements the leaf slot layout (spec §3) and the scoped
// PageGuard acquisition protocol over it (spec §4.1). A Page is a
// fixed-capacity byte arena with a slot directory of variable-length
// key/value entries; slot payloads are opaque to this package — the tuple
// package interprets the bytes stored in a slot's value region.
//
// The byte-buffer-plus-offset-table technique is grounded on
// bnclabs-gostore/malloc/arena.go's slab bookkeeping and on
// bnclabs-gostore/llrb/node.go's raw-pointer node encoding: both keep a
// fixed backing buffer and hand out views into it rather than individually
// heap-allocating each record.
package page

import (
	"encoding/binary"
	"sort"

	"github.com/bnclabs/leanbtree/latch"
)

// ID identifies a page. The buffer manager (an external collaborator, spec
// §6) is responsible for minting and resolving these.
type ID uint64

// slot is one entry in the directory: byte offsets into data for the key
// and the value (tuple payload).
type slot struct {
	keyOff, keyLen     uint32
	valueOff, valueLen uint32
}

// Page is a slotted leaf page: keys are kept sorted in the directory so
// lookups can binary-search, while payload bytes are appended to a growing
// data area. Space freed by shortening or removing a slot is not
// compacted eagerly; HasGarbage tracks whether a compaction pass would pay
// off (spec §4.6).
type Page struct {
	Latch latch.Latch

	id       ID
	capacity int
	data     []byte
	slots    []slot

	hasGarbage   bool
	garbageBytes int
	updateHint   int // contention-based split hint, see SPEC_FULL.md §D.1
}

// New creates an empty page with the given byte capacity.
func New(id ID, capacity int) *Page {
	p := &Page{id: id, capacity: capacity, data: make([]byte, 0, capacity)}
	p.Latch.Init()
	return p
}

func (p *Page) ID() ID { return p.id }

// Reset discards every slot and reclaims the data area, for leaf GC to
// rebuild a page compactly (spec §4.6).
func (p *Page) Reset() {
	p.data = p.data[:0]
	p.slots = p.slots[:0]
	p.hasGarbage, p.garbageBytes, p.updateHint = false, 0, 0
}

// Snapshot returns a defensive copy of every live (key, value) pair, in
// sorted order, for leaf GC and split to rebuild from (spec §4.4, §4.6).
func (p *Page) Snapshot() (keys, values [][]byte) {
	keys = make([][]byte, p.Len())
	values = make([][]byte, p.Len())
	for i := 0; i < p.Len(); i++ {
		keys[i] = append([]byte(nil), p.keyAt(i)...)
		values[i] = append([]byte(nil), p.ValueAt(i)...)
	}
	return keys, values
}

// UsedBytes returns the total bytes currently occupied by live and
// garbage slot payloads.
func (p *Page) UsedBytes() int { return len(p.data) }

// FreeBytes returns the remaining capacity in the append-only data area.
func (p *Page) FreeBytes() int { return p.capacity - len(p.data) }

// HasGarbage reports whether check_space_utilization should consider this
// page for leaf GC (spec §4.6).
func (p *Page) HasGarbage() bool { return p.hasGarbage }

// ClearGarbage resets the garbage flag after a GC pass compacts the page.
func (p *Page) ClearGarbage() { p.hasGarbage, p.garbageBytes = false, 0 }

// GarbageRatio is the fraction of used space attributable to shrunk or
// removed slots that have not been reclaimed.
func (p *Page) GarbageRatio() float64 {
	if len(p.data) == 0 {
		return 0
	}
	return float64(p.garbageBytes) / float64(len(p.data))
}

// UpdateHint returns the running count of update-induced in-place rewrites
// recorded via NoteUpdate (SPEC_FULL.md §D.1).
func (p *Page) UpdateHint() int { return p.updateHint }

// NoteUpdate bumps the contention-based split hint counter.
func (p *Page) NoteUpdate() { p.updateHint++ }

// ShouldSplit reports whether the update hint has crossed threshold,
// suggesting the next structural touch should prefer splitting the leaf
// over further in-place growth.
func (p *Page) ShouldSplit(threshold int) bool { return p.updateHint >= threshold }

func (p *Page) find(key []byte) (idx int, found bool) {
	idx = sort.Search(len(p.slots), func(i int) bool {
		return string(p.keyAt(i)) >= string(key)
	})
	if idx < len(p.slots) && string(p.keyAt(idx)) == string(key) {
		return idx, true
	}
	return idx, false
}

func (p *Page) keyAt(i int) []byte {
	s := p.slots[i]
	return p.data[s.keyOff : s.keyOff+s.keyLen]
}

// ValueAt returns the payload bytes for slot i. The returned slice aliases
// the page's backing array and must not be retained past the holder's
// latch scope.
func (p *Page) ValueAt(i int) []byte {
	s := p.slots[i]
	return p.data[s.valueOff : s.valueOff+s.valueLen]
}

// KeyAt exposes the key for slot i.
func (p *Page) KeyAt(i int) []byte { return p.keyAt(i) }

// Len returns the number of live slots.
func (p *Page) Len() int { return len(p.slots) }

// Seek returns the slot index for an exact key match.
func (p *Page) Seek(key []byte) (idx int, found bool) { return p.find(key) }

// LowerBound returns the first slot index whose key is >= key.
func (p *Page) LowerBound(key []byte) int {
	idx, _ := p.find(key)
	return idx
}

func (p *Page) append(b []byte) (off, ln uint32) {
	off = uint32(len(p.data))
	p.data = append(p.data, b...)
	return off, uint32(len(b))
}

// InsertSlot inserts a new (key, value) slot in sorted position. Returns
// false if there is not enough free space (spec §4.4's NOT_ENOUGH_SPACE
// path is decided by the caller off this).
func (p *Page) InsertSlot(key, value []byte) (idx int, ok bool) {
	need := len(key) + len(value)
	if need > p.FreeBytes() {
		return 0, false
	}
	idx, found := p.find(key)
	if found {
		return idx, false
	}
	koff, klen := p.append(key)
	voff, vlen := p.append(value)
	s := slot{keyOff: koff, keyLen: klen, valueOff: voff, valueLen: vlen}
	p.slots = append(p.slots, slot{})
	copy(p.slots[idx+1:], p.slots[idx:])
	p.slots[idx] = s
	return idx, true
}

// DeleteSlot structurally removes slot i (spec §4.8's WALInsert-undo and
// §4.9's structural-remove path).
func (p *Page) DeleteSlot(i int) {
	s := p.slots[i]
	p.garbageBytes += int(s.keyLen + s.valueLen)
	p.hasGarbage = true
	p.slots = append(p.slots[:i], p.slots[i+1:]...)
}

// ExtendOrShorten resizes slot i's payload. Shrinking happens in place;
// growing copies the payload to the end of the data area, which needs
// newLen free bytes, and returns false when they are not there. Existing
// bytes up to min(oldLen,newLen) are preserved; callers fill in the rest.
func (p *Page) ExtendOrShorten(i int, newLen int) bool {
	s := p.slots[i]
	if int(s.valueLen) == newLen {
		return true
	}
	if newLen < int(s.valueLen) {
		shrink := int(s.valueLen) - newLen
		p.garbageBytes += shrink
		p.hasGarbage = true
		p.slots[i].valueLen = uint32(newLen)
		return true
	}
	grow := newLen - int(s.valueLen)
	if newLen > p.FreeBytes() {
		return false
	}
	old := p.data[s.valueOff : s.valueOff+s.valueLen]
	noff, _ := p.append(old)
	p.data = append(p.data, make([]byte, grow)...)
	p.garbageBytes += int(s.valueLen)
	p.hasGarbage = true
	p.slots[i].valueOff = noff
	p.slots[i].valueLen = uint32(newLen)
	return true
}

// WriteValueAt overwrites part of slot i's payload starting at offset,
// used by the tuple layer to apply update descriptors in place.
func (p *Page) WriteValueAt(i int, offset int, b []byte) {
	s := p.slots[i]
	copy(p.data[int(s.valueOff)+offset:], b)
}

// PutUint16 / GetUint16 are little helpers the tuple layer uses to encode
// fixed-width header fields into slot payload bytes.
func PutUint16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func GetUint16(b []byte) uint16    { return binary.LittleEndian.Uint16(b) }
func PutUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func GetUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
