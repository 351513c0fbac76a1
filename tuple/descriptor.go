package tuple

import (
	"encoding/binary"

	"github.com/bnclabs/leanbtree/lib"
)

// Range is one changed byte span within a value (spec §4.2's
// "update descriptor").
type Range struct {
	Offset uint16
	Length uint16
}

// UpdateDescriptor lists the byte ranges an update touched, so the delta
// can carry only an XOR diff of those ranges rather than a full copy of the
// value (spec §4.2, grounded on bnclabs-gostore/llrb/value.go's
// fixed-header-plus-trailing-payload shape, generalized from one full value
// to a list of sparse ranges).
type UpdateDescriptor struct {
	Ranges []Range
}

// Size is the encoded byte width of the descriptor header (not the diff
// payload that follows it): one count byte plus four bytes per range.
func (d UpdateDescriptor) Size() int {
	return 1 + 4*len(d.Ranges)
}

// DiffLength is the total byte width of the XOR diff payload this
// descriptor implies.
func (d UpdateDescriptor) DiffLength() int {
	n := 0
	for _, r := range d.Ranges {
		n += int(r.Length)
	}
	return n
}

// Encode writes the descriptor header into buf, which must be at least
// Size() bytes.
func (d UpdateDescriptor) Encode(buf []byte) {
	buf[0] = byte(len(d.Ranges))
	off := 1
	for _, r := range d.Ranges {
		binary.LittleEndian.PutUint16(buf[off:], r.Offset)
		binary.LittleEndian.PutUint16(buf[off+2:], r.Length)
		off += 4
	}
}

// DecodeDescriptor parses a descriptor header from buf, returning the
// descriptor and the number of bytes it consumed.
func DecodeDescriptor(buf []byte) (UpdateDescriptor, int) {
	count := int(buf[0])
	d := UpdateDescriptor{Ranges: make([]Range, count)}
	off := 1
	for i := 0; i < count; i++ {
		d.Ranges[i] = Range{
			Offset: binary.LittleEndian.Uint16(buf[off:]),
			Length: binary.LittleEndian.Uint16(buf[off+2:]),
		}
		off += 4
	}
	return d, off
}

// ApplyXOR XORs diff into value at the ranges described by d — used to
// reconstruct an older value by re-applying a diff to the current one
// walking backward (spec §4.7) and to undo a fat tuple's latest delta.
// ExtractXOR builds the diff in the first place.
func (d UpdateDescriptor) ApplyXOR(value, diff []byte) {
	off := 0
	for _, r := range d.Ranges {
		span := value[r.Offset : r.Offset+r.Length]
		lib.XOR(span, span, diff[off:off+int(r.Length)])
		off += int(r.Length)
	}
}

// ExtractXOR builds the diff payload for d out of two versions of a value
// of identical length (chained/fat update construction, spec §4.2).
func ExtractXOR(d UpdateDescriptor, oldValue, newValue []byte) []byte {
	diff := lib.Fixbuffer(nil, int64(d.DiffLength()))
	off := 0
	for _, r := range d.Ranges {
		a := oldValue[r.Offset : r.Offset+r.Length]
		b := newValue[r.Offset : r.Offset+r.Length]
		off += lib.XOR(diff[off:off+int(r.Length)], a, b)
	}
	return diff
}
