package schema

import (
	"encoding/binary"
	"iter"
	"math/bits"
	"strings"
	"unsafe"

	"github.com/hupe1980/rowstore/internal/invariant"
)

// Bitset is a fixed-length bit vector stored in 64-bit words. Bits past the
// length in the last word are always clear.
type Bitset struct {
	*base
	nbit  int
	nword int
	tail  uint64 // valid bits of the last word
}

// AddBitset registers a bitset of nbit bits.
func AddBitset(b *Builder, name string, nbit int) Bitset {
	invariant.Check(nbit > 0, "schema.AddBitset", "field %q: bit count %d must be positive", name, nbit)
	nword := (nbit + 63) / 64
	size := nword * 8
	offset := b.place(ElemWord, size)

	tail := ^uint64(0)
	if r := nbit % 64; r != 0 {
		tail = (1 << r) - 1
	}
	f := Bitset{
		base:  &base{layout: b.layout, index: len(b.layout.descs), segs: []segment{{offset: offset, size: size, elem: ElemWord}}},
		nbit:  nbit,
		nword: nword,
		tail:  tail,
	}
	b.register(Descriptor{
		Name:   name,
		Offset: offset,
		Size:   size,
		Elem:   ElemWord,
		Kind:   KindBitset,
		Shape:  []int{nbit},
	}, f)
	return f
}

// Len returns the number of bits.
func (f Bitset) Len() int { return f.nbit }

// words returns the storage words of v and verifies the tail bits are clear.
func (f Bitset) words(op string, v View) []uint64 {
	row := f.row(op, v)
	w := unsafe.Slice((*uint64)(unsafe.Pointer(&row[f.segs[0].offset])), f.nword) //nolint:gosec // rows are word aligned
	invariant.Check(w[f.nword-1]&^f.tail == 0, op,
		"bitset %q is corrupted: bits past %d are set", f.name(), f.nbit)
	return w
}

// Get reports whether bit is set.
func (f Bitset) Get(v View, bit int) bool {
	invariant.Index("schema.Bitset.Get", bit, f.nbit)
	w := f.words("schema.Bitset.Get", v)
	return w[bit/64]&(1<<(bit%64)) != 0
}

// Set sets bit.
func (f Bitset) Set(v View, bit int) {
	invariant.Index("schema.Bitset.Set", bit, f.nbit)
	w := f.words("schema.Bitset.Set", v)
	w[bit/64] |= 1 << (bit % 64)
}

// Clear clears bit.
func (f Bitset) Clear(v View, bit int) {
	invariant.Index("schema.Bitset.Clear", bit, f.nbit)
	w := f.words("schema.Bitset.Clear", v)
	w[bit/64] &^= 1 << (bit % 64)
}

// Toggle flips bit.
func (f Bitset) Toggle(v View, bit int) {
	invariant.Index("schema.Bitset.Toggle", bit, f.nbit)
	w := f.words("schema.Bitset.Toggle", v)
	w[bit/64] ^= 1 << (bit % 64)
}

// SetRange sets bits [begin, end).
func (f Bitset) SetRange(v View, begin, end int) {
	f.applyRange("schema.Bitset.SetRange", v, begin, end, true)
}

// ClearRange clears bits [begin, end).
func (f Bitset) ClearRange(v View, begin, end int) {
	f.applyRange("schema.Bitset.ClearRange", v, begin, end, false)
}

// SetAll sets every bit.
func (f Bitset) SetAll(v View) { f.SetRange(v, 0, f.nbit) }

func (f Bitset) applyRange(op string, v View, begin, end int, set bool) {
	invariant.Check(begin >= 0 && begin <= end && end <= f.nbit, op,
		"range [%d,%d) outside [0,%d)", begin, end, f.nbit)
	w := f.words(op, v)
	if begin == end {
		return
	}

	first, last := begin/64, (end-1)/64
	apply := func(i int, mask uint64) {
		if set {
			w[i] |= mask
		} else {
			w[i] &^= mask
		}
	}

	if first == last {
		apply(first, wordMask(begin%64, (end-1)%64+1))
		return
	}
	apply(first, wordMask(begin%64, 64))
	for i := first + 1; i < last; i++ {
		apply(i, ^uint64(0))
	}
	apply(last, wordMask(0, (end-1)%64+1))
}

// wordMask returns a mask of bits [lo, hi) within one word, 0 <= lo < hi <= 64.
func wordMask(lo, hi int) uint64 {
	m := ^uint64(0) << lo
	if hi < 64 {
		m &= (1 << hi) - 1
	}
	return m
}

// Count returns the number of set bits.
func (f Bitset) Count(v View) int {
	n := 0
	for _, x := range f.words("schema.Bitset.Count", v) {
		n += bits.OnesCount64(x)
	}
	return n
}

// SetBits yields the indices of set bits in ascending order. The row must not
// be modified during iteration.
func (f Bitset) SetBits(v View) iter.Seq[int] {
	return func(yield func(int) bool) {
		for i, x := range f.words("schema.Bitset.SetBits", v) {
			for x != 0 {
				tz := bits.TrailingZeros64(x)
				if !yield(i*64 + tz) {
					return
				}
				x &= x - 1
			}
		}
	}
}

func (f Bitset) String(v View) string {
	w := f.words("schema.Bitset.String", v)
	var sb strings.Builder
	sb.Grow(f.nbit)
	for i := 0; i < f.nbit; i++ {
		if w[i/64]&(1<<(i%64)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (f Bitset) IsZero(v View) bool {
	for _, x := range f.words("schema.Bitset.IsZero", v) {
		if x != 0 {
			return false
		}
	}
	return true
}

func (f Bitset) Save(w ColumnWriter, views []View) error {
	for _, v := range views {
		f.words("schema.Bitset.Save", v)
	}
	return saveColumn(f.base, []int{f.nbit}, w, views)
}

func (f Bitset) Load(r ColumnReader, views []View) error {
	return loadColumn(f.base, []int{f.nbit}, r, views, func(item []byte) error {
		if binary.NativeEndian.Uint64(item[len(item)-8:])&^f.tail != 0 {
			return &ColumnError{Column: f.name(), Msg: "bits past the bitset length are set"}
		}
		return nil
	})
}
