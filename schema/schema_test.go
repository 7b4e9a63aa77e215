package schema

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"slices"
	"testing"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected invariant violation")
		_, ok := r.(*invariant.Violation)
		require.True(t, ok, "unexpected panic value %v", r)
	}()
	fn()
}

type particle struct {
	layout *Layout
	tag    Number[uint8]
	code   Number[uint8]
	pos    Number[float64]
	count  Number[int32]
	flags  Bitset
	key    Composite
}

func newParticle() particle {
	b := NewBuilder("particle")
	p := particle{
		tag:   AddNumber[uint8](b, "tag", 3),
		code:  AddNumber[uint8](b, "code", 2),
		pos:   AddNumber[float64](b, "pos", 3),
		count: AddNumber[int32](b, "count"),
		flags: AddBitset(b, "flags", 130),
	}
	p.key = AddComposite(b, "key", p.code, p.count)
	p.layout = b.Build()
	return p
}

// rows is a window with a fixed number of live rows.
type rows struct {
	*buffer.Window
	n int
}

func (r rows) Len() int { return r.n }

func newRows(t *testing.T, l *Layout, n int) rows {
	t.Helper()
	w := buffer.New("test").NewWindow(l.RowSize())
	require.NoError(t, w.Resize(n))
	return rows{Window: w, n: n}
}

func TestLayout_Alignment(t *testing.T) {
	p := newParticle()
	l := p.layout

	offsets := map[string]int{}
	for _, d := range l.Descriptors() {
		offsets[d.Name] = d.Offset
	}
	assert.Equal(t, 0, offsets["tag"])
	assert.Equal(t, 3, offsets["code"]) // same element type packs
	assert.Equal(t, 8, offsets["pos"])  // element change aligns to a word
	assert.Equal(t, 32, offsets["count"])
	assert.Equal(t, 40, offsets["flags"])
	assert.Equal(t, 64, l.RowSize())
	assert.Zero(t, l.RowSize()%buffer.WordSize)

	var prev Descriptor
	for i, d := range l.Descriptors() {
		if d.Kind == KindComposite {
			continue
		}
		if i > 0 && d.Elem != prev.Elem {
			assert.Zero(t, d.Offset%buffer.WordSize, "field %s", d.Name)
		}
		prev = d
	}
}

func TestLayout_Lookup(t *testing.T) {
	p := newParticle()
	f, ok := p.layout.Field("pos")
	require.True(t, ok)
	assert.Equal(t, KindNumber, f.Descriptor().Kind)
	assert.Equal(t, []int{3}, f.Descriptor().Shape)

	_, ok = p.layout.Field("missing")
	assert.False(t, ok)
	assert.Len(t, p.layout.Fields(), 6)
}

func TestLayout_Compatible(t *testing.T) {
	a := newParticle().layout
	b := newParticle().layout
	assert.True(t, a.Compatible(b))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	other := NewBuilder("particle")
	AddNumber[uint64](other, "id")
	assert.False(t, a.Compatible(other.Build()))
}

func TestBuilder_Misuse(t *testing.T) {
	b := NewBuilder("x")
	AddNumber[int64](b, "a")
	requireViolation(t, func() { AddNumber[int64](b, "a") })

	l := b.Build()
	requireViolation(t, func() { AddNumber[int64](b, "b") })
	requireViolation(t, func() { b.Build() })

	foreign := AddNumber[int64](NewBuilder("y"), "z")
	requireViolation(t, func() { AddComposite(NewBuilder("w"), "c", foreign) })

	unbuilt := NewBuilder("u")
	AddNumber[int8](unbuilt, "v")
	assert.NotNil(t, l)
	requireViolation(t, func() { unbuilt.layout.RowSize() })
}

func TestNumber_GetSet(t *testing.T) {
	p := newParticle()
	r := newRows(t, p.layout, 2)
	v := NewView(p.layout, r, 1)

	p.count.Set(v, -42)
	assert.Equal(t, int32(-42), p.count.Get(v))

	p.pos.SetValues(v, 1.5, 2.5, 3.5)
	assert.Equal(t, 2.5, p.pos.At(v, 1))
	p.pos.SetAt(v, 2, 9)
	assert.Equal(t, []float64{1.5, 2.5, 9}, p.pos.Values(v))
	assert.Equal(t, "[1.5 2.5 9]", p.pos.String(v))
	assert.Equal(t, "-42", p.count.String(v))
	assert.Equal(t, 3, p.pos.Len())

	requireViolation(t, func() { p.pos.At(v, 3) })
	requireViolation(t, func() { p.pos.SetValues(v, 1) })

	// Row 0 untouched.
	assert.True(t, NewView(p.layout, r, 0).IsZero())
}

func TestView_StaleAfterResize(t *testing.T) {
	p := newParticle()
	r := newRows(t, p.layout, 2)
	v := NewView(p.layout, r, 0)
	p.count.Set(v, 7)
	assert.True(t, v.Valid())

	require.NoError(t, r.Resize(8))
	assert.False(t, v.Valid())
	requireViolation(t, func() { p.count.Get(v) })

	fresh := NewView(p.layout, r, 0)
	assert.Equal(t, int32(7), p.count.Get(fresh))
}

func TestView_LayoutChecks(t *testing.T) {
	p := newParticle()
	r := newRows(t, p.layout, 1)
	v := NewView(p.layout, r, 0)

	ob := NewBuilder("other")
	id := AddNumber[uint64](ob, "id")
	other := ob.Build()
	s := NewScratch(other)

	requireViolation(t, func() { id.Get(v) })
	requireViolation(t, func() { v.CopyFrom(s.View()) })
	requireViolation(t, func() { NewView(other, r, 0) })
	requireViolation(t, func() { NewView(p.layout, r, 1) })
	requireViolation(t, func() { View{}.Bytes() })
}

func TestView_CopyFrom(t *testing.T) {
	p := newParticle()
	r := newRows(t, p.layout, 2)
	src := NewView(p.layout, r, 0)
	dst := NewView(p.layout, r, 1)

	p.pos.SetValues(src, 1, 2, 3)
	p.flags.Set(src, 129)
	dst.CopyFrom(src)
	assert.Equal(t, src.Bytes(), dst.Bytes())

	s := NewScratch(newParticle().layout)
	s.View().CopyFrom(dst)
	assert.Equal(t, dst.Bytes(), s.View().Bytes())
}

func TestField_IsZeroNegativeZero(t *testing.T) {
	p := newParticle()
	v := NewScratch(p.layout).View()

	assert.True(t, p.pos.IsZero(v))
	p.pos.SetValues(v, math.Copysign(0, -1), 0, math.Copysign(0, -1))
	assert.True(t, p.pos.IsZero(v))
	assert.False(t, v.IsZero())

	p.pos.SetAt(v, 1, math.SmallestNonzeroFloat64)
	assert.False(t, p.pos.IsZero(v))

	p.pos.Zero(v)
	assert.True(t, v.IsZero())
}

func TestField_HashAndCompare(t *testing.T) {
	p := newParticle()
	r := newRows(t, p.layout, 2)
	a := NewView(p.layout, r, 0)
	b := NewView(p.layout, r, 1)

	p.code.SetValues(a, 1, 2)
	p.count.Set(a, 5)

	h := fnv.New64a()
	_, _ = h.Write(p.code.Bytes(a))
	assert.Equal(t, h.Sum64(), p.code.Hash(a))
	assert.Equal(t, HashBytes(p.code.Bytes(a)), p.code.Hash(a))

	// Composite hash covers the concatenated component bytes.
	assert.Equal(t, HashBytes(p.key.Bytes(a)), p.key.Hash(a))
	assert.Len(t, p.key.Bytes(a), 6)

	assert.Equal(t, 1, p.key.Compare(a, b))
	assert.True(t, p.key.Less(b, a))
	assert.False(t, p.key.Equal(a, b))

	p.key.CopyField(b, a)
	assert.True(t, p.key.Equal(a, b))
	assert.Equal(t, p.key.Hash(a), p.key.Hash(b))
	assert.Equal(t, "{[1 2] 5}", p.key.String(b))

	// Only the key components were copied.
	p.pos.Set(a, 3)
	assert.True(t, p.pos.IsZero(b))

	p.key.Zero(b)
	assert.True(t, p.key.IsZero(b))
	assert.True(t, b.IsZero())
}

func TestBitset_Ranges(t *testing.T) {
	p := newParticle()
	v := NewScratch(p.layout).View()
	f := p.flags

	f.SetRange(v, 3, 5)
	assert.Equal(t, 2, f.Count(v))
	assert.True(t, f.Get(v, 3))
	assert.True(t, f.Get(v, 4))
	assert.False(t, f.Get(v, 5))

	f.SetRange(v, 60, 130)
	assert.Equal(t, 72, f.Count(v))

	f.ClearRange(v, 62, 128)
	assert.Equal(t, []int{3, 4, 60, 61, 128, 129}, slices.Collect(f.SetBits(v)))

	f.Toggle(v, 3)
	f.Clear(v, 129)
	f.Set(v, 100)
	assert.Equal(t, []int{4, 60, 61, 100, 128}, slices.Collect(f.SetBits(v)))

	f.SetRange(v, 7, 7)
	assert.Equal(t, 5, f.Count(v))

	f.SetAll(v)
	assert.Equal(t, 130, f.Count(v))
	f.ClearRange(v, 0, 130)
	assert.True(t, f.IsZero(v))

	requireViolation(t, func() { f.Set(v, 130) })
	requireViolation(t, func() { f.SetRange(v, 5, 131) })
	requireViolation(t, func() { f.SetRange(v, 6, 5) })
}

func TestBitset_String(t *testing.T) {
	b := NewBuilder("bits")
	f := AddBitset(b, "f", 6)
	l := b.Build()
	v := NewScratch(l).View()
	f.Set(v, 1)
	f.Set(v, 5)
	assert.Equal(t, "010001", f.String(v))
}

func TestBitset_TailCorruptionIsFatal(t *testing.T) {
	p := newParticle()
	v := NewScratch(p.layout).View()

	d := p.flags.Descriptor()
	last := v.Bytes()[d.Offset+d.Size-8:]
	binary.NativeEndian.PutUint64(last, 1<<2) // bit 130
	requireViolation(t, func() { p.flags.Count(v) })
	requireViolation(t, func() { p.flags.Get(v, 0) })
}

func TestCursor(t *testing.T) {
	p := newParticle()
	r := newRows(t, p.layout, 4)
	c := NewCursor(p.layout, r)

	for c.Restart(); c.InRange(); c.Step() {
		p.count.Set(c.View(), int32(c.Index()*10)) //nolint:gosec // small
	}
	assert.Equal(t, 4, c.Index())
	requireViolation(t, func() { c.View() })

	// Cursors re-derive views after a resize.
	require.NoError(t, r.Resize(16))
	c.Jump(2)
	assert.Equal(t, int32(20), p.count.Get(c.View()))
}

type memColumns map[string][]byte

func (m memColumns) WriteColumn(spec ColumnSpec, data []byte) error {
	m[spec.Name] = append([]byte(nil), data...)
	return nil
}

func (m memColumns) ReadColumn(spec ColumnSpec) ([]byte, error) {
	return m[spec.Name], nil
}

func TestField_SaveLoad(t *testing.T) {
	p := newParticle()
	src := newRows(t, p.layout, 3)
	var views []View
	for i := 0; i < 3; i++ {
		v := NewView(p.layout, src, i)
		p.pos.SetValues(v, float64(i), float64(i)+0.5, -1)
		p.count.Set(v, int32(i))
		p.code.SetValues(v, uint8(i), 9)
		p.flags.Set(v, i*40)
		views = append(views, v)
	}

	cols := memColumns{}
	for _, f := range []Field{p.pos, p.flags, p.key} {
		require.NoError(t, f.Save(cols, views))
	}
	assert.Len(t, cols["pos"], 3*24)
	assert.Contains(t, cols, "code")
	assert.Contains(t, cols, "count")

	dst := newRows(t, p.layout, 3)
	var out []View
	for i := 0; i < 3; i++ {
		out = append(out, NewView(p.layout, dst, i))
	}
	for _, f := range []Field{p.pos, p.flags, p.key} {
		require.NoError(t, f.Load(cols, out))
	}
	for i := range out {
		assert.Equal(t, p.pos.Values(views[i]), p.pos.Values(out[i]))
		assert.True(t, p.key.Equal(views[i], out[i]))
		assert.True(t, p.flags.Get(out[i], i*40))
	}

	var cerr *ColumnError
	err := p.pos.Load(cols, out[:2])
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "pos", cerr.Column)

	bad := make([]byte, 3*24)
	binary.NativeEndian.PutUint64(bad[16:], 1<<3)
	cols["flags"] = bad
	require.ErrorAs(t, p.flags.Load(cols, out), &cerr)
	assert.Equal(t, 1, p.flags.Count(out[0]))
}

func TestColumnSpec_Matches(t *testing.T) {
	a := ColumnSpec{Name: "x", Elem: ElemFloat64, Shape: []int{3}, ItemSize: 24}
	assert.True(t, a.Matches(a))
	b := a
	b.Shape = []int{4}
	assert.False(t, a.Matches(b))
}

func TestField_EqualSetBytes(t *testing.T) {
	p := newParticle()
	v := NewScratch(p.layout).View()

	key := []byte{7, 8, 1, 0, 0, 0}
	p.key.SetBytes(v, key)
	assert.True(t, p.key.EqualBytes(v, key))
	assert.Equal(t, key, p.key.Bytes(v))
	assert.Equal(t, HashBytes(key), p.key.Hash(v))
	assert.False(t, p.key.EqualBytes(v, key[:5]))
	assert.False(t, p.key.EqualBytes(v, []byte{7, 8, 2, 0, 0, 0}))

	requireViolation(t, func() { p.key.SetBytes(v, key[:4]) })
}
