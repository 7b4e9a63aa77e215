package schema

import (
	"bytes"
	"encoding/binary"

	"github.com/hupe1980/rowstore/internal/hash"
	"github.com/hupe1980/rowstore/internal/invariant"
)

// Field is the operation set shared by every field kind.
type Field interface {
	// Descriptor returns the registered descriptor.
	Descriptor() Descriptor
	// Layout returns the layout the field belongs to.
	Layout() *Layout

	// Bytes returns the field bytes of v. Composite fields return a copy.
	Bytes(v View) []byte
	Zero(v View)
	IsZero(v View) bool
	Hash(v View) uint64
	Compare(a, b View) int
	Equal(a, b View) bool
	Less(a, b View) bool
	CopyField(dst, src View)
	String(v View) string

	// EqualBytes reports whether the field bytes of v equal key.
	EqualBytes(v View, key []byte) bool
	// SetBytes overwrites the field bytes of v with key.
	SetBytes(v View, key []byte)

	// Save writes the field of every view as one column.
	Save(w ColumnWriter, views []View) error
	// Load fills the field of every view from its column.
	Load(r ColumnReader, views []View) error

	// fieldBase seals the set of kinds to this package.
	fieldBase() *base
}

// base implements the generic byte-range operations.
type base struct {
	layout *Layout
	index  int
	segs   []segment
}

func (f *base) Descriptor() Descriptor {
	return f.layout.descs[f.index]
}

func (f *base) Layout() *Layout { return f.layout }

func (f *base) fieldBase() *base { return f }

func (f *base) name() string { return f.layout.descs[f.index].Name }

// row returns the bytes of v after checking the view belongs to the layout.
func (f *base) row(op string, v View) []byte {
	invariant.Check(v.layout != nil, op, "field %q used with a zero view", f.name())
	invariant.Check(v.layout == f.layout || f.layout.Compatible(v.layout), op,
		"field %q of layout %q used on a row of layout %q", f.name(), f.layout.name, v.layout.name)
	return v.Bytes()
}

func (f *base) Bytes(v View) []byte {
	row := f.row("schema.Field.Bytes", v)
	if len(f.segs) == 1 {
		s := f.segs[0]
		return row[s.offset : s.offset+s.size : s.offset+s.size]
	}
	var out []byte
	for _, s := range f.segs {
		out = append(out, row[s.offset:s.offset+s.size]...)
	}
	return out
}

func (f *base) Zero(v View) {
	row := f.row("schema.Field.Zero", v)
	for _, s := range f.segs {
		clear(row[s.offset : s.offset+s.size])
	}
}

func (f *base) IsZero(v View) bool {
	row := f.row("schema.Field.IsZero", v)
	for _, s := range f.segs {
		data := row[s.offset : s.offset+s.size]
		switch s.elem {
		case ElemFloat32:
			for i := 0; i < len(data); i += 4 {
				if binary.NativeEndian.Uint32(data[i:])&^(1<<31) != 0 {
					return false
				}
			}
		case ElemFloat64:
			for i := 0; i < len(data); i += 8 {
				if binary.NativeEndian.Uint64(data[i:])&^(1<<63) != 0 {
					return false
				}
			}
		default:
			if !bytes.Equal(data, f.layout.zero[s.offset:s.offset+s.size]) {
				return false
			}
		}
	}
	return true
}

func (f *base) Hash(v View) uint64 {
	row := f.row("schema.Field.Hash", v)
	h := hash.FNVOffset64
	for _, s := range f.segs {
		h = hash.FNV1a64Continue(h, row[s.offset:s.offset+s.size])
	}
	return h
}

func (f *base) Compare(a, b View) int {
	ra := f.row("schema.Field.Compare", a)
	rb := f.row("schema.Field.Compare", b)
	for _, s := range f.segs {
		if c := bytes.Compare(ra[s.offset:s.offset+s.size], rb[s.offset:s.offset+s.size]); c != 0 {
			return c
		}
	}
	return 0
}

func (f *base) Equal(a, b View) bool { return f.Compare(a, b) == 0 }

func (f *base) Less(a, b View) bool { return f.Compare(a, b) < 0 }

func (f *base) CopyField(dst, src View) {
	rd := f.row("schema.Field.CopyField", dst)
	rs := f.row("schema.Field.CopyField", src)
	for _, s := range f.segs {
		copy(rd[s.offset:s.offset+s.size], rs[s.offset:s.offset+s.size])
	}
}

func (f *base) size() int {
	n := 0
	for _, s := range f.segs {
		n += s.size
	}
	return n
}

func (f *base) EqualBytes(v View, key []byte) bool {
	if len(key) != f.size() {
		return false
	}
	row := f.row("schema.Field.EqualBytes", v)
	for _, s := range f.segs {
		if !bytes.Equal(row[s.offset:s.offset+s.size], key[:s.size]) {
			return false
		}
		key = key[s.size:]
	}
	return true
}

func (f *base) SetBytes(v View, key []byte) {
	invariant.Check(len(key) == f.size(), "schema.Field.SetBytes",
		"field %q holds %d bytes, got %d", f.name(), f.size(), len(key))
	row := f.row("schema.Field.SetBytes", v)
	for _, s := range f.segs {
		copy(row[s.offset:s.offset+s.size], key[:s.size])
		key = key[s.size:]
	}
}

// HashBytes hashes a raw key the same way Field.Hash hashes field bytes.
func HashBytes(key []byte) uint64 {
	return hash.FNV1a64(key)
}
