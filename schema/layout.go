package schema

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/hash"
	"github.com/hupe1980/rowstore/internal/invariant"
)

// Descriptor describes one registered field.
type Descriptor struct {
	Name   string
	Index  int
	Offset int
	Size   int
	Elem   Elem
	Kind   Kind
	Shape  []int
	// Components lists the descriptor indices grouped by a composite field.
	Components []int
}

// segment is a contiguous byte range of a row holding elements of one type.
type segment struct {
	offset int
	size   int
	elem   Elem
}

// Layout is an immutable row schema.
type Layout struct {
	name        string
	descs       []Descriptor
	fields      []Field
	rowSize     int
	zero        []byte
	fingerprint uint64
	built       bool
}

// Name returns the layout name.
func (l *Layout) Name() string { return l.name }

// RowSize returns the padded row width in bytes.
func (l *Layout) RowSize() int {
	l.mustBeBuilt("schema.Layout.RowSize")
	return l.rowSize
}

// NumFields returns the number of registered fields.
func (l *Layout) NumFields() int { return len(l.descs) }

// Descriptor returns the descriptor of field i.
func (l *Layout) Descriptor(i int) Descriptor {
	invariant.Index("schema.Layout.Descriptor", i, len(l.descs))
	return l.descs[i]
}

// Descriptors returns all descriptors in registration order.
func (l *Layout) Descriptors() []Descriptor {
	out := make([]Descriptor, len(l.descs))
	copy(out, l.descs)
	return out
}

// Fields returns all field handles in registration order.
func (l *Layout) Fields() []Field {
	out := make([]Field, len(l.fields))
	copy(out, l.fields)
	return out
}

// Field returns the handle of the field named name.
func (l *Layout) Field(name string) (Field, bool) {
	for i := range l.descs {
		if l.descs[i].Name == name {
			return l.fields[i], true
		}
	}
	return nil, false
}

// Fingerprint hashes the byte layout. Layouts with equal fingerprints are
// interchangeable for row copies and exchange.
func (l *Layout) Fingerprint() uint64 {
	l.mustBeBuilt("schema.Layout.Fingerprint")
	return l.fingerprint
}

// Compatible reports whether rows of o can be copied into rows of l.
func (l *Layout) Compatible(o *Layout) bool {
	if l == o {
		return true
	}
	if l == nil || o == nil || !l.built || !o.built {
		return false
	}
	return l.rowSize == o.rowSize && l.fingerprint == o.fingerprint
}

func (l *Layout) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s{", l.name)
	for i, d := range l.descs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s@%d+%d", d.Name, d.Kind, d.Offset, d.Size)
	}
	fmt.Fprintf(&sb, "} rowsize=%d", l.rowSize)
	return sb.String()
}

func (l *Layout) mustBeBuilt(op string) {
	invariant.Check(l.built, op, "layout %q used before Build", l.name)
}

// Builder registers fields and computes their offsets.
type Builder struct {
	layout   *Layout
	end      int
	lastElem Elem
}

// NewBuilder starts an empty layout.
func NewBuilder(name string) *Builder {
	return &Builder{layout: &Layout{name: name}}
}

// place reserves size bytes for a field of elem and returns its offset.
func (b *Builder) place(elem Elem, size int) int {
	invariant.Check(!b.layout.built, "schema.Builder", "layout %q already built", b.layout.name)
	offset := b.end
	if b.lastElem != ElemInvalid && elem != b.lastElem {
		offset = buffer.RoundUp(offset)
	}
	b.end = offset + size
	b.lastElem = elem
	return offset
}

func (b *Builder) register(d Descriptor, f Field) {
	for _, prev := range b.layout.descs {
		invariant.Check(prev.Name != d.Name, "schema.Builder", "duplicate field %q in layout %q", d.Name, b.layout.name)
	}
	d.Index = len(b.layout.descs)
	b.layout.descs = append(b.layout.descs, d)
	b.layout.fields = append(b.layout.fields, f)
}

// Build finalizes the layout. The builder must not be used afterwards.
func (b *Builder) Build() *Layout {
	l := b.layout
	invariant.Check(!l.built, "schema.Builder.Build", "layout %q already built", l.name)

	l.rowSize = buffer.RoundUp(b.end)
	if l.rowSize == 0 {
		l.rowSize = buffer.WordSize
	}
	l.zero = make([]byte, l.rowSize)

	var tmp [8]byte
	h := hash.FNVOffset64
	for _, d := range l.descs {
		h = hash.FNV1a64Continue(h, []byte(d.Name))
		for _, v := range []int{d.Offset, d.Size, int(d.Elem), int(d.Kind)} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(v)) //nolint:gosec // non-negative
			h = hash.FNV1a64Continue(h, tmp[:])
		}
	}
	binary.LittleEndian.PutUint64(tmp[:], uint64(l.rowSize)) //nolint:gosec // non-negative
	l.fingerprint = hash.FNV1a64Continue(h, tmp[:])
	l.built = true
	return l
}
