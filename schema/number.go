package schema

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/hupe1980/rowstore/internal/invariant"
)

// Number is a scalar or fixed-shape array of one numeric type.
type Number[T Numeric] struct {
	*base
	shape []int
	n     int
	esize int
}

// AddNumber registers a numeric field. Without a shape the field is a scalar;
// otherwise it holds the product of the shape's extents.
func AddNumber[T Numeric](b *Builder, name string, shape ...int) Number[T] {
	n := 1
	for _, d := range shape {
		invariant.Check(d > 0, "schema.AddNumber", "field %q: extent %d must be positive", name, d)
		n *= d
	}
	elem := elemOf[T]()
	esize := elem.Size()
	size := n * esize
	offset := b.place(elem, size)

	f := Number[T]{
		base:  &base{layout: b.layout, index: len(b.layout.descs), segs: []segment{{offset: offset, size: size, elem: elem}}},
		shape: append([]int(nil), shape...),
		n:     n,
		esize: esize,
	}
	b.register(Descriptor{
		Name:   name,
		Offset: offset,
		Size:   size,
		Elem:   elem,
		Kind:   KindNumber,
		Shape:  f.shape,
	}, f)
	return f
}

// Shape returns the field's extents (empty for scalars).
func (f Number[T]) Shape() []int { return f.shape }

// Len returns the number of elements.
func (f Number[T]) Len() int { return f.n }

func (f Number[T]) ptr(op string, v View, i int) *T {
	invariant.Index(op, i, f.n)
	row := f.row(op, v)
	return (*T)(unsafe.Pointer(&row[f.segs[0].offset+i*f.esize])) //nolint:gosec // rows are word aligned
}

// Get returns the first element.
func (f Number[T]) Get(v View) T { return *f.ptr("schema.Number.Get", v, 0) }

// Set stores the first element.
func (f Number[T]) Set(v View, x T) { *f.ptr("schema.Number.Set", v, 0) = x }

// At returns element i in row-major order.
func (f Number[T]) At(v View, i int) T { return *f.ptr("schema.Number.At", v, i) }

// SetAt stores element i in row-major order.
func (f Number[T]) SetAt(v View, i int, x T) { *f.ptr("schema.Number.SetAt", v, i) = x }

// Values returns the elements as a slice aliasing the row. It is valid until
// the storage is resized.
func (f Number[T]) Values(v View) []T {
	p := f.ptr("schema.Number.Values", v, 0)
	return unsafe.Slice(p, f.n)
}

// SetValues copies xs into the field.
func (f Number[T]) SetValues(v View, xs ...T) {
	invariant.Check(len(xs) == f.n, "schema.Number.SetValues", "got %d values for %d elements", len(xs), f.n)
	copy(f.Values(v), xs)
}

func (f Number[T]) String(v View) string {
	vals := f.Values(v)
	if len(f.shape) == 0 {
		return fmt.Sprint(vals[0])
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range vals {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprint(&sb, x)
	}
	sb.WriteByte(']')
	return sb.String()
}

func (f Number[T]) Save(w ColumnWriter, views []View) error {
	return saveColumn(f.base, f.shape, w, views)
}

func (f Number[T]) Load(r ColumnReader, views []View) error {
	return loadColumn(f.base, f.shape, r, views, nil)
}
