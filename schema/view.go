package schema

import (
	"github.com/hupe1980/rowstore/internal/invariant"
)

// Source is row storage a View can borrow from. *buffer.Window implements it.
type Source interface {
	Row(i int) []byte
	RowSize() int
	Capacity() int
	Generation() uint64
}

// RowSource is a Source with a number of iterable rows.
type RowSource interface {
	Source
	Len() int
}

// View is a borrow of one row. It must not be used after the storage it was
// taken from has been resized.
type View struct {
	layout *Layout
	src    Source
	index  int
	gen    uint64
}

// NewView borrows row i of src under layout l.
func NewView(l *Layout, src Source, i int) View {
	l.mustBeBuilt("schema.NewView")
	invariant.Check(src.RowSize() == l.RowSize(), "schema.NewView",
		"source row size %d does not match layout %q row size %d", src.RowSize(), l.name, l.rowSize)
	invariant.Index("schema.NewView", i, src.Capacity())
	return View{layout: l, src: src, index: i, gen: src.Generation()}
}

// Layout returns the view's layout.
func (v View) Layout() *Layout { return v.layout }

// Index returns the row index within its source.
func (v View) Index() int { return v.index }

// Valid reports whether the view can still be used.
func (v View) Valid() bool {
	return v.src != nil && v.src.Generation() == v.gen
}

// Bytes returns the row bytes.
func (v View) Bytes() []byte {
	invariant.Check(v.src != nil, "schema.View", "use of zero view")
	invariant.Check(v.src.Generation() == v.gen, "schema.View",
		"stale view of row %d: generation %d, storage is at %d", v.index, v.gen, v.src.Generation())
	return v.src.Row(v.index)
}

// Zero clears the whole row.
func (v View) Zero() {
	clear(v.Bytes())
}

// IsZero reports whether every byte of the row is zero.
func (v View) IsZero() bool {
	for _, b := range v.Bytes() {
		if b != 0 {
			return false
		}
	}
	return true
}

// CopyFrom copies the row bytes of src into v.
func (v View) CopyFrom(src View) {
	invariant.Check(v.layout.Compatible(src.layout), "schema.View.CopyFrom",
		"layout %q is not compatible with %q", src.layout.Name(), v.layout.Name())
	copy(v.Bytes(), src.Bytes())
}

// Scratch is a standalone row not backed by a buffer, used to stage values
// such as lookup keys.
type Scratch struct {
	layout *Layout
	data   []byte
}

// NewScratch allocates one zeroed row for l.
func NewScratch(l *Layout) *Scratch {
	return &Scratch{layout: l, data: make([]byte, l.RowSize())}
}

func (s *Scratch) Row(i int) []byte {
	invariant.Index("schema.Scratch.Row", i, 1)
	return s.data
}

func (s *Scratch) RowSize() int       { return len(s.data) }
func (s *Scratch) Capacity() int      { return 1 }
func (s *Scratch) Generation() uint64 { return 0 }

// View borrows the scratch row.
func (s *Scratch) View() View {
	return View{layout: s.layout, src: s, index: 0}
}

// Cursor walks the rows of a RowSource. Every View it returns is derived
// from the current storage, so a cursor survives resizes.
type Cursor struct {
	layout *Layout
	src    RowSource
	i      int
}

// NewCursor positions a cursor at row 0 of src.
func NewCursor(l *Layout, src RowSource) *Cursor {
	return &Cursor{layout: l, src: src}
}

// Restart moves the cursor to row 0.
func (c *Cursor) Restart() { c.i = 0 }

// Jump moves the cursor to row i.
func (c *Cursor) Jump(i int) { c.i = i }

// Step advances the cursor by one row.
func (c *Cursor) Step() { c.i++ }

// InRange reports whether the cursor points at a row below the source length.
func (c *Cursor) InRange() bool {
	return c.i >= 0 && c.i < c.src.Len()
}

// Index returns the current row index.
func (c *Cursor) Index() int { return c.i }

// View borrows the current row.
func (c *Cursor) View() View {
	invariant.Check(c.InRange(), "schema.Cursor.View", "cursor at %d outside [0,%d)", c.i, c.src.Len())
	return NewView(c.layout, c.src, c.i)
}
