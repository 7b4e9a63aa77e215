package buffer

import (
	"github.com/hupe1980/rowstore/internal/invariant"
)

// Window is one table's row range inside a Buffer.
type Window struct {
	buf      *Buffer
	id       int
	rowSize  int
	capacity int
	offset   int
}

// Buffer returns the owning buffer.
func (w *Window) Buffer() *Buffer { return w.buf }

// ID returns the window's index within its buffer.
func (w *Window) ID() int { return w.id }

// RowSize returns the row width in bytes.
func (w *Window) RowSize() int { return w.rowSize }

// Capacity returns the number of rows the window holds.
func (w *Window) Capacity() int { return w.capacity }

// Generation returns the owning buffer's generation.
func (w *Window) Generation() uint64 { return w.buf.gen }

// ExpansionFactor returns the owning buffer's expansion factor.
func (w *Window) ExpansionFactor() float64 { return w.buf.factor }

func (w *Window) spanBytes() int {
	return RoundUp(w.capacity * w.rowSize)
}

// Resize grows the window to hold n rows, zero-filling the new rows.
// It may relocate the whole buffer.
func (w *Window) Resize(n int) error {
	invariant.Check(!w.buf.closed, "buffer.Window.Resize", "buffer %q is closed", w.buf.name)
	invariant.Check(n >= w.capacity, "buffer.Window.Resize",
		"cannot shrink window %d from %d to %d rows", w.id, w.capacity, n)
	if n == w.capacity {
		return nil
	}

	oldCap := w.capacity
	if err := w.buf.grow(w, RoundUp(n*w.rowSize)); err != nil {
		return err
	}
	w.capacity = n

	w.buf.logger.Debug("window resized",
		"buffer", w.buf.name,
		"window", w.id,
		"rows_from", oldCap,
		"rows_to", n,
		"bytes", len(w.buf.data),
	)
	return nil
}

// Expand grows the window by delta rows plus the expansion factor's headroom.
func (w *Window) Expand(delta int) error {
	if delta <= 0 {
		return nil
	}
	return w.Resize(expandedCapacity(w.capacity, delta, w.buf.factor))
}

// Bytes returns the window's rows. The slice is valid until the next resize.
func (w *Window) Bytes() []byte {
	end := w.offset + w.capacity*w.rowSize
	return w.buf.data[w.offset:end:end]
}

// Rows returns rows [begin, begin+n) as one block.
func (w *Window) Rows(begin, n int) []byte {
	invariant.Check(begin >= 0 && n >= 0 && begin+n <= w.capacity, "buffer.Window.Rows",
		"rows [%d,%d) outside capacity %d", begin, begin+n, w.capacity)
	start := w.offset + begin*w.rowSize
	end := start + n*w.rowSize
	return w.buf.data[start:end:end]
}

// Row returns row i. The slice is valid until the next resize.
func (w *Window) Row(i int) []byte {
	invariant.Index("buffer.Window.Row", i, w.capacity)
	start := w.offset + i*w.rowSize
	end := start + w.rowSize
	return w.buf.data[start:end:end]
}
