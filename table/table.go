package table

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/schema"
)

// SlotState is the lifetime state of a slot below the high-water mark.
type SlotState uint8

const (
	SlotFree SlotState = iota
	SlotLive
	SlotProtected
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotLive:
		return "live"
	case SlotProtected:
		return "protected"
	default:
		return fmt.Sprintf("SlotState(%d)", uint8(s))
	}
}

// Ref addresses a slot of a specific table. It stays meaningful across
// resizes and is resolved through Table.Resolve.
type Ref struct {
	Table uint32
	Index int
}

var nextID atomic.Uint32

// Table is a row store over one buffer window. It is not safe for
// concurrent use.
type Table struct {
	id     uint32
	name   string
	layout *schema.Layout
	win    *buffer.Window

	hwm     int
	free    []int
	freeSet *roaring.Bitmap

	protectors   []*Protector // side table indexed by protector id
	protectCount []uint32

	onGrow []func(oldCap, newCap int)

	logger  *slog.Logger
	metrics MetricsObserver
}

// New attaches a table to a new window of buf.
func New(buf *buffer.Buffer, name string, layout *schema.Layout, opts ...Option) (*Table, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newTable(buf, name, layout, o)
}

func newTable(buf *buffer.Buffer, name string, layout *schema.Layout, o options) (*Table, error) {
	t := &Table{
		id:      nextID.Add(1),
		name:    name,
		layout:  layout,
		win:     buf.NewWindow(layout.RowSize()),
		freeSet: roaring.New(),
		logger:  o.logger.With("table", name),
		metrics: o.metrics,
	}
	if o.capacity > 0 {
		if err := t.Resize(o.capacity); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ID returns the process-unique table id.
func (t *Table) ID() uint32 { return t.id }

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Layout returns the row layout.
func (t *Table) Layout() *schema.Layout { return t.layout }

// Window returns the underlying buffer window.
func (t *Table) Window() *buffer.Window { return t.win }

// Len returns the high-water mark.
func (t *Table) Len() int { return t.hwm }

// NumFree returns the number of recycled slots.
func (t *Table) NumFree() int { return len(t.free) }

// NumLive returns the number of live slots.
func (t *Table) NumLive() int { return t.hwm - len(t.free) }

// Capacity returns the number of allocated rows.
func (t *Table) Capacity() int { return t.win.Capacity() }

// RowSize returns the row width in bytes.
func (t *Table) RowSize() int { return t.win.RowSize() }

// Generation returns the generation of the underlying buffer.
func (t *Table) Generation() uint64 { return t.win.Generation() }

// Row returns the raw bytes of row i.
func (t *Table) Row(i int) []byte { return t.win.Row(i) }

// Rows returns the raw bytes of rows [begin, begin+n), which must be below
// the high-water mark.
func (t *Table) Rows(begin, n int) []byte {
	invariant.Check(begin >= 0 && n >= 0 && begin+n <= t.hwm, "table.Rows",
		"%s: rows [%d,%d) beyond high-water mark %d", t.name, begin, begin+n, t.hwm)
	return t.win.Rows(begin, n)
}

// IsFull reports whether PushBack has to grow the table.
func (t *Table) IsFull() bool { return t.hwm >= t.win.Capacity() }

// State returns the state of slot i.
func (t *Table) State(i int) SlotState {
	invariant.Index("table.State", i, t.hwm)
	switch {
	case t.freeSet.Contains(uint32(i)): //nolint:gosec // i < hwm
		return SlotFree
	case t.protectCount[i] > 0:
		return SlotProtected
	default:
		return SlotLive
	}
}

// IsProtected reports whether any protector pins slot i.
func (t *Table) IsProtected(i int) bool {
	invariant.Index("table.IsProtected", i, t.hwm)
	return t.protectCount[i] > 0
}

// PushBack appends a zeroed live row at the high-water mark.
func (t *Table) PushBack() (int, error) {
	if err := t.Reserve(t.hwm + 1); err != nil {
		return -1, err
	}
	i := t.hwm
	t.hwm++
	return i, nil
}

// PushBackN appends n zeroed live rows and returns the first index.
func (t *Table) PushBackN(n int) (int, error) {
	invariant.Check(n >= 0, "table.PushBackN", "%s: negative row count %d", t.name, n)
	if err := t.Reserve(t.hwm + n); err != nil {
		return -1, err
	}
	first := t.hwm
	t.hwm += n
	return first, nil
}

// GetFreeRow returns a zeroed live row, recycling the most recently cleared
// slot when there is one.
func (t *Table) GetFreeRow() (int, error) {
	if n := len(t.free); n > 0 {
		i := t.free[n-1]
		t.free = t.free[:n-1]
		t.freeSet.Remove(uint32(i)) //nolint:gosec // i < hwm
		return i, nil
	}
	return t.PushBack()
}

func (t *Table) checkErasable(op string, i int) {
	invariant.Check(i >= 0 && i < t.hwm, op, "%s: slot %d beyond high-water mark %d", t.name, i, t.hwm)
	invariant.Check(!t.freeSet.Contains(uint32(i)), op, "%s: slot %d is already free", t.name, i) //nolint:gosec // i < hwm
}

// Clear zeroes slot i and puts it on the free-list.
func (t *Table) Clear(i int) {
	t.checkErasable("table.Clear", i)
	invariant.Check(t.protectCount[i] == 0, "table.Clear", "%s: slot %d is protected", t.name, i)
	t.release(i)
}

// TryClear clears slot i unless it is protected.
func (t *Table) TryClear(i int) bool {
	t.checkErasable("table.TryClear", i)
	if t.protectCount[i] > 0 {
		return false
	}
	t.release(i)
	return true
}

func (t *Table) release(i int) {
	clear(t.win.Row(i))
	t.free = append(t.free, i)
	t.freeSet.Add(uint32(i)) //nolint:gosec // i < hwm
}

// ClearAll zeroes every row and resets the high-water mark. No slot may be
// protected.
func (t *Table) ClearAll() {
	for i := 0; i < t.hwm; i++ {
		invariant.Check(t.protectCount[i] == 0, "table.ClearAll", "%s: slot %d is protected", t.name, i)
	}
	if t.hwm > 0 {
		clear(t.win.Rows(0, t.hwm))
	}
	t.hwm = 0
	t.free = t.free[:0]
	t.freeSet.Clear()
}

// Resize grows the table to n rows. Views of every table sharing the buffer
// become stale.
func (t *Table) Resize(n int) error {
	old := t.win.Capacity()
	if err := t.win.Resize(n); err != nil {
		return fmt.Errorf("table %s: resize to %d rows: %w", t.name, n, err)
	}
	t.afterGrow(old)
	return nil
}

// Expand grows the table by delta rows plus the buffer's expansion headroom.
func (t *Table) Expand(delta int) error {
	old := t.win.Capacity()
	if err := t.win.Expand(delta); err != nil {
		return fmt.Errorf("table %s: expand by %d rows: %w", t.name, delta, err)
	}
	t.afterGrow(old)
	return nil
}

// Reserve grows the table to hold at least n rows. Growth is geometric in the
// expansion factor so repeated appends stay amortized O(1).
func (t *Table) Reserve(n int) error {
	capacity := t.win.Capacity()
	if n <= capacity {
		return nil
	}
	f := t.win.ExpansionFactor()
	expanded := capacity + int(math.Ceil(float64(n-capacity)*(1+f)))
	geometric := int(math.Ceil(float64(capacity) * (1 + f)))
	return t.Resize(max(expanded, geometric, n))
}

func (t *Table) afterGrow(oldCap int) {
	newCap := t.win.Capacity()
	if newCap == oldCap {
		return
	}
	t.protectCount = append(t.protectCount, make([]uint32, newCap-len(t.protectCount))...)
	for _, p := range t.protectors {
		if p != nil {
			p.grow(newCap)
		}
	}
	for _, fn := range t.onGrow {
		fn(oldCap, newCap)
	}

	t.logger.Debug("table resized", "rows_from", oldCap, "rows_to", newCap, "hwm", t.hwm)
	t.metrics.OnResize(t.name, oldCap, newCap)
}

// CopyRowIn copies row isrc of src over live row idst.
func (t *Table) CopyRowIn(src *Table, isrc, idst int) {
	invariant.Check(t.layout.Compatible(src.layout), "table.CopyRowIn",
		"%s: layout %q is not compatible with %q", t.name, src.layout.Name(), t.layout.Name())
	invariant.Index("table.CopyRowIn", isrc, src.hwm)
	invariant.Index("table.CopyRowIn", idst, t.hwm)
	copy(t.win.Row(idst), src.win.Row(isrc))
}

// SwapRows exchanges the bytes of two live rows.
func (t *Table) SwapRows(i, j int) {
	invariant.Index("table.SwapRows", i, t.hwm)
	invariant.Index("table.SwapRows", j, t.hwm)
	if i == j {
		return
	}
	a, b := t.win.Row(i), t.win.Row(j)
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}

// View borrows row i.
func (t *Table) View(i int) schema.View {
	invariant.Check(i >= 0 && i < t.hwm, "table.View", "%s: slot %d beyond high-water mark %d", t.name, i, t.hwm)
	return schema.NewView(t.layout, t, i)
}

// Cursor returns a cursor over [0, Len()), free slots included.
func (t *Table) Cursor() *schema.Cursor {
	return schema.NewCursor(t.layout, t)
}

// Live yields the indices of live and protected slots in ascending order.
func (t *Table) Live() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 0; i < t.hwm; i++ {
			if t.freeSet.Contains(uint32(i)) { //nolint:gosec // i < hwm
				continue
			}
			if !yield(i) {
				return
			}
		}
	}
}

// LiveViews returns views of all live slots.
func (t *Table) LiveViews() []schema.View {
	views := make([]schema.View, 0, t.NumLive())
	for i := range t.Live() {
		views = append(views, schema.NewView(t.layout, t, i))
	}
	return views
}

// Ref returns a stable reference to live slot i.
func (t *Table) Ref(i int) Ref {
	invariant.Index("table.Ref", i, t.hwm)
	return Ref{Table: t.id, Index: i}
}

// Resolve borrows the row a reference points at.
func (t *Table) Resolve(r Ref) schema.View {
	invariant.Check(r.Table == t.id, "table.Resolve", "%s: reference to table %d", t.name, r.Table)
	invariant.Check(t.State(r.Index) != SlotFree, "table.Resolve", "%s: slot %d is free", t.name, r.Index)
	return t.View(r.Index)
}

// Store is the row store contract shared by Table and MappedTable. Code that
// clears rows must go through it so a mapped table keeps its index in sync.
type Store interface {
	schema.RowSource
	Name() string
	Layout() *schema.Layout
	NumLive() int
	State(i int) SlotState
	Rows(begin, n int) []byte
	View(i int) schema.View
	Live() iter.Seq[int]
	GetFreeRow() (int, error)
	PushBackN(n int) (int, error)
	Reserve(n int) error
	Expand(delta int) error
	Clear(i int)
	TryClear(i int) bool
	ClearAll()
}

var (
	_ Store = (*Table)(nil)
	_ Store = (*MappedTable)(nil)
)
