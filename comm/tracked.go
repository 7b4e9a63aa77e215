package comm

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/rowstore/rank"
	"github.com/hupe1980/rowstore/schema"
	"github.com/hupe1980/rowstore/table"
)

// TrackedRows keeps the local indices of rows whose key is in a globally
// agreed key set. Registered as a rank.Dependent it stays consistent while
// rows move between ranks.
type TrackedRows struct {
	table table.Store
	key   schema.Field
	keys  map[string]struct{}
	local *roaring.Bitmap
}

var _ rank.Dependent = (*TrackedRows)(nil)

// NewTrackedRows tracks keys in t and indexes the matching local rows.
func NewTrackedRows(t table.Store, key schema.Field, keys ...[]byte) *TrackedRows {
	tr := &TrackedRows{
		table: t,
		key:   key,
		keys:  make(map[string]struct{}, len(keys)),
		local: roaring.New(),
	}
	for _, k := range keys {
		tr.keys[string(k)] = struct{}{}
	}
	tr.Refresh()
	return tr
}

// Track adds key to the tracked set. Call Refresh to pick up matching rows.
func (tr *TrackedRows) Track(key []byte) {
	tr.keys[string(key)] = struct{}{}
}

// Untrack removes key from the tracked set and drops its local rows.
func (tr *TrackedRows) Untrack(key []byte) {
	delete(tr.keys, string(key))
	it := tr.local.Iterator()
	var drop []uint32
	for it.HasNext() {
		i := it.Next()
		if tr.key.EqualBytes(tr.table.View(int(i)), key) {
			drop = append(drop, i)
		}
	}
	for _, i := range drop {
		tr.local.Remove(i)
	}
}

// Refresh rescans the table for rows with tracked keys.
func (tr *TrackedRows) Refresh() {
	tr.local.Clear()
	for i := range tr.table.Live() {
		tr.consider(i)
	}
}

func (tr *TrackedRows) consider(i int) {
	if _, ok := tr.keys[string(tr.key.Bytes(tr.table.View(i)))]; ok {
		tr.local.Add(uint32(i)) //nolint:gosec // slot indices are non-negative
	}
}

// Contains reports whether local row i is tracked.
func (tr *TrackedRows) Contains(i int) bool {
	return i >= 0 && tr.local.Contains(uint32(i)) //nolint:gosec // checked non-negative
}

// Len returns the number of tracked local rows.
func (tr *TrackedRows) Len() int { return int(tr.local.GetCardinality()) } //nolint:gosec // bounded by table size

// Rows returns the tracked local row indices in ascending order.
func (tr *TrackedRows) Rows() []int {
	out := make([]int, 0, tr.local.GetCardinality())
	it := tr.local.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// Bitmap returns a copy of the tracked row set.
func (tr *TrackedRows) Bitmap() *roaring.Bitmap { return tr.local.Clone() }

func (tr *TrackedRows) BeforeBlockTransfer(rows []int, _, _ int) {
	for _, i := range rows {
		tr.local.Remove(uint32(i)) //nolint:gosec // slot indices are non-negative
	}
}

func (tr *TrackedRows) OnRowRecv(local int) {
	tr.consider(local)
}

func (tr *TrackedRows) AfterBlockTransfer() {}
