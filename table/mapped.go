package table

import (
	"math"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/schema"
)

const nilSlot = -1

// Lookup is the result of MappedTable.Lookup: the matching slot, or the
// place an insert of the key goes. It is invalidated by any change to the
// index.
type Lookup struct {
	slot   int
	bucket int
	prev   int32
	epoch  uint64
}

// Found reports whether the key was present.
func (l Lookup) Found() bool { return l.slot != nilSlot }

// Slot returns the matching slot, or -1.
func (l Lookup) Slot() int { return l.slot }

// MappedTable is a Table with a hash index over a key field.
type MappedTable struct {
	*Table

	key   schema.Field
	heads []int32
	next  []int32
	home  []int32 // bucket of each indexed slot, nilSlot otherwise
	epoch uint64

	lookups      uint64
	skips        uint64
	remapRatio   float64
	remapNLookup uint64
}

// NewMapped attaches a mapped table keyed by key to a new window of buf.
func NewMapped(buf *buffer.Buffer, name string, layout *schema.Layout, key schema.Field, opts ...Option) (*MappedTable, error) {
	invariant.Check(key.Layout() == layout || layout.Compatible(key.Layout()), "table.NewMapped",
		"%s: key field %q does not belong to layout %q", name, key.Descriptor().Name, layout.Name())

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &MappedTable{
		key:          key,
		heads:        newChain(o.buckets),
		remapRatio:   o.remapRatio,
		remapNLookup: o.remapNLookup,
	}
	t, err := newTable(buf, name, layout, options{
		logger:  o.logger,
		metrics: o.metrics,
	})
	if err != nil {
		return nil, err
	}
	m.Table = t
	t.onGrow = append(t.onGrow, m.growNext)
	if o.capacity > 0 {
		if err := t.Resize(o.capacity); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func newChain(n int) []int32 {
	c := make([]int32, n)
	for i := range c {
		c[i] = nilSlot
	}
	return c
}

func (m *MappedTable) growNext(_, newCap int) {
	for len(m.next) < newCap {
		m.next = append(m.next, nilSlot)
		m.home = append(m.home, nilSlot)
	}
}

// Key returns the key field.
func (m *MappedTable) Key() schema.Field { return m.key }

// NumBuckets returns the bucket count.
func (m *MappedTable) NumBuckets() int { return len(m.heads) }

// Stats returns the lookups and skips counted since the last rehash.
func (m *MappedTable) Stats() (lookups, skips uint64) { return m.lookups, m.skips }

func (m *MappedTable) bucketOf(key []byte) int {
	return int(schema.HashBytes(key) % uint64(len(m.heads))) //nolint:gosec // bucket count is positive
}

// Lookup searches for key. A rehash may run first when the chains have
// become long.
func (m *MappedTable) Lookup(key []byte) Lookup {
	m.maybeRehash()

	m.lookups++
	b := m.bucketOf(key)
	prev := int32(nilSlot)
	for s := m.heads[b]; s != nilSlot; s = m.next[s] {
		if m.key.EqualBytes(m.View(int(s)), key) {
			return Lookup{slot: int(s), bucket: b, prev: prev, epoch: m.epoch}
		}
		m.skips++
		prev = s
	}
	return Lookup{slot: nilSlot, bucket: b, prev: nilSlot, epoch: m.epoch}
}

func (m *MappedTable) checkEpoch(op string, lk Lookup) {
	invariant.Check(lk.epoch == m.epoch, op, "%s: stale lookup (epoch %d, index at %d)", m.name, lk.epoch, m.epoch)
}

// Insert stores key in a fresh row at the insertion point of a missed lookup.
func (m *MappedTable) Insert(lk Lookup, key []byte) (int, error) {
	m.checkEpoch("table.MappedTable.Insert", lk)
	invariant.Check(!lk.Found(), "table.MappedTable.Insert", "%s: key already present at slot %d", m.name, lk.slot)

	i, err := m.GetFreeRow()
	if err != nil {
		return -1, err
	}
	m.key.SetBytes(m.View(i), key)
	m.link(lk.bucket, i)
	return i, nil
}

// InsertKey inserts key, which must not be present.
func (m *MappedTable) InsertKey(key []byte) (int, error) {
	return m.Insert(m.Lookup(key), key)
}

// FindOrInsert returns the slot of key, inserting it when missing.
func (m *MappedTable) FindOrInsert(key []byte) (slot int, inserted bool, err error) {
	lk := m.Lookup(key)
	if lk.Found() {
		return lk.slot, false, nil
	}
	slot, err = m.Insert(lk, key)
	return slot, err == nil, err
}

func (m *MappedTable) link(b, i int) {
	m.next[i] = m.heads[b]
	m.heads[b] = int32(i) //nolint:gosec // slots fit in int32
	m.home[i] = int32(b)  //nolint:gosec // bucket count fits in int32
	m.epoch++
}

func (m *MappedTable) unlink(b int, prev int32, i int) {
	if prev == nilSlot {
		m.heads[b] = m.next[i]
	} else {
		m.next[prev] = m.next[i]
	}
	m.next[i] = nilSlot
	m.home[i] = nilSlot
	m.epoch++
}

// Erase clears the row a successful lookup found.
func (m *MappedTable) Erase(lk Lookup) {
	m.checkEpoch("table.MappedTable.Erase", lk)
	invariant.Check(lk.Found(), "table.MappedTable.Erase", "%s: erase of a missed lookup", m.name)
	m.checkErasable("table.MappedTable.Erase", lk.slot)
	invariant.Check(m.protectCount[lk.slot] == 0, "table.MappedTable.Erase", "%s: slot %d is protected", m.name, lk.slot)

	m.unlink(lk.bucket, lk.prev, lk.slot)
	m.release(lk.slot)
}

// find locates slot i in its bucket chain. ok is false when the slot is
// not indexed.
func (m *MappedTable) find(i int) (bucket int, prev int32, ok bool) {
	if m.home[i] == nilSlot {
		return 0, nilSlot, false
	}
	bucket = int(m.home[i])
	prev, ok = m.findIn(bucket, i)
	invariant.Check(ok, "table.MappedTable.find", "%s: slot %d missing from bucket %d", m.name, i, bucket)
	return bucket, prev, true
}

// Indexed reports whether slot i is linked into the index.
func (m *MappedTable) Indexed(i int) bool {
	invariant.Index("table.MappedTable.Indexed", i, m.hwm)
	return m.home[i] != nilSlot
}

func (m *MappedTable) findIn(b, i int) (int32, bool) {
	prev := int32(nilSlot)
	for s := m.heads[b]; s != nilSlot; s = m.next[s] {
		if int(s) == i {
			return prev, true
		}
		prev = s
	}
	return nilSlot, false
}

// Clear removes slot i from the index and clears it.
func (m *MappedTable) Clear(i int) {
	m.checkErasable("table.MappedTable.Clear", i)
	invariant.Check(m.protectCount[i] == 0, "table.MappedTable.Clear", "%s: slot %d is protected", m.name, i)
	if b, prev, ok := m.find(i); ok {
		m.unlink(b, prev, i)
	}
	m.release(i)
}

// TryClear clears slot i unless it is protected.
func (m *MappedTable) TryClear(i int) bool {
	m.checkErasable("table.MappedTable.TryClear", i)
	if m.protectCount[i] > 0 {
		return false
	}
	m.Clear(i)
	return true
}

// ClearAll clears every row and empties the index.
func (m *MappedTable) ClearAll() {
	m.Table.ClearAll()
	for i := range m.heads {
		m.heads[i] = nilSlot
	}
	for i := range m.next {
		m.next[i] = nilSlot
		m.home[i] = nilSlot
	}
	m.epoch++
}

// Index adds live row i, whose key is already written, to the index. Rows
// appended with PushBack or received from other ranks are indexed this way.
func (m *MappedTable) Index(i int) {
	invariant.Check(m.State(i) != SlotFree, "table.MappedTable.Index", "%s: slot %d is free", m.name, i)
	m.maybeRehash()
	if _, _, ok := m.find(i); ok {
		return
	}

	m.linkKey("table.MappedTable.Index", i)
}

// linkKey links slot i under the bucket of its current key. The key must
// not already be indexed.
func (m *MappedTable) linkKey(op string, i int) {
	key := m.key.Bytes(m.View(i))
	b := m.bucketOf(key)
	for s := m.heads[b]; s != nilSlot; s = m.next[s] {
		invariant.Check(!m.key.EqualBytes(m.View(int(s)), key), op,
			"%s: duplicate key at slots %d and %d", m.name, s, i)
	}
	m.link(b, i)
}

// CopyRowIn copies row isrc of src over live row idst and re-indexes idst
// under its new key.
func (m *MappedTable) CopyRowIn(src *Table, isrc, idst int) {
	invariant.Index("table.MappedTable.CopyRowIn", idst, m.hwm)
	invariant.Check(m.State(idst) != SlotFree, "table.MappedTable.CopyRowIn", "%s: slot %d is free", m.name, idst)

	b, prev, indexed := m.find(idst)
	if indexed {
		m.unlink(b, prev, idst)
	}
	m.Table.CopyRowIn(src, isrc, idst)
	if indexed {
		m.linkKey("table.MappedTable.CopyRowIn", idst)
	}
}

// SwapRows exchanges the bytes of two live rows. Index entries follow the
// keys.
func (m *MappedTable) SwapRows(i, j int) {
	invariant.Index("table.MappedTable.SwapRows", i, m.hwm)
	invariant.Index("table.MappedTable.SwapRows", j, m.hwm)
	invariant.Check(m.State(i) != SlotFree && m.State(j) != SlotFree, "table.MappedTable.SwapRows",
		"%s: swap of free slot (%d, %d)", m.name, i, j)
	if i == j {
		return
	}

	bi, pi, iIndexed := m.find(i)
	if iIndexed {
		m.unlink(bi, pi, i)
	}
	bj, pj, jIndexed := m.find(j)
	if jIndexed {
		m.unlink(bj, pj, j)
	}
	m.Table.SwapRows(i, j)
	if iIndexed {
		m.link(bi, j)
	}
	if jIndexed {
		m.link(bj, i)
	}
}

// Rehash rebuilds the index with n buckets. Row bytes are not touched and
// unindexed rows stay unindexed.
func (m *MappedTable) Rehash(n int) {
	invariant.Check(n > 0, "table.MappedTable.Rehash", "%s: bucket count %d must be positive", m.name, n)
	old := len(m.heads)
	ratio := m.skipRatio()

	indexed := make([]int, 0, m.NumLive())
	for i := range m.Live() {
		if m.home[i] != nilSlot {
			indexed = append(indexed, i)
		}
	}

	m.heads = newChain(n)
	for i := range m.next {
		m.next[i] = nilSlot
		m.home[i] = nilSlot
	}
	for _, i := range indexed {
		m.link(m.bucketOf(m.key.Bytes(m.View(i))), i)
	}
	m.lookups, m.skips = 0, 0
	m.epoch++

	m.logger.Debug("table rehashed", "buckets_from", old, "buckets_to", n, "skip_ratio", ratio, "rows", m.NumLive())
	m.metrics.OnRehash(m.name, old, n, ratio)
}

func (m *MappedTable) skipRatio() float64 {
	if m.lookups == 0 {
		return 0
	}
	return float64(m.skips) / float64(m.lookups)
}

func (m *MappedTable) maybeRehash() {
	if m.lookups < m.remapNLookup || m.skipRatio() <= m.remapRatio {
		return
	}
	n := len(m.heads)
	grown := int(math.Ceil(float64(n) * (1 + m.win.ExpansionFactor())))
	m.Rehash(max(grown, n+1))
}
