package table

import (
	"math/rand/v2"
	"slices"
	"sync"
	"testing"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/schema"
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

type pair struct {
	layout *schema.Layout
	id     schema.Number[uint64]
	val    schema.Number[float64]
}

// newPair builds a 16-byte row.
func newPair() pair {
	b := schema.NewBuilder("pair")
	p := pair{
		id:  schema.AddNumber[uint64](b, "id"),
		val: schema.AddNumber[float64](b, "val"),
	}
	p.layout = b.Build()
	return p
}

type recordingObserver struct {
	mu      sync.Mutex
	resizes [][2]int
	rehash  [][2]int
}

func (r *recordingObserver) OnResize(_ string, oldCap, newCap int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resizes = append(r.resizes, [2]int{oldCap, newCap})
}

func (r *recordingObserver) OnRehash(_ string, oldBuckets, newBuckets int, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rehash = append(r.rehash, [2]int{oldBuckets, newBuckets})
}

func TestTable_Scenario(t *testing.T) {
	p := newPair()
	require.Equal(t, 16, p.layout.RowSize())

	tbl, err := New(buffer.New("test"), "scenario", p.layout, WithCapacity(4))
	require.NoError(t, err)
	require.Equal(t, 4, tbl.Capacity())

	i0, err := tbl.PushBack()
	require.NoError(t, err)
	i1, err := tbl.PushBack()
	require.NoError(t, err)
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)

	p.id.Set(tbl.View(1), 11)
	tbl.Clear(0)
	assert.Equal(t, SlotFree, tbl.State(0))

	r, err := tbl.GetFreeRow()
	require.NoError(t, err)
	assert.Equal(t, 0, r)

	i2, err := tbl.PushBack()
	require.NoError(t, err)
	assert.Equal(t, 2, i2)
	p.id.Set(tbl.View(2), 22)
	p.val.Set(tbl.View(2), 2.5)

	row1 := slices.Clone(tbl.Row(1))
	row2 := slices.Clone(tbl.Row(2))
	require.NoError(t, tbl.Resize(8))
	assert.Equal(t, 8, tbl.Capacity())
	assert.Equal(t, row1, tbl.Row(1))
	assert.Equal(t, row2, tbl.Row(2))
}

func TestTable_PushBackGrows(t *testing.T) {
	obs := &recordingObserver{}
	tbl, err := New(buffer.New("test", buffer.WithExpansionFactor(1)), "grow", newPair().layout, WithMetricsObserver(obs))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		idx, err := tbl.PushBack()
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, 10, tbl.Len())
	assert.GreaterOrEqual(t, tbl.Capacity(), 10)
	assert.Less(t, len(obs.resizes), 10)

	first, err := tbl.PushBackN(25)
	require.NoError(t, err)
	assert.Equal(t, 10, first)
	assert.Equal(t, 35, tbl.Len())
	assert.True(t, tbl.Capacity() >= 35)
}

func TestTable_RecyclingNeverReturnsLive(t *testing.T) {
	tbl, err := New(buffer.New("test"), "recycle", newPair().layout)
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	live := map[int]bool{}
	for step := 0; step < 2000; step++ {
		if len(live) == 0 || rng.IntN(3) > 0 {
			i, err := tbl.GetFreeRow()
			require.NoError(t, err)
			require.False(t, live[i], "slot %d handed out while live", i)
			require.True(t, tbl.View(i).IsZero())
			live[i] = true
			tbl.Row(i)[0] = 1
			continue
		}
		for i := range live {
			tbl.Clear(i)
			delete(live, i)
			break
		}
	}
	assert.Equal(t, len(live), tbl.NumLive())
	got := slices.Collect(tbl.Live())
	assert.Len(t, got, len(live))
	for _, i := range got {
		assert.True(t, live[i])
	}
}

func TestTable_ClearFatal(t *testing.T) {
	tbl, err := New(buffer.New("test"), "fatal", newPair().layout, WithCapacity(2))
	require.NoError(t, err)
	_, err = tbl.PushBack()
	require.NoError(t, err)

	requireViolation(t, func() { tbl.Clear(1) })  // beyond hwm
	requireViolation(t, func() { tbl.View(1) })   // beyond hwm
	requireViolation(t, func() { tbl.Clear(-1) }) // negative
	tbl.Clear(0)
	requireViolation(t, func() { tbl.Clear(0) }) // already free
	requireViolation(t, func() { _ = tbl.Resize(1) })
}

func TestTable_Protection(t *testing.T) {
	tbl, err := New(buffer.New("test"), "protect", newPair().layout)
	require.NoError(t, err)
	_, err = tbl.PushBackN(3)
	require.NoError(t, err)

	a := tbl.NewProtector()
	b := tbl.NewProtector()
	assert.Equal(t, 2, tbl.NumProtectors())

	a.Protect(1)
	b.Protect(1)
	assert.Equal(t, SlotProtected, tbl.State(1))
	requireViolation(t, func() { a.Protect(1) })
	requireViolation(t, func() { tbl.Clear(1) })
	assert.False(t, tbl.TryClear(1))

	a.Release(1)
	assert.True(t, tbl.IsProtected(1))
	assert.False(t, tbl.TryClear(1))
	requireViolation(t, func() { a.Release(1) })

	// Protectors follow the table through growth.
	_, err = tbl.PushBackN(100)
	require.NoError(t, err)
	a.Protect(90)
	assert.True(t, a.IsProtected(90))
	assert.Equal(t, 1, a.Count())

	b.Close()
	assert.False(t, tbl.IsProtected(1))
	assert.True(t, tbl.TryClear(1))
	requireViolation(t, func() { b.Protect(0) })

	requireViolation(t, func() { tbl.ClearAll() })
	a.Close()
	tbl.ClearAll()
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 0, tbl.NumProtectors())

	// Closed slots are reused.
	c := tbl.NewProtector()
	assert.Equal(t, 1, tbl.NumProtectors())
	c.Close()
	c.Close()
}

func TestTable_ProtectFreeIsFatal(t *testing.T) {
	tbl, err := New(buffer.New("test"), "protect", newPair().layout)
	require.NoError(t, err)
	_, err = tbl.PushBackN(2)
	require.NoError(t, err)
	tbl.Clear(0)

	p := tbl.NewProtector()
	requireViolation(t, func() { p.Protect(0) })
	requireViolation(t, func() { p.Protect(2) })
}

func TestTable_CopyAndSwap(t *testing.T) {
	p := newPair()
	buf := buffer.New("test")
	src, err := New(buf, "src", p.layout)
	require.NoError(t, err)
	dst, err := New(buf, "dst", p.layout)
	require.NoError(t, err)

	_, err = src.PushBackN(2)
	require.NoError(t, err)
	_, err = dst.PushBackN(2)
	require.NoError(t, err)

	p.id.Set(src.View(0), 1)
	p.id.Set(src.View(1), 2)
	dst.CopyRowIn(src, 1, 0)
	assert.Equal(t, uint64(2), p.id.Get(dst.View(0)))

	src.SwapRows(0, 1)
	assert.Equal(t, uint64(2), p.id.Get(src.View(0)))
	assert.Equal(t, uint64(1), p.id.Get(src.View(1)))

	ob := schema.NewBuilder("other")
	schema.AddNumber[int32](ob, "x")
	other, err := New(buf, "other", ob.Build())
	require.NoError(t, err)
	_, err = other.PushBack()
	require.NoError(t, err)
	requireViolation(t, func() { dst.CopyRowIn(other, 0, 0) })
	requireViolation(t, func() { dst.CopyRowIn(src, 2, 0) })
}

func TestTable_Refs(t *testing.T) {
	p := newPair()
	buf := buffer.New("test")
	a, err := New(buf, "a", p.layout)
	require.NoError(t, err)
	b, err := New(buf, "b", p.layout)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	i, err := a.PushBack()
	require.NoError(t, err)
	p.val.Set(a.View(i), 4.25)
	ref := a.Ref(i)

	// Growing another table of the same buffer relocates everything.
	_, err = b.PushBackN(1000)
	require.NoError(t, err)
	assert.Equal(t, 4.25, p.val.Get(a.Resolve(ref)))

	requireViolation(t, func() { b.Resolve(ref) })
	a.Clear(i)
	requireViolation(t, func() { a.Resolve(ref) })
}

func TestTable_ViewsGoStaleOnGrowth(t *testing.T) {
	p := newPair()
	tbl, err := New(buffer.New("test"), "stale", p.layout, WithCapacity(1))
	require.NoError(t, err)
	i, err := tbl.PushBack()
	require.NoError(t, err)
	v := tbl.View(i)

	_, err = tbl.PushBack()
	require.NoError(t, err)
	requireViolation(t, func() { p.id.Get(v) })

	c := tbl.Cursor()
	n := 0
	for c.Restart(); c.InRange(); c.Step() {
		p.id.Set(c.View(), uint64(c.Index()))
		n++
	}
	assert.Equal(t, 2, n)
	assert.Len(t, tbl.LiveViews(), 2)
}
