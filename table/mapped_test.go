package table

import (
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyOf(id uint64) []byte {
	return binary.NativeEndian.AppendUint64(nil, id)
}

func newMapped(t *testing.T, opts ...Option) (*MappedTable, pair) {
	t.Helper()
	p := newPair()
	m, err := NewMapped(buffer.New("test"), "mapped", p.layout, p.id, opts...)
	require.NoError(t, err)
	return m, p
}

func TestMapped_InsertLookup(t *testing.T) {
	m, p := newMapped(t)

	lk := m.Lookup(keyOf(7))
	assert.False(t, lk.Found())
	assert.Equal(t, -1, lk.Slot())

	i, err := m.Insert(lk, keyOf(7))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), p.id.Get(m.View(i)))

	lk = m.Lookup(keyOf(7))
	require.True(t, lk.Found())
	assert.Equal(t, i, lk.Slot())

	requireViolation(t, func() { _, _ = m.Insert(lk, keyOf(7)) })
	requireViolation(t, func() { _, _ = m.InsertKey(keyOf(7)) })

	slot, inserted, err := m.FindOrInsert(keyOf(7))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, i, slot)

	slot, inserted, err = m.FindOrInsert(keyOf(8))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEqual(t, i, slot)
}

func TestMapped_StaleLookupIsFatal(t *testing.T) {
	m, _ := newMapped(t)
	miss := m.Lookup(keyOf(1))
	_, err := m.InsertKey(keyOf(2))
	require.NoError(t, err)

	requireViolation(t, func() { _, _ = m.Insert(miss, keyOf(1)) })
	requireViolation(t, func() { m.Erase(m.Lookup(keyOf(3))) })
}

func TestMapped_LookupSurvivesRehash(t *testing.T) {
	obs := &recordingObserver{}
	m, p := newMapped(t, WithBuckets(2), WithMetricsObserver(obs))

	rng := rand.New(rand.NewPCG(3, 4))
	slots := map[uint64]int{}
	for len(slots) < 500 {
		id := rng.Uint64()
		if _, ok := slots[id]; ok {
			continue
		}
		i, err := m.InsertKey(keyOf(id))
		require.NoError(t, err)
		p.val.Set(m.View(i), float64(id%1000))
		slots[id] = i

		// Lookups drive the rehash policy.
		lk := m.Lookup(keyOf(id))
		require.True(t, lk.Found())
		require.Equal(t, i, lk.Slot())
	}

	assert.NotEmpty(t, obs.rehash)
	assert.Greater(t, m.NumBuckets(), 2)

	for id, i := range slots {
		lk := m.Lookup(keyOf(id))
		require.True(t, lk.Found(), "key %d", id)
		assert.Equal(t, i, lk.Slot())
		assert.Equal(t, float64(id%1000), p.val.Get(m.View(i)))
	}

	m.Rehash(7)
	assert.Equal(t, 7, m.NumBuckets())
	lookups, skips := m.Stats()
	assert.Zero(t, lookups)
	assert.Zero(t, skips)
	for id, i := range slots {
		assert.Equal(t, i, m.Lookup(keyOf(id)).Slot())
	}
}

func TestMapped_RehashPolicy(t *testing.T) {
	m, _ := newMapped(t, WithBuckets(1), WithRemapRatio(1000), WithRemapNLookup(1))
	for id := uint64(0); id < 50; id++ {
		_, err := m.InsertKey(keyOf(id))
		require.NoError(t, err)
	}
	// Ratio never exceeds the threshold, so the single bucket stays.
	assert.Equal(t, 1, m.NumBuckets())

	m2, _ := newMapped(t, WithBuckets(1), WithRemapRatio(0.5), WithRemapNLookup(3))
	for id := uint64(0); id < 4; id++ {
		_, err := m2.InsertKey(keyOf(id))
		require.NoError(t, err)
	}
	assert.Greater(t, m2.NumBuckets(), 1)
}

func TestMapped_EraseAndClear(t *testing.T) {
	m, _ := newMapped(t, WithBuckets(1))
	for id := uint64(1); id <= 5; id++ {
		_, err := m.InsertKey(keyOf(id))
		require.NoError(t, err)
	}

	// Erase from the middle, head and tail of one chain.
	for _, id := range []uint64{3, 5, 1} {
		lk := m.Lookup(keyOf(id))
		require.True(t, lk.Found())
		m.Erase(lk)
		assert.False(t, m.Lookup(keyOf(id)).Found())
	}
	assert.Equal(t, 2, m.NumLive())

	lk := m.Lookup(keyOf(2))
	require.True(t, lk.Found())
	m.Clear(lk.Slot())
	assert.False(t, m.Lookup(keyOf(2)).Found())
	assert.True(t, m.Lookup(keyOf(4)).Found())

	// Recycled slots are indexed under their new key.
	i, err := m.InsertKey(keyOf(9))
	require.NoError(t, err)
	assert.Equal(t, i, m.Lookup(keyOf(9)).Slot())
}

func TestMapped_ProtectedEraseIsFatal(t *testing.T) {
	m, _ := newMapped(t)
	i, err := m.InsertKey(keyOf(1))
	require.NoError(t, err)

	p := m.NewProtector()
	p.Protect(i)
	requireViolation(t, func() { m.Erase(m.Lookup(keyOf(1))) })
	assert.False(t, m.TryClear(i))
	assert.True(t, m.Lookup(keyOf(1)).Found())

	p.Close()
	assert.True(t, m.TryClear(i))
	assert.False(t, m.Lookup(keyOf(1)).Found())
}

func TestMapped_IndexAndClearAll(t *testing.T) {
	m, p := newMapped(t)

	i, err := m.PushBack()
	require.NoError(t, err)
	p.id.Set(m.View(i), 42)
	assert.False(t, m.Lookup(keyOf(42)).Found())

	assert.False(t, m.Indexed(i))
	m.Index(i)
	assert.True(t, m.Indexed(i))
	assert.Equal(t, i, m.Lookup(keyOf(42)).Slot())
	m.Index(i) // already indexed
	m.Rehash(7)
	assert.True(t, m.Indexed(i))

	j, err := m.PushBack()
	require.NoError(t, err)
	p.id.Set(m.View(j), 42)
	requireViolation(t, func() { m.Index(j) })

	m.Clear(j)
	assert.False(t, m.Indexed(j))

	m.ClearAll()
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Lookup(keyOf(42)).Found())
}

func TestMapped_KeyFromOtherLayoutIsFatal(t *testing.T) {
	ob := schema.NewBuilder("other")
	foreign := schema.AddNumber[int16](ob, "k")
	ob.Build()

	requireViolation(t, func() {
		_, _ = NewMapped(buffer.New("test"), "bad", newPair().layout, foreign)
	})
}

func TestMapped_SwapRows(t *testing.T) {
	for _, buckets := range []int{1, 64} {
		m, p := newMapped(t, WithBuckets(buckets))
		slots := make([]int, 4)
		for id := range slots {
			i, err := m.InsertKey(keyOf(uint64(id)))
			require.NoError(t, err)
			p.val.Set(m.View(i), float64(id))
			slots[id] = i
		}

		m.SwapRows(slots[1], slots[2])
		assert.Equal(t, slots[2], m.Lookup(keyOf(1)).Slot())
		assert.Equal(t, slots[1], m.Lookup(keyOf(2)).Slot())
		assert.Equal(t, 1.0, p.val.Get(m.View(slots[2])))

		m.Erase(m.Lookup(keyOf(1)))
		assert.False(t, m.Lookup(keyOf(1)).Found())
		assert.Equal(t, slots[1], m.Lookup(keyOf(2)).Slot())
		assert.Equal(t, slots[3], m.Lookup(keyOf(3)).Slot())

		// An unindexed row stays unindexed wherever its key goes.
		j, err := m.PushBack()
		require.NoError(t, err)
		p.id.Set(m.View(j), 50)
		m.SwapRows(slots[0], j)
		assert.Equal(t, j, m.Lookup(keyOf(0)).Slot())
		assert.False(t, m.Lookup(keyOf(50)).Found())
		assert.True(t, m.Indexed(j))
		assert.False(t, m.Indexed(slots[0]))

		requireViolation(t, func() { m.SwapRows(slots[1], slots[2]) })
	}
}

func TestMapped_CopyRowIn(t *testing.T) {
	m, p := newMapped(t)
	a, err := m.InsertKey(keyOf(1))
	require.NoError(t, err)
	b, err := m.InsertKey(keyOf(2))
	require.NoError(t, err)
	c, err := m.InsertKey(keyOf(3))
	require.NoError(t, err)

	src, err := New(buffer.New("src"), "src", p.layout)
	require.NoError(t, err)
	s, err := src.PushBack()
	require.NoError(t, err)
	p.id.Set(src.View(s), 9)
	p.val.Set(src.View(s), 0.5)

	m.CopyRowIn(src, s, b)
	assert.False(t, m.Lookup(keyOf(2)).Found())
	assert.Equal(t, b, m.Lookup(keyOf(9)).Slot())
	assert.Equal(t, 0.5, p.val.Get(m.View(b)))
	assert.Equal(t, a, m.Lookup(keyOf(1)).Slot())

	m.Erase(m.Lookup(keyOf(9)))
	assert.Equal(t, 2, m.NumLive())
	assert.Equal(t, a, m.Lookup(keyOf(1)).Slot())

	// Copying a row over another duplicates its key.
	requireViolation(t, func() { m.CopyRowIn(m.Table, a, c) })
}
