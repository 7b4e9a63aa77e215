package buffer

import (
	"testing"

	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/resource"
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

func TestRoundUp(t *testing.T) {
	assert.Equal(t, 0, RoundUp(0))
	assert.Equal(t, 8, RoundUp(1))
	assert.Equal(t, 8, RoundUp(8))
	assert.Equal(t, 24, RoundUp(17))
}

func TestWindow_ResizeZeroFillsAndPreserves(t *testing.T) {
	b := New("test")
	w := b.NewWindow(12)

	require.NoError(t, w.Resize(2))
	assert.Equal(t, 2, w.Capacity())
	assert.Equal(t, 24, b.Size())

	copy(w.Row(0), []byte("abcdefghijkl"))
	copy(w.Row(1), []byte("mnopqrstuvwx"))

	require.NoError(t, w.Resize(5))
	assert.Equal(t, "abcdefghijkl", string(w.Row(0)))
	assert.Equal(t, "mnopqrstuvwx", string(w.Row(1)))
	for i := 2; i < 5; i++ {
		assert.Equal(t, make([]byte, 12), w.Row(i))
	}
	assert.Zero(t, b.Size()%WordSize)
	assert.Equal(t, 64, b.Size()) // 60 rounded to a word
}

func TestWindow_ResizeBumpsGeneration(t *testing.T) {
	b := New("test")
	w := b.NewWindow(8)
	g0 := b.Generation()

	require.NoError(t, w.Resize(4))
	g1 := b.Generation()
	assert.Greater(t, g1, g0)

	// Same capacity is a no-op.
	require.NoError(t, w.Resize(4))
	assert.Equal(t, g1, b.Generation())
	assert.Equal(t, g1, w.Generation())
}

func TestWindow_ShrinkIsFatal(t *testing.T) {
	w := New("test").NewWindow(8)
	require.NoError(t, w.Resize(4))
	requireViolation(t, func() { _ = w.Resize(3) })
}

func TestWindow_RowOutOfRangeIsFatal(t *testing.T) {
	w := New("test").NewWindow(8)
	require.NoError(t, w.Resize(2))
	requireViolation(t, func() { w.Row(2) })
	requireViolation(t, func() { w.Row(-1) })
	requireViolation(t, func() { w.Rows(1, 2) })
}

func TestBuffer_WindowsDoNotOverlap(t *testing.T) {
	b := New("test")
	a := b.NewWindow(3)
	c := b.NewWindow(16)

	require.NoError(t, a.Resize(3))
	require.NoError(t, c.Resize(2))
	for i := 0; i < a.Capacity(); i++ {
		copy(a.Row(i), []byte{1, 1, 1})
	}
	for i := 0; i < c.Capacity(); i++ {
		copy(c.Row(i), []byte("cccccccccccccccc"))
	}

	// Growing the first window shifts the second one.
	require.NoError(t, a.Resize(10))
	for i := 0; i < c.Capacity(); i++ {
		assert.Equal(t, "cccccccccccccccc", string(c.Row(i)))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, []byte{1, 1, 1}, a.Row(i))
	}
	for i := 3; i < 10; i++ {
		assert.Equal(t, []byte{0, 0, 0}, a.Row(i))
	}
	assert.Equal(t, RoundUp(30)+32, b.Size())
	assert.Len(t, a.Bytes(), 30)
	assert.Len(t, c.Bytes(), 32)
}

func TestWindow_Expand(t *testing.T) {
	b := New("test", WithExpansionFactor(0.5))
	w := b.NewWindow(8)

	require.NoError(t, w.Expand(4))
	assert.Equal(t, 6, w.Capacity())

	require.NoError(t, w.Expand(1))
	assert.Equal(t, 8, w.Capacity())

	require.NoError(t, w.Expand(0))
	assert.Equal(t, 8, w.Capacity())
}

func TestBuffer_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 64})
	b := New("test", WithMemoryAcquirer(rc))
	w := b.NewWindow(8)

	require.NoError(t, w.Resize(8))
	assert.Equal(t, int64(64), rc.MemoryUsage())

	gen := b.Generation()
	err := w.Resize(9)
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Equal(t, 8, w.Capacity())
	assert.Equal(t, gen, b.Generation())

	require.NoError(t, b.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestBuffer_OffHeap(t *testing.T) {
	b := New("offheap", WithOffHeap())
	w := b.NewWindow(16)

	require.NoError(t, w.Resize(100))
	copy(w.Row(99), []byte("last row payload"))
	require.NoError(t, w.Resize(200))
	assert.Equal(t, "last row payload", string(w.Row(99)))
	assert.Equal(t, make([]byte, 16), w.Row(150))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestBuffer_ClosedIsFatal(t *testing.T) {
	b := New("test")
	w := b.NewWindow(8)
	require.NoError(t, b.Close())
	requireViolation(t, func() { _ = w.Resize(1) })
	requireViolation(t, func() { b.NewWindow(8) })
}
