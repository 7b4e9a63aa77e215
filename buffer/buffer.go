package buffer

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/internal/mmap"
)

const (
	// WordSize is the machine word the allocation and row layouts align to.
	WordSize = 8

	// DefaultExpansionFactor is the extra fraction allocated by Expand.
	DefaultExpansionFactor = 0.5
)

// MemoryAcquirer is charged for every byte the buffer grows by.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

// RoundUp rounds n up to the next multiple of WordSize.
func RoundUp(n int) int {
	return (n + WordSize - 1) &^ (WordSize - 1)
}

// Buffer is a growable byte allocation shared by a set of windows.
// It is not safe for concurrent use.
type Buffer struct {
	name     string
	data     []byte
	mapping  *mmap.Mapping
	offHeap  bool
	windows  []*Window
	gen      uint64
	factor   float64
	acquirer MemoryAcquirer
	logger   *slog.Logger
	closed   bool
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithExpansionFactor sets the over-allocation used by Window.Expand.
func WithExpansionFactor(f float64) Option {
	return func(b *Buffer) {
		if f >= 0 {
			b.factor = f
		}
	}
}

// WithMemoryAcquirer charges growth against a memory budget.
func WithMemoryAcquirer(a MemoryAcquirer) Option {
	return func(b *Buffer) {
		b.acquirer = a
	}
}

// WithOffHeap backs the buffer with anonymous memory mappings.
func WithOffHeap() Option {
	return func(b *Buffer) {
		b.offHeap = true
	}
}

// WithLogger sets the logger used for resize events.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an empty buffer.
func New(name string, opts ...Option) *Buffer {
	b := &Buffer{
		name:   name,
		factor: DefaultExpansionFactor,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		gen:    1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the buffer name.
func (b *Buffer) Name() string { return b.name }

// Size returns the allocated size in bytes.
func (b *Buffer) Size() int { return len(b.data) }

// Generation changes every time the allocation is rebuilt.
func (b *Buffer) Generation() uint64 { return b.gen }

// ExpansionFactor returns the configured expansion factor.
func (b *Buffer) ExpansionFactor() float64 { return b.factor }

// NumWindows returns the number of windows.
func (b *Buffer) NumWindows() int { return len(b.windows) }

// NewWindow appends an empty window of rowSize-byte rows.
func (b *Buffer) NewWindow(rowSize int) *Window {
	invariant.Check(!b.closed, "buffer.NewWindow", "buffer %q is closed", b.name)
	invariant.Check(rowSize > 0, "buffer.NewWindow", "row size %d must be positive", rowSize)

	w := &Window{
		buf:     b,
		id:      len(b.windows),
		rowSize: rowSize,
		offset:  len(b.data),
	}
	b.windows = append(b.windows, w)
	return w
}

// Close releases the allocation. Windows must not be used afterwards.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.acquirer != nil {
		b.acquirer.ReleaseMemory(int64(len(b.data)))
	}
	b.data = nil
	b.gen++

	if b.mapping != nil {
		m := b.mapping
		b.mapping = nil
		return m.Close()
	}
	return nil
}

// grow rebuilds the allocation so that window w spans newBytes bytes.
func (b *Buffer) grow(w *Window, newBytes int) error {
	oldBytes := w.spanBytes()
	delta := newBytes - oldBytes
	total := len(b.data) + delta

	if b.acquirer != nil {
		if err := b.acquirer.AcquireMemory(int64(delta)); err != nil {
			return fmt.Errorf("buffer %s: grow window %d by %d bytes: %w", b.name, w.id, delta, err)
		}
	}

	data, mapping, err := b.alloc(total)
	if err != nil {
		if b.acquirer != nil {
			b.acquirer.ReleaseMemory(int64(delta))
		}
		return fmt.Errorf("buffer %s: allocate %d bytes: %w", b.name, total, err)
	}

	// Windows are laid out in creation order; everything after w shifts by delta.
	offset := 0
	for _, win := range b.windows {
		span := win.spanBytes()
		copy(data[offset:offset+span], b.data[win.offset:win.offset+span])
		win.offset = offset
		if win == w {
			span = newBytes
		}
		offset += span
	}

	if b.mapping != nil {
		if err := b.mapping.Close(); err != nil {
			b.logger.Warn("unmap failed", "buffer", b.name, "error", err)
		}
	}
	b.data, b.mapping = data, mapping
	b.gen++
	return nil
}

func (b *Buffer) alloc(size int) ([]byte, *mmap.Mapping, error) {
	if size%WordSize != 0 {
		invariant.Failf("buffer.alloc", "size %d is not a multiple of the word size", size)
	}
	if !b.offHeap {
		return make([]byte, size), nil, nil
	}
	m, err := mmap.MapAnon(size)
	if err != nil {
		return nil, nil, err
	}
	_ = m.Advise(mmap.AccessRandom)
	return m.Bytes(), m, nil
}

// expandedCapacity returns capacity grown by delta*(1+factor) rows.
func expandedCapacity(capacity, delta int, factor float64) int {
	extra := int(math.Ceil(float64(delta) * (1 + factor)))
	return capacity + max(extra, delta)
}
