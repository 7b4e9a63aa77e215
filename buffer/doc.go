// Package buffer owns the contiguous byte storage behind row tables.
//
// A Buffer holds one growable allocation partitioned into non-overlapping
// Windows. Each Window belongs to exactly one table and stores rows of a
// fixed width back to back:
//
//	buf := buffer.New("walkers", buffer.WithExpansionFactor(0.5))
//	win := buf.NewWindow(48)  // 48-byte rows
//	if err := win.Resize(1024); err != nil { ... }
//	row := win.Row(7)         // valid until the next resize
//
// # Relocation
//
// Growing any window may move the whole allocation. Every resize bumps the
// buffer generation; row views record the generation they were taken at and
// refuse to be used after it changed. Never keep a slice from Bytes or Row
// across a call that can grow the buffer.
//
// # Memory
//
// The total allocation is always a multiple of WordSize. Growth is charged
// against an optional MemoryAcquirer (see package resource). WithOffHeap
// places the allocation in an anonymous memory mapping outside the Go heap.
package buffer
