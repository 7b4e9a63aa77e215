// Package mmap provides anonymous and file-backed memory mappings.
//
// Row buffers may live off the Go heap: MapAnon returns a zero-filled,
// read-write anonymous mapping that the garbage collector never scans.
// Open maps an existing file read-only, which the local blob store uses to
// read checkpoints without an intermediate copy.
//
//	m, err := mmap.MapAnon(1 << 20)
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes()
//
// Unix uses mmap(2)/madvise(2); Windows uses VirtualAlloc and
// CreateFileMapping, where Advise is a no-op.
//
// A Mapping is not resizable. Growing a buffer maps a larger region, copies
// and closes the old one, which invalidates every slice taken from it.
package mmap
