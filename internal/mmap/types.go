package mmap

import "errors"

// AccessPattern hints the kernel about how mapped memory will be accessed.
type AccessPattern int

const (
	// AccessDefault gives no specific advice.
	AccessDefault AccessPattern = iota
	// AccessSequential expects sequential access (checkpoint scans).
	AccessSequential
	// AccessRandom expects random access (hash-indexed rows).
	AccessRandom
	// AccessWillNeed expects access in the near future.
	AccessWillNeed
	// AccessDontNeed expects no access in the near future.
	AccessDontNeed
)

var (
	// ErrClosed is returned when a closed mapping is accessed.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for negative or zero anonymous sizes.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidOffset is returned for negative read offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
