package comm

import (
	"context"
	"errors"
	"fmt"
)

// Tag separates independent message streams between two ranks.
type Tag uint32

const (
	TagCounts Tag = iota + 1
	TagRows
	TagGather
	TagReduce
	TagBarrier
	TagTransferCount
	TagTransferRows

	// TagUser is the first tag free for application use.
	TagUser Tag = 1 << 16
)

func (t Tag) String() string {
	switch t {
	case TagCounts:
		return "counts"
	case TagRows:
		return "rows"
	case TagGather:
		return "gather"
	case TagReduce:
		return "reduce"
	case TagBarrier:
		return "barrier"
	case TagTransferCount:
		return "transfer-count"
	case TagTransferRows:
		return "transfer-rows"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

// Transport is a blocking point-to-point message layer between ranks.
type Transport interface {
	// Rank returns this process's rank in [0, Size()).
	Rank() int
	// Size returns the number of ranks.
	Size() int
	// Send queues payload for dst. The caller may reuse payload afterwards.
	Send(ctx context.Context, dst int, tag Tag, payload []byte) error
	// Recv blocks until a message from src with tag arrives.
	Recv(ctx context.Context, src int, tag Tag) ([]byte, error)
	// Close releases the transport. Pending and future calls fail with ErrClosed.
	Close() error
}

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("comm: transport closed")

	// ErrUnusable is returned by a communicator after a failed exchange.
	ErrUnusable = errors.New("comm: communicator unusable after failed exchange")
)

// TransportError describes a failed send or receive.
type TransportError struct {
	Op   string
	Peer int
	Tag  Tag
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("comm: %s peer %d tag %s: %v", e.Op, e.Peer, e.Tag, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func sendErr(dst int, tag Tag, err error) error {
	return &TransportError{Op: "send", Peer: dst, Tag: tag, Err: err}
}

func recvErr(src int, tag Tag, err error) error {
	return &TransportError{Op: "recv", Peer: src, Tag: tag, Err: err}
}
