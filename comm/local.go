package comm

import (
	"context"
	"sync"

	"github.com/hupe1980/rowstore/internal/invariant"
)

type mailboxKey struct {
	src int
	tag Tag
}

// Mailbox is an unbounded message queue keyed by sender and tag. Transports
// deliver incoming messages into the receiving rank's mailbox.
type Mailbox struct {
	mu     sync.Mutex
	queues map[mailboxKey][][]byte
	notify chan struct{}
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		queues: make(map[mailboxKey][][]byte),
		notify: make(chan struct{}),
	}
}

// wake releases every waiter. Caller holds mu.
func (m *Mailbox) wake() {
	close(m.notify)
	m.notify = make(chan struct{})
}

// Put queues msg from src under tag. The mailbox keeps msg.
func (m *Mailbox) Put(src int, tag Tag, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	k := mailboxKey{src: src, tag: tag}
	m.queues[k] = append(m.queues[k], msg)
	m.wake()
	return nil
}

// Take blocks until a message from src under tag is queued.
func (m *Mailbox) Take(ctx context.Context, src int, tag Tag) ([]byte, error) {
	k := mailboxKey{src: src, tag: tag}
	for {
		m.mu.Lock()
		if q := m.queues[k]; len(q) > 0 {
			msg := q[0]
			q[0] = nil
			if len(q) == 1 {
				delete(m.queues, k)
			} else {
				m.queues[k] = q[1:]
			}
			m.mu.Unlock()
			return msg, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		ch := m.notify
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

// Close fails pending and future Put and Take calls with ErrClosed.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.wake()
}

// Closed reports whether Close was called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Local is an in-process Transport. A group of Locals created by
// NewLocalGroup exchanges messages through shared mailboxes; each rank is
// typically driven by its own goroutine.
type Local struct {
	rank  int
	boxes []*Mailbox
}

// NewLocalGroup creates n connected in-process transports.
func NewLocalGroup(n int) []*Local {
	invariant.Check(n > 0, "comm.NewLocalGroup", "group size %d must be positive", n)
	boxes := make([]*Mailbox, n)
	for i := range boxes {
		boxes[i] = NewMailbox()
	}
	group := make([]*Local, n)
	for i := range group {
		group[i] = &Local{rank: i, boxes: boxes}
	}
	return group
}

func (l *Local) Rank() int { return l.rank }
func (l *Local) Size() int { return len(l.boxes) }

func (l *Local) Send(ctx context.Context, dst int, tag Tag, payload []byte) error {
	invariant.Index("comm.Local.Send", dst, len(l.boxes))
	if err := ctx.Err(); err != nil {
		return sendErr(dst, tag, err)
	}
	if l.boxes[l.rank].Closed() {
		return sendErr(dst, tag, ErrClosed)
	}
	msg := append([]byte(nil), payload...)
	if err := l.boxes[dst].Put(l.rank, tag, msg); err != nil {
		return sendErr(dst, tag, err)
	}
	return nil
}

func (l *Local) Recv(ctx context.Context, src int, tag Tag) ([]byte, error) {
	invariant.Index("comm.Local.Recv", src, len(l.boxes))
	msg, err := l.boxes[l.rank].Take(ctx, src, tag)
	if err != nil {
		return nil, recvErr(src, tag, err)
	}
	return msg, nil
}

// Close closes this rank's mailbox. Peers sending to it get ErrClosed.
func (l *Local) Close() error {
	l.boxes[l.rank].Close()
	return nil
}
