package comm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/schema"
	"github.com/hupe1980/rowstore/table"
)

// Communicator owns the mailboxes of one rank: an outbox table per
// destination and an inbox table, all windows of one buffer.
type Communicator struct {
	tr       Transport
	layout   *schema.Layout
	buf      *buffer.Buffer
	ownsBuf  bool
	outboxes []*table.Table
	inbox    *table.Table

	logger  *slog.Logger
	metrics MetricsObserver
	limiter IOLimiter
	err     error
}

// New creates the mailboxes for tr's rank. Rows exchanged through them use
// layout.
func New(tr Transport, layout *schema.Layout, opts ...Option) (*Communicator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Communicator{
		tr:      tr,
		layout:  layout,
		buf:     o.buf,
		logger:  o.logger.With("rank", tr.Rank()),
		metrics: o.metrics,
		limiter: o.limiter,
	}
	if c.buf == nil {
		c.buf = buffer.New(fmt.Sprintf("mailbox-%d", tr.Rank()), o.bufOpts...)
		c.ownsBuf = true
	}

	c.outboxes = make([]*table.Table, tr.Size())
	for d := range c.outboxes {
		t, err := table.New(c.buf, fmt.Sprintf("outbox-%d", d), layout, o.tableOpts...)
		if err != nil {
			return nil, err
		}
		c.outboxes[d] = t
	}
	inbox, err := table.New(c.buf, "inbox", layout, o.tableOpts...)
	if err != nil {
		return nil, err
	}
	c.inbox = inbox
	return c, nil
}

// Rank returns the local rank.
func (c *Communicator) Rank() int { return c.tr.Rank() }

// Size returns the number of ranks.
func (c *Communicator) Size() int { return c.tr.Size() }

// Transport returns the underlying transport.
func (c *Communicator) Transport() Transport { return c.tr }

// Layout returns the mailbox row layout.
func (c *Communicator) Layout() *schema.Layout { return c.layout }

// Outbox returns the table of rows to send to dst.
func (c *Communicator) Outbox(dst int) *table.Table {
	invariant.Index("comm.Communicator.Outbox", dst, len(c.outboxes))
	return c.outboxes[dst]
}

// Inbox returns the rows received by the last exchange.
func (c *Communicator) Inbox() *table.Table { return c.inbox }

// Post copies row i of src into the outbox of dst.
func (c *Communicator) Post(dst int, src table.Store, i int) error {
	invariant.Check(c.layout.Compatible(src.Layout()), "comm.Communicator.Post",
		"layout %q is not compatible with mailbox layout %q", src.Layout().Name(), c.layout.Name())
	out := c.Outbox(dst)
	j, err := out.PushBack()
	if err != nil {
		return err
	}
	copy(out.Row(j), src.Rows(i, 1))
	return nil
}

func (c *Communicator) usable() error {
	if c.err != nil {
		return fmt.Errorf("%w: %w", ErrUnusable, c.err)
	}
	return nil
}

// fail records a transport failure. The communicator cannot recover from
// a partially completed collective.
func (c *Communicator) fail(err error) error {
	c.err = err
	return err
}

// Communicate exchanges every outbox with its destination. On return the
// inbox holds exactly the rows received, grouped by sender rank, and every
// outbox is empty. It returns the number of rows received.
func (c *Communicator) Communicate(ctx context.Context) (int, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}
	start := time.Now()
	size, rowSize := c.Size(), c.layout.RowSize()

	send := make([]int64, size)
	sent := 0
	for d, out := range c.outboxes {
		send[d] = int64(out.NumLive())
		sent += out.NumLive()
	}

	recv, err := AllToAll(ctx, c.tr, send)
	if err != nil {
		return 0, c.fail(fmt.Errorf("exchange counts: %w", err))
	}

	displ := make([]int, size+1)
	for s, n := range recv {
		invariant.Check(n >= 0, "comm.Communicator.Communicate", "rank %d announced %d rows", s, n)
		displ[s+1] = displ[s] + int(n)
	}
	total := displ[size]

	// Grow the inbox before taking outbox slices: growth relocates the buffer.
	c.inbox.ClearAll()
	if _, err := c.inbox.PushBackN(total); err != nil {
		return 0, c.fail(fmt.Errorf("grow inbox: %w", err))
	}

	payload := make([][]byte, size)
	var bytes int64
	for d, out := range c.outboxes {
		payload[d] = liveRows(out)
		if d != c.Rank() {
			bytes += int64(len(payload[d]))
		}
	}
	if c.limiter != nil {
		if err := c.limiter.AcquireIO(ctx, int(bytes)); err != nil {
			return 0, c.fail(fmt.Errorf("exchange rows: %w", err))
		}
	}

	in, err := AllToAllV(ctx, c.tr, payload)
	if err != nil {
		err = c.fail(fmt.Errorf("exchange rows: %w", err))
		c.metrics.OnExchange(sent, 0, bytes, time.Since(start), err)
		return 0, err
	}

	for s, msg := range in {
		n := int(recv[s])
		invariant.Check(len(msg) == n*rowSize, "comm.Communicator.Communicate",
			"rank %d sent %d bytes for %d rows of %d bytes", s, len(msg), n, rowSize)
		copy(c.inbox.Rows(displ[s], n), msg)
	}
	for _, out := range c.outboxes {
		out.ClearAll()
	}

	c.logger.Debug("rows exchanged", "sent", sent, "received", total, "bytes", bytes, "duration", time.Since(start))
	c.metrics.OnExchange(sent, total, bytes, time.Since(start), nil)
	return total, nil
}

// liveRows returns the live rows of out, packed. Slots cleared after
// posting are skipped.
func liveRows(out *table.Table) []byte {
	if out.NumFree() == 0 {
		return out.Rows(0, out.Len())
	}
	rowSize := out.Layout().RowSize()
	packed := make([]byte, 0, out.NumLive()*rowSize)
	for i := range out.Live() {
		packed = append(packed, out.Row(i)...)
	}
	return packed
}

// Close releases the mailbox buffer when the communicator created it. The
// transport is left open.
func (c *Communicator) Close() error {
	if c.ownsBuf {
		return c.buf.Close()
	}
	return nil
}
