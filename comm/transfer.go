package comm

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/rowstore/internal/invariant"
	"github.com/hupe1980/rowstore/rank"
	"github.com/hupe1980/rowstore/schema"
	"github.com/hupe1980/rowstore/table"
)

// indexer is implemented by tables that index received rows, such as
// *table.MappedTable.
type indexer interface {
	Index(i int)
}

// SendRows sends rows of t to dst and clears them locally once the send
// completed. The rows must be live and unprotected.
func (c *Communicator) SendRows(ctx context.Context, t table.Store, rows []int, dst int) error {
	if err := c.usable(); err != nil {
		return err
	}
	invariant.Check(dst != c.Rank(), "comm.Communicator.SendRows", "rank %d sending rows to itself", dst)
	invariant.Index("comm.Communicator.SendRows", dst, c.Size())

	start := time.Now()
	rowSize := t.RowSize()
	payload := make([]byte, 0, len(rows)*rowSize)
	for _, i := range rows {
		invariant.Check(t.State(i) == table.SlotLive, "comm.Communicator.SendRows",
			"%s: slot %d is %s", t.Name(), i, t.State(i))
		payload = append(payload, t.Rows(i, 1)...)
	}

	err := c.sendRows(ctx, dst, len(rows), payload)
	c.metrics.OnTransfer(dst, len(rows), int64(len(payload)), true, time.Since(start), err)
	if err != nil {
		return c.fail(err)
	}

	for _, i := range rows {
		t.Clear(i)
	}
	c.logger.Debug("rows sent", "table", t.Name(), "dst", dst, "rows", len(rows), "bytes", len(payload))
	return nil
}

func (c *Communicator) sendRows(ctx context.Context, dst, n int, payload []byte) error {
	if err := c.tr.Send(ctx, dst, TagTransferCount, encodeInt64(int64(n))); err != nil {
		return fmt.Errorf("send row count: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.AcquireIO(ctx, len(payload)); err != nil {
			return fmt.Errorf("send rows: %w", err)
		}
	}
	if err := c.tr.Send(ctx, dst, TagTransferRows, payload); err != nil {
		return fmt.Errorf("send rows: %w", err)
	}
	return nil
}

// RecvRows receives rows sent by SendRows from src into free slots of t and
// calls onRow, which may be nil, with the local index of every new row.
// Tables that implement Index(i) have the rows indexed first. It returns the
// number of rows received.
func (c *Communicator) RecvRows(ctx context.Context, t table.Store, src int, onRow func(local int)) (int, error) {
	if err := c.usable(); err != nil {
		return 0, err
	}
	invariant.Check(src != c.Rank(), "comm.Communicator.RecvRows", "rank %d receiving rows from itself", src)
	invariant.Index("comm.Communicator.RecvRows", src, c.Size())

	start := time.Now()
	n, payload, err := c.recvRows(ctx, src)
	c.metrics.OnTransfer(src, n, int64(len(payload)), false, time.Since(start), err)
	if err != nil {
		return 0, c.fail(err)
	}

	rowSize := t.RowSize()
	invariant.Check(len(payload) == n*rowSize, "comm.Communicator.RecvRows",
		"rank %d sent %d bytes for %d rows of %d bytes", src, len(payload), n, rowSize)

	free := t.Len() - t.NumLive()
	if grow := n - free; grow > 0 {
		if err := t.Reserve(t.Len() + grow); err != nil {
			return 0, err
		}
	}

	idx, _ := t.(indexer)
	for k := 0; k < n; k++ {
		i, err := t.GetFreeRow()
		if err != nil {
			return k, err
		}
		copy(t.Rows(i, 1), payload[k*rowSize:(k+1)*rowSize])
		if idx != nil {
			idx.Index(i)
		}
		if onRow != nil {
			onRow(i)
		}
	}
	c.logger.Debug("rows received", "table", t.Name(), "src", src, "rows", n, "bytes", len(payload))
	return n, nil
}

func (c *Communicator) recvRows(ctx context.Context, src int) (int, []byte, error) {
	msg, err := c.tr.Recv(ctx, src, TagTransferCount)
	if err != nil {
		return 0, nil, fmt.Errorf("receive row count: %w", err)
	}
	n, err := decodeInt64(msg, src)
	if err != nil {
		return 0, nil, err
	}
	invariant.Check(n >= 0, "comm.Communicator.RecvRows", "rank %d announced %d rows", src, n)

	payload, err := c.tr.Recv(ctx, src, TagTransferRows)
	if err != nil {
		return 0, nil, fmt.Errorf("receive rows: %w", err)
	}
	return int(n), payload, nil
}

// Relocate moves rows of t from rank src to rank dst. Every rank calls it
// with the same src and dst; rows is only read on src. Dependents are
// notified on every rank. It returns the number of rows received locally.
func (c *Communicator) Relocate(ctx context.Context, t table.Store, rows []int, src, dst int, deps ...rank.Dependent) (int, error) {
	invariant.Check(src != dst, "comm.Communicator.Relocate", "source and destination are both rank %d", src)
	me := c.Rank()
	if me != src {
		rows = nil
	}

	for _, d := range deps {
		d.BeforeBlockTransfer(rows, src, dst)
	}

	received := 0
	switch me {
	case src:
		if err := c.SendRows(ctx, t, rows, dst); err != nil {
			return 0, err
		}
	case dst:
		n, err := c.RecvRows(ctx, t, src, func(local int) {
			for _, d := range deps {
				d.OnRowRecv(local)
			}
		})
		if err != nil {
			return n, err
		}
		received = n
	}

	for _, d := range deps {
		d.AfterBlockTransfer()
	}
	return received, nil
}

// MoveBlock reassigns block to dst in alloc and relocates every local row
// whose key falls into it. Every rank calls it with the same arguments.
func (c *Communicator) MoveBlock(ctx context.Context, t table.Store, key schema.Field, alloc *rank.BlockAllocator, block, dst int, deps ...rank.Dependent) (int, error) {
	src := alloc.Owner(block)
	if src == dst {
		return 0, nil
	}

	var rows []int
	if c.Rank() == src {
		for i := range t.Live() {
			if alloc.Block(key.Bytes(t.View(i))) == block {
				rows = append(rows, i)
			}
		}
	}

	n, err := c.Relocate(ctx, t, rows, src, dst, deps...)
	if err != nil {
		return n, err
	}
	alloc.Move(block, dst)

	c.logger.Debug("block moved", "block", block, "src", src, "dst", dst, "rows", len(rows)+n)
	return n, nil
}
