package comm

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rowstore/internal/invariant"
)

// exchange sends out[d] to every peer d and returns the message received from
// every peer s. The local slot is copied without touching the transport.
func exchange(ctx context.Context, tr Transport, tag Tag, out [][]byte) ([][]byte, error) {
	size, me := tr.Size(), tr.Rank()
	invariant.Check(len(out) == size, "comm.exchange", "got %d payloads for %d ranks", len(out), size)

	in := make([][]byte, size)
	in[me] = append([]byte(nil), out[me]...)
	if size == 1 {
		return in, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for peer := 0; peer < size; peer++ {
		if peer == me {
			continue
		}
		g.Go(func() error {
			return tr.Send(gctx, peer, tag, out[peer])
		})
		g.Go(func() error {
			msg, err := tr.Recv(gctx, peer, tag)
			if err != nil {
				return err
			}
			in[peer] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return in, nil
}

func encodeInt64(v int64) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v)) //nolint:gosec // two's complement round trip
}

func decodeInt64(b []byte, peer int) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("comm: peer %d sent %d bytes, want an 8-byte integer", peer, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil //nolint:gosec // two's complement round trip
}

// AllToAll sends send[d] to rank d and returns the value every rank sent here.
func AllToAll(ctx context.Context, tr Transport, send []int64) ([]int64, error) {
	out := make([][]byte, len(send))
	for d, v := range send {
		out[d] = encodeInt64(v)
	}
	in, err := exchange(ctx, tr, TagCounts, out)
	if err != nil {
		return nil, err
	}
	recv := make([]int64, len(in))
	for s, msg := range in {
		if recv[s], err = decodeInt64(msg, s); err != nil {
			return nil, err
		}
	}
	return recv, nil
}

// AllToAllV sends the variable-size payload send[d] to rank d and returns
// the payload every rank sent here.
func AllToAllV(ctx context.Context, tr Transport, send [][]byte) ([][]byte, error) {
	return exchange(ctx, tr, TagRows, send)
}

// AllGather returns data from every rank, indexed by rank.
func AllGather(ctx context.Context, tr Transport, data []byte) ([][]byte, error) {
	out := make([][]byte, tr.Size())
	for d := range out {
		out[d] = data
	}
	return exchange(ctx, tr, TagGather, out)
}

// AllReduceSum returns the sum of v over all ranks.
func AllReduceSum(ctx context.Context, tr Transport, v int64) (int64, error) {
	out := make([][]byte, tr.Size())
	enc := encodeInt64(v)
	for d := range out {
		out[d] = enc
	}
	in, err := exchange(ctx, tr, TagReduce, out)
	if err != nil {
		return 0, err
	}
	var sum int64
	for s, msg := range in {
		x, err := decodeInt64(msg, s)
		if err != nil {
			return 0, err
		}
		sum += x
	}
	return sum, nil
}

// Barrier returns once every rank has entered it.
func Barrier(ctx context.Context, tr Transport) error {
	_, err := exchange(ctx, tr, TagBarrier, make([][]byte, tr.Size()))
	return err
}
