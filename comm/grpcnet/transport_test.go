package grpcnet

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rowstore/comm"
	"github.com/hupe1980/rowstore/internal/compress"
	"github.com/hupe1980/rowstore/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroup(t *testing.T, n int, opts ...Option) []*Transport {
	t.Helper()
	lis := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := range lis {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lis[i] = l
		addrs[i] = l.Addr().String()
	}
	group := make([]*Transport, n)
	for i := range group {
		group[i] = New(i, lis[i], addrs, opts...)
	}
	t.Cleanup(func() {
		for _, tr := range group {
			assert.NoError(t, tr.Close())
		}
	})
	return group
}

func TestWireCodec(t *testing.T) {
	payload := bytes.Repeat([]byte("row-bytes-"), 100)
	for _, alg := range []compress.Algorithm{compress.None, compress.LZ4, compress.Zstd} {
		c := wireCodec{alg: alg}
		data, err := c.Marshal(&envelope{Src: 3, Tag: 7, Payload: payload})
		require.NoError(t, err)

		var out envelope
		require.NoError(t, c.Unmarshal(data, &out))
		assert.Equal(t, int32(3), out.Src)
		assert.Equal(t, uint32(7), out.Tag)
		assert.Equal(t, payload, out.Payload)

		require.Error(t, c.Unmarshal(data[:4], &out))
		require.Error(t, c.Unmarshal(append(data, 0), &out))
	}

	_, err := wireCodec{}.Marshal("nope")
	require.ErrorIs(t, err, errWireType)
	require.NoError(t, wireCodec{}.Unmarshal(nil, &ack{}))
	assert.Equal(t, "rowstore-envelope", wireCodec{}.Name())
}

func TestTransport_SendRecv(t *testing.T) {
	g := newGroup(t, 2)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	require.NoError(t, g[0].Send(ctx, 1, comm.TagUser, []byte("over the wire")))
	require.NoError(t, g[0].Send(ctx, 0, comm.TagUser, []byte("to self")))

	msg, err := g[1].Recv(ctx, 0, comm.TagUser)
	require.NoError(t, err)
	assert.Equal(t, "over the wire", string(msg))

	msg, err = g[0].Recv(ctx, 0, comm.TagUser)
	require.NoError(t, err)
	assert.Equal(t, "to self", string(msg))
	assert.Equal(t, 2, g[0].Size())
	assert.Equal(t, 1, g[1].Rank())
}

func TestTransport_Exchange(t *testing.T) {
	for _, alg := range []compress.Algorithm{compress.None, compress.Zstd} {
		t.Run(alg.String(), func(t *testing.T) {
			const n = 3
			g := newGroup(t, n, WithCompression(alg))

			b := schema.NewBuilder("cell")
			id := schema.AddNumber[uint64](b, "id")
			temp := schema.AddNumber[float32](b, "temp", 4)
			layout := b.Build()

			ctx, cancel := context.WithTimeout(t.Context(), 20*time.Second)
			defer cancel()
			eg, ectx := errgroup.WithContext(ctx)
			for _, tr := range g {
				eg.Go(func() error {
					c, err := comm.New(tr, layout)
					if err != nil {
						return err
					}
					defer c.Close()

					me := tr.Rank()
					for d := 0; d < n; d++ {
						for k := 0; k < 50; k++ {
							out := c.Outbox(d)
							i, err := out.PushBack()
							if err != nil {
								return err
							}
							id.Set(out.View(i), uint64(me*10000+d*100+k))
							temp.SetAt(out.View(i), 3, float32(k))
						}
					}
					got, err := c.Communicate(ectx)
					if err != nil {
						return err
					}
					if got != n*50 {
						return fmt.Errorf("rank %d: received %d rows", me, got)
					}
					for s := 0; s < n; s++ {
						v := c.Inbox().View(s*50 + 49)
						if id.Get(v) != uint64(s*10000+me*100+49) || temp.At(v, 3) != 49 {
							return fmt.Errorf("rank %d: unexpected row from %d", me, s)
						}
					}

					sum, err := comm.AllReduceSum(ectx, tr, int64(got))
					if err != nil {
						return err
					}
					if sum != n*n*50 {
						return fmt.Errorf("rank %d: global sum %d", me, sum)
					}
					return comm.Barrier(ectx, tr)
				})
			}
			require.NoError(t, eg.Wait())
		})
	}
}

func TestTransport_Closed(t *testing.T) {
	g := newGroup(t, 2)
	require.NoError(t, g[1].Close())

	_, err := g[1].Recv(t.Context(), 0, comm.TagUser)
	require.ErrorIs(t, err, comm.ErrClosed)
	require.ErrorIs(t, g[1].Send(t.Context(), 0, comm.TagUser, nil), comm.ErrClosed)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()
	err = g[0].Send(ctx, 1, comm.TagUser, []byte("x"))
	require.Error(t, err)
	var terr *comm.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 1, terr.Peer)
}
