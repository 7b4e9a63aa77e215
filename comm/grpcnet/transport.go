// Package grpcnet is a multi-process comm.Transport over gRPC.
//
// Every rank runs a gRPC server with a single unary Deliver method and keeps
// one client connection per peer. Deliver enqueues the message in the
// receiving rank's comm.Mailbox, so Send returns once the peer has the
// message and Recv never touches the network. Messages are framed by a
// custom codec and optionally compressed with LZ4 or Zstd.
package grpcnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/hupe1980/rowstore/comm"
	"github.com/hupe1980/rowstore/internal/compress"
	"github.com/hupe1980/rowstore/internal/invariant"
)

const (
	serviceName   = "rowstore.comm.Mailbox"
	deliverMethod = "/" + serviceName + "/Deliver"

	// DefaultMaxMessageSize bounds a single exchange payload.
	DefaultMaxMessageSize = 256 << 20
)

// mailboxServer is the handler type of the Mailbox service.
type mailboxServer interface {
	deliver(ctx context.Context, in *envelope) (*ack, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(mailboxServer).deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(mailboxServer).deliver(ctx, req.(*envelope))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*mailboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rowstore/comm/grpcnet",
}

// IOLimiter throttles payload bytes. *resource.Controller implements it.
type IOLimiter interface {
	AcquireIO(ctx context.Context, n int) error
}

type options struct {
	logger      *slog.Logger
	compression compress.Algorithm
	maxMsgSize  int
	limiter     IOLimiter
	serverOpts  []grpc.ServerOption
	dialOpts    []grpc.DialOption
}

// Option configures a Transport.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompression compresses payloads with alg.
func WithCompression(alg compress.Algorithm) Option {
	return func(o *options) {
		o.compression = alg
	}
}

// WithMaxMessageSize sets the largest message a rank sends or accepts.
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMsgSize = n
		}
	}
}

// WithIOLimiter throttles outgoing payload bytes.
func WithIOLimiter(l IOLimiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithServerOptions appends gRPC server options, e.g. TLS credentials.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(o *options) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// WithDialOptions appends gRPC dial options. They replace the default
// insecure transport credentials when they set their own.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOpts = append(o.dialOpts, opts...)
	}
}

// Transport is a comm.Transport over gRPC.
type Transport struct {
	rank  int
	addrs []string
	box   *comm.Mailbox

	server *grpc.Server
	lis    net.Listener
	served chan error

	mu    sync.Mutex
	conns []*grpc.ClientConn

	opts   options
	codec  wireCodec
	logger *slog.Logger
	closed sync.Once
}

var _ comm.Transport = (*Transport)(nil)

// Listen binds addrs[rank] and starts serving.
func Listen(rank int, addrs []string, opts ...Option) (*Transport, error) {
	invariant.Index("grpcnet.Listen", rank, len(addrs))
	lis, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("grpcnet: listen on %s: %w", addrs[rank], err)
	}
	return New(rank, lis, addrs, opts...), nil
}

// New serves rank on lis. addrs lists the dial address of every rank.
func New(rank int, lis net.Listener, addrs []string, opts ...Option) *Transport {
	invariant.Index("grpcnet.New", rank, len(addrs))
	o := options{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxMsgSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Transport{
		rank:   rank,
		addrs:  append([]string(nil), addrs...),
		box:    comm.NewMailbox(),
		lis:    lis,
		served: make(chan error, 1),
		conns:  make([]*grpc.ClientConn, len(addrs)),
		opts:   o,
		codec:  wireCodec{alg: o.compression},
		logger: o.logger.With("rank", rank),
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.ForceServerCodec(t.codec),
		grpc.MaxRecvMsgSize(o.maxMsgSize),
		grpc.MaxSendMsgSize(o.maxMsgSize),
	}, o.serverOpts...)
	t.server = grpc.NewServer(serverOpts...)
	t.server.RegisterService(&serviceDesc, t)

	go func() {
		t.served <- t.server.Serve(lis)
	}()
	t.logger.Debug("transport listening", "addr", lis.Addr().String(), "ranks", len(addrs))
	return t
}

// Addr returns the local listen address.
func (t *Transport) Addr() net.Addr { return t.lis.Addr() }

func (t *Transport) Rank() int { return t.rank }
func (t *Transport) Size() int { return len(t.addrs) }

func (t *Transport) deliver(_ context.Context, in *envelope) (*ack, error) {
	src := int(in.Src)
	if src < 0 || src >= len(t.addrs) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown source rank %d", src)
	}
	if err := t.box.Put(src, comm.Tag(in.Tag), in.Payload); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &ack{}, nil
}

func (t *Transport) conn(dst int) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.conns[dst]; c != nil {
		return c, nil
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(t.codec),
			grpc.MaxCallRecvMsgSize(t.opts.maxMsgSize),
			grpc.MaxCallSendMsgSize(t.opts.maxMsgSize),
		),
	}, t.opts.dialOpts...)
	c, err := grpc.NewClient(t.addrs[dst], dialOpts...)
	if err != nil {
		return nil, err
	}
	t.conns[dst] = c
	return c, nil
}

// Send delivers payload to dst. It waits for dst's server to come up.
func (t *Transport) Send(ctx context.Context, dst int, tag comm.Tag, payload []byte) error {
	invariant.Index("grpcnet.Transport.Send", dst, len(t.addrs))
	if t.box.Closed() {
		return &comm.TransportError{Op: "send", Peer: dst, Tag: tag, Err: comm.ErrClosed}
	}
	if dst == t.rank {
		msg := append([]byte(nil), payload...)
		if err := t.box.Put(dst, tag, msg); err != nil {
			return &comm.TransportError{Op: "send", Peer: dst, Tag: tag, Err: err}
		}
		return nil
	}

	if t.opts.limiter != nil {
		if err := t.opts.limiter.AcquireIO(ctx, len(payload)); err != nil {
			return &comm.TransportError{Op: "send", Peer: dst, Tag: tag, Err: err}
		}
	}
	c, err := t.conn(dst)
	if err != nil {
		return &comm.TransportError{Op: "send", Peer: dst, Tag: tag, Err: err}
	}
	in := &envelope{Src: int32(t.rank), Tag: uint32(tag), Payload: payload} //nolint:gosec // rank fits
	if err := c.Invoke(ctx, deliverMethod, in, &ack{}, grpc.WaitForReady(true)); err != nil {
		if s, ok := status.FromError(err); ok && s.Code() == codes.Unavailable && s.Message() == comm.ErrClosed.Error() {
			err = comm.ErrClosed
		}
		return &comm.TransportError{Op: "send", Peer: dst, Tag: tag, Err: err}
	}
	return nil
}

func (t *Transport) Recv(ctx context.Context, src int, tag comm.Tag) ([]byte, error) {
	invariant.Index("grpcnet.Transport.Recv", src, len(t.addrs))
	msg, err := t.box.Take(ctx, src, tag)
	if err != nil {
		return nil, &comm.TransportError{Op: "recv", Peer: src, Tag: tag, Err: err}
	}
	return msg, nil
}

// Close stops the server and closes peer connections.
func (t *Transport) Close() error {
	var errs []error
	t.closed.Do(func() {
		t.box.Close()
		t.server.Stop()
		if err := <-t.served; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs = append(errs, err)
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		for _, c := range t.conns {
			if c != nil {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		t.logger.Debug("transport closed")
	})
	return errors.Join(errs...)
}
