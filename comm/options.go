package comm

import (
	"context"
	"io"
	"log/slog"

	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/table"
)

// IOLimiter throttles payload bytes. *resource.Controller implements it.
type IOLimiter interface {
	AcquireIO(ctx context.Context, n int) error
}

type options struct {
	logger    *slog.Logger
	metrics   MetricsObserver
	buf       *buffer.Buffer
	bufOpts   []buffer.Option
	tableOpts []table.Option
	limiter   IOLimiter
}

// Option configures a Communicator.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithBuffer places the mailboxes in an existing buffer instead of a new one.
func WithBuffer(b *buffer.Buffer) Option {
	return func(o *options) {
		o.buf = b
	}
}

// WithBufferOptions configures the mailbox buffer when none is supplied.
func WithBufferOptions(opts ...buffer.Option) Option {
	return func(o *options) {
		o.bufOpts = append(o.bufOpts, opts...)
	}
}

// WithTableOptions configures the outbox and inbox tables.
func WithTableOptions(opts ...table.Option) Option {
	return func(o *options) {
		o.tableOpts = append(o.tableOpts, opts...)
	}
}

// WithIOLimiter throttles sent payload bytes.
func WithIOLimiter(l IOLimiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

func defaultOptions() options {
	return options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: &NoopMetricsObserver{},
	}
}
