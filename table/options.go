package table

import (
	"io"
	"log/slog"
)

const (
	// DefaultRemapRatio is the skip/lookup ratio above which a mapped table rehashes.
	DefaultRemapRatio = 2.0

	// DefaultRemapNLookup is the number of lookups needed before the ratio is trusted.
	DefaultRemapNLookup = 2

	// DefaultBuckets is the initial bucket count of a mapped table.
	DefaultBuckets = 64
)

type options struct {
	logger       *slog.Logger
	metrics      MetricsObserver
	capacity     int
	remapRatio   float64
	remapNLookup uint64
	buckets      int
}

func defaultOptions() options {
	return options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:      &NoopMetricsObserver{},
		remapRatio:   DefaultRemapRatio,
		remapNLookup: DefaultRemapNLookup,
		buckets:      DefaultBuckets,
	}
}

// Option configures a Table or MappedTable.
type Option func(*options)

// WithLogger sets the logger for resize and rehash events.
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

// WithCapacity preallocates n rows.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithRemapRatio sets the skip/lookup ratio that triggers a rehash.
func WithRemapRatio(r float64) Option {
	return func(o *options) {
		if r > 0 {
			o.remapRatio = r
		}
	}
}

// WithRemapNLookup sets the minimum lookups between rehash decisions.
func WithRemapNLookup(n uint64) Option {
	return func(o *options) {
		if n > 0 {
			o.remapNLookup = n
		}
	}
}

// WithBuckets sets the initial bucket count of a mapped table.
func WithBuckets(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buckets = n
		}
	}
}
