package archive

import (
	"context"
	"io"
	"log/slog"

	"github.com/hupe1980/rowstore/codec"
	"github.com/hupe1980/rowstore/internal/compress"
)

// Resources bounds checkpoint IO and encoding parallelism.
// *resource.Controller implements it.
type Resources interface {
	AcquireIO(ctx context.Context, n int) error
	MaxWorkers() int
}

type options struct {
	logger      *slog.Logger
	compression compress.Algorithm
	codec       codec.Codec
	catalog     Catalog
	resources   Resources
	rank        int
	ranks       int
	keep        int
}

// Option configures an Archive.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompression sets the column compression. Default: Zstd.
func WithCompression(alg compress.Algorithm) Option {
	return func(o *options) {
		o.compression = alg
	}
}

// WithCodec sets the manifest codec. Default: codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCatalog commits versions through c instead of a CURRENT blob.
func WithCatalog(c Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithResources throttles writes and bounds column encoding workers.
func WithResources(r Resources) Option {
	return func(o *options) {
		o.resources = r
	}
}

// WithRank records the writing rank and group size in manifests.
func WithRank(rank, ranks int) Option {
	return func(o *options) {
		o.rank, o.ranks = rank, ranks
	}
}

// WithRetention keeps only the newest n checkpoints after each Save.
// Zero keeps all of them.
func WithRetention(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.keep = n
		}
	}
}

func defaultOptions() options {
	return options{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		compression: compress.Zstd,
		codec:       codec.Default,
		ranks:       1,
	}
}
