package rowstore

import (
	"github.com/hupe1980/rowstore/archive"
	"github.com/hupe1980/rowstore/blobstore"
	"github.com/hupe1980/rowstore/codec"
	"github.com/hupe1980/rowstore/resource"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	store            blobstore.Store
	catalog          archive.Catalog
	codec            codec.Codec
	resources        *resource.Controller
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger. Without it Open builds one from Config.Log.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
//
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithStore overrides the checkpoint store selected by Config.Checkpoint.
func WithStore(s blobstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithCatalog overrides the checkpoint version catalog.
func WithCatalog(c archive.Catalog) Option {
	return func(o *options) {
		o.catalog = c
	}
}

// WithCodec configures the codec used for checkpoint manifests.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithResourceController shares a resource controller between nodes in the
// same process. Config.Resource is ignored when set.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}
