package rowstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/rowstore/archive"
	"github.com/hupe1980/rowstore/blobstore"
	"github.com/hupe1980/rowstore/blobstore/minio"
	"github.com/hupe1980/rowstore/blobstore/s3"
	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/codec"
	"github.com/hupe1980/rowstore/comm"
	"github.com/hupe1980/rowstore/comm/grpcnet"
	"github.com/hupe1980/rowstore/internal/compress"
	"github.com/hupe1980/rowstore/resource"
	"github.com/hupe1980/rowstore/schema"
	"github.com/hupe1980/rowstore/table"
)

// Node is one rank of a distributed row store. It owns a row buffer shared by
// its tables, the transport to the other ranks and the checkpoint archive.
//
// A Node is not safe for concurrent use, except for Close.
type Node struct {
	cfg       Config
	tr        comm.Transport
	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller
	buf       *buffer.Buffer
	store     blobstore.Store
	archive   *archive.Archive
	observer  *metricsObserver

	mu     sync.Mutex
	comms  []*comm.Communicator
	closed bool
}

// Open creates a Node for the rank of tr and takes ownership of tr. A nil
// transport runs a single rank in process.
func Open(ctx context.Context, cfg Config, tr comm.Transport, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		metricsCollector: NoopMetricsCollector{},
		codec:            codec.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if tr == nil {
		tr = comm.NewLocalGroup(1)[0]
	}
	if o.logger == nil {
		o.logger = cfg.NewConfiguredLogger()
	}
	if o.resources == nil {
		o.resources = resource.NewController(cfg.Resource)
	}

	alg, err := compress.ParseAlgorithm(cfg.Checkpoint.Compression)
	if err != nil {
		return nil, &ConfigError{Field: "checkpoint.compression", Msg: err.Error()}
	}

	n := &Node{
		cfg:       cfg,
		tr:        tr,
		logger:    o.logger.WithRank(tr.Rank()),
		metrics:   o.metricsCollector,
		resources: o.resources,
	}
	n.observer = &metricsObserver{metrics: n.metrics}
	n.buf = buffer.New(fmt.Sprintf("rank-%d", tr.Rank()), n.bufferOptions()...)

	store := o.store
	catalog := o.catalog
	if store == nil {
		store, catalog, err = openCheckpointStore(ctx, cfg.Checkpoint, tr.Rank(), tr.Size(), catalog)
		if err != nil {
			_ = n.buf.Close()
			return nil, err
		}
	}
	n.store = store

	archiveOpts := []archive.Option{
		archive.WithLogger(n.logger.Logger),
		archive.WithCompression(alg),
		archive.WithCodec(o.codec),
		archive.WithResources(n.resources),
		archive.WithRank(tr.Rank(), tr.Size()),
		archive.WithRetention(cfg.Checkpoint.Retention),
	}
	if catalog != nil {
		archiveOpts = append(archiveOpts, archive.WithCatalog(catalog))
	}
	n.archive = archive.New(store, archiveOpts...)

	n.logger.InfoContext(ctx, "node opened",
		"ranks", tr.Size(),
		"checkpoint_backend", cfg.Checkpoint.Backend,
	)
	return n, nil
}

// rankPrefix separates the checkpoints of the ranks of a group sharing one
// store.
func rankPrefix(rank, size int) string {
	if size <= 1 {
		return ""
	}
	return fmt.Sprintf("rank-%04d", rank)
}

func openCheckpointStore(ctx context.Context, cfg CheckpointConfig, rank, size int, catalog archive.Catalog) (blobstore.Store, archive.Catalog, error) {
	sub := rankPrefix(rank, size)
	switch cfg.Backend {
	case "local":
		return blobstore.NewLocalStore(filepath.Join(cfg.Dir, sub)), catalog, nil
	case "s3":
		prefix := path.Join(cfg.Prefix, sub)
		store, err := s3.NewStoreFromConfig(ctx, cfg.Bucket, prefix)
		if err != nil {
			return nil, nil, err
		}
		if catalog == nil && cfg.DynamoTable != "" {
			c, err := s3.NewCatalogFromConfig(ctx, cfg.DynamoTable, "s3://"+path.Join(cfg.Bucket, prefix))
			if err != nil {
				return nil, nil, err
			}
			catalog = c
		}
		return store, catalog, nil
	case "minio":
		mc := cfg.MinIO
		mc.Prefix = path.Join(mc.Prefix, sub)
		store, err := minio.Dial(ctx, mc)
		if err != nil {
			return nil, nil, err
		}
		return store, catalog, nil
	default:
		return blobstore.NewMemoryStore(), catalog, nil
	}
}

func (n *Node) bufferOptions() []buffer.Option {
	opts := []buffer.Option{
		buffer.WithExpansionFactor(n.cfg.Buffer.ExpansionFactor),
		buffer.WithMemoryAcquirer(n.resources),
		buffer.WithLogger(n.logger.Logger),
	}
	if n.cfg.Buffer.OffHeap {
		opts = append(opts, buffer.WithOffHeap())
	}
	return opts
}

func (n *Node) tableOptions(name string, opts []table.Option) []table.Option {
	base := []table.Option{
		table.WithLogger(n.logger.WithTable(name).Logger),
		table.WithMetricsObserver(n.observer),
		table.WithCapacity(n.cfg.Table.Capacity),
		table.WithBuckets(n.cfg.Table.Buckets),
		table.WithRemapRatio(n.cfg.Table.RemapRatio),
		table.WithRemapNLookup(n.cfg.Table.RemapNLookup),
	}
	return append(base, opts...)
}

// Rank returns the rank of this node.
func (n *Node) Rank() int { return n.tr.Rank() }

// Size returns the number of ranks.
func (n *Node) Size() int { return n.tr.Size() }

// Transport returns the transport to the other ranks.
func (n *Node) Transport() comm.Transport { return n.tr }

// Logger returns the node's logger.
func (n *Node) Logger() *Logger { return n.logger }

// Resources returns the resource controller.
func (n *Node) Resources() *resource.Controller { return n.resources }

// Buffer returns the row buffer shared by the node's tables.
func (n *Node) Buffer() *buffer.Buffer { return n.buf }

// Archive returns the checkpoint archive.
func (n *Node) Archive() *archive.Archive { return n.archive }

// Store returns the checkpoint store.
func (n *Node) Store() blobstore.Store { return n.store }

// NewTable creates a table in the node's buffer. opts are applied after the
// configured table defaults.
func (n *Node) NewTable(name string, layout *schema.Layout, opts ...table.Option) (*table.Table, error) {
	return table.New(n.buf, name, layout, n.tableOptions(name, opts)...)
}

// NewMappedTable creates a table indexed by key in the node's buffer.
func (n *Node) NewMappedTable(name string, layout *schema.Layout, key schema.Field, opts ...table.Option) (*table.MappedTable, error) {
	return table.NewMapped(n.buf, name, layout, key, n.tableOptions(name, opts)...)
}

// NewCommunicator creates mailboxes for rows of layout. Each communicator has
// its own buffer charged against the node's memory budget, and is closed with
// the node.
func (n *Node) NewCommunicator(layout *schema.Layout, opts ...comm.Option) (*comm.Communicator, error) {
	base := []comm.Option{
		comm.WithLogger(n.logger.Logger),
		comm.WithMetricsObserver(n.observer),
		comm.WithIOLimiter(n.resources),
		comm.WithBufferOptions(n.bufferOptions()...),
		comm.WithTableOptions(table.WithLogger(n.logger.Logger), table.WithMetricsObserver(n.observer)),
	}
	c, err := comm.New(n.tr, layout, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.comms = append(n.comms, c)
	n.mu.Unlock()
	return c, nil
}

// Checkpoint saves the live rows of every entry as a new version.
func (n *Node) Checkpoint(ctx context.Context, entries ...archive.Entry) (*archive.Manifest, error) {
	start := time.Now()
	m, err := n.archive.Save(ctx, entries...)
	var version uint64
	rows := 0
	if m != nil {
		version = m.ID
		rows = manifestRows(m)
	}
	n.metrics.RecordCheckpoint("save", rows, time.Since(start), err)
	n.logger.LogCheckpoint(ctx, "save", version, rows, err)
	return m, err
}

// Restore appends the rows of checkpoint version to the entries' tables.
// Version zero restores the latest checkpoint.
func (n *Node) Restore(ctx context.Context, version uint64, entries ...archive.Entry) (*archive.Manifest, error) {
	start := time.Now()
	m, err := n.archive.Load(ctx, version, entries...)
	rows := 0
	if m != nil {
		version = m.ID
		for _, e := range entries {
			if info, ok := m.Table(e.Table.Name()); ok {
				rows += info.Rows
			}
		}
	}
	n.metrics.RecordCheckpoint("restore", rows, time.Since(start), err)
	n.logger.LogCheckpoint(ctx, "restore", version, rows, err)
	return m, err
}

func manifestRows(m *archive.Manifest) int {
	rows := 0
	for _, t := range m.Tables {
		rows += t.Rows
	}
	return rows
}

// Close releases the communicators, the row buffer and the transport.
// Tables created by the node must not be used afterwards.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	for _, c := range n.comms {
		errs = append(errs, c.Close())
	}
	n.comms = nil
	errs = append(errs, n.buf.Close(), n.tr.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("rowstore: close: %w", err)
	}
	return nil
}

// DialTransport starts the gRPC transport for rank using cfg.Transport.
func DialTransport(cfg Config, rank int, logger *Logger) (*grpcnet.Transport, error) {
	if rank < 0 || rank >= len(cfg.Transport.Addrs) {
		return nil, &ConfigError{Field: "transport.addrs", Msg: fmt.Sprintf("no address for rank %d", rank)}
	}
	alg, err := compress.ParseAlgorithm(cfg.Transport.Compression)
	if err != nil {
		return nil, &ConfigError{Field: "transport.compression", Msg: err.Error()}
	}
	if logger == nil {
		logger = NoopLogger()
	}
	opts := []grpcnet.Option{
		grpcnet.WithCompression(alg),
		grpcnet.WithLogger(logger.Logger),
	}
	if cfg.Transport.MaxMessageSize > 0 {
		opts = append(opts, grpcnet.WithMaxMessageSize(cfg.Transport.MaxMessageSize))
	}
	return grpcnet.Listen(rank, cfg.Transport.Addrs, opts...)
}

// metricsObserver forwards table and communication events to the metrics
// collector.
type metricsObserver struct {
	metrics MetricsCollector
}

var (
	_ table.MetricsObserver = (*metricsObserver)(nil)
	_ comm.MetricsObserver  = (*metricsObserver)(nil)
)

func (o *metricsObserver) OnResize(name string, oldCap, newCap int) {
	o.metrics.RecordResize(name, oldCap, newCap)
}

func (o *metricsObserver) OnRehash(name string, oldBuckets, newBuckets int, skipRatio float64) {
	o.metrics.RecordRehash(name, oldBuckets, newBuckets, skipRatio)
}

func (o *metricsObserver) OnExchange(sentRows, recvRows int, bytes int64, d time.Duration, err error) {
	o.metrics.RecordExchange(sentRows, recvRows, bytes, d, err)
}

func (o *metricsObserver) OnTransfer(peer, rows int, bytes int64, sent bool, d time.Duration, err error) {
	o.metrics.RecordTransfer(peer, rows, bytes, sent, d, err)
}
