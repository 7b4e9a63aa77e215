package archive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/rowstore/blobstore"
	"github.com/hupe1980/rowstore/codec"
	"github.com/hupe1980/rowstore/schema"
	"github.com/hupe1980/rowstore/table"
)

// Entry selects a table and the fields persisted for it.
type Entry struct {
	Table table.Store
	// Fields lists the persisted fields. Nil persists every number and
	// bitset field of the layout. Composites are covered by their
	// components.
	Fields []schema.Field
}

func (e Entry) fields() []schema.Field {
	if e.Fields != nil {
		return e.Fields
	}
	var out []schema.Field
	for _, f := range e.Table.Layout().Fields() {
		if f.Descriptor().Kind != schema.KindComposite {
			out = append(out, f)
		}
	}
	return out
}

// indexer is implemented by tables that index loaded rows.
type indexer interface {
	Index(i int)
}

// Archive saves and loads checkpoints of tables.
type Archive struct {
	store   blobstore.Store
	catalog Catalog
	opts    options
	mu      sync.Mutex
}

// New creates an Archive on store.
func New(store blobstore.Store, opts ...Option) *Archive {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	a := &Archive{
		store:   store,
		catalog: o.catalog,
		opts:    o,
	}
	if a.catalog == nil {
		a.catalog = newBlobCatalog(store)
	}
	return a
}

func tablePath(id uint64, name string) string {
	return fmt.Sprintf("ckpt-%06d/%s.rows", id, name)
}

func (a *Archive) put(ctx context.Context, name string, data []byte) error {
	if a.opts.resources != nil {
		if err := a.opts.resources.AcquireIO(ctx, len(data)); err != nil {
			return err
		}
	}
	return a.store.Put(ctx, name, data)
}

func (a *Archive) workers() int {
	if a.opts.resources != nil {
		return a.opts.resources.MaxWorkers()
	}
	return 1
}

// Save writes the live rows of every entry as a new checkpoint version.
func (a *Archive) Save(ctx context.Context, entries ...Entry) (*Manifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()

	latest, _, err := a.catalog.Latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("archive: read latest version: %w", err)
	}
	m := &Manifest{
		Version:   ManifestVersion,
		ID:        latest + 1,
		Codec:     a.opts.codec.Name(),
		CreatedAt: time.Now().UTC(),
		Rank:      a.opts.rank,
		Ranks:     a.opts.ranks,
	}

	var bytes int64
	for _, e := range entries {
		if _, dup := m.Table(e.Table.Name()); dup {
			return nil, fmt.Errorf("archive: table %q saved twice", e.Table.Name())
		}
		info, err := a.saveTable(ctx, m.ID, e)
		if err != nil {
			return nil, err
		}
		m.Tables = append(m.Tables, info)
		bytes += info.Size
	}

	data, err := a.opts.codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("archive: encode manifest: %w", err)
	}
	name := manifestName(m.ID)
	if err := a.put(ctx, name, data); err != nil {
		return nil, fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := a.catalog.CommitVersion(ctx, m.ID, name); err != nil {
		return nil, fmt.Errorf("archive: commit version %d: %w", m.ID, err)
	}
	a.opts.logger.Debug("checkpoint saved", "version", m.ID, "tables", len(m.Tables),
		"bytes", bytes, "duration", time.Since(start))

	if a.opts.keep > 0 {
		if err := a.prune(ctx, m.ID); err != nil {
			a.opts.logger.Warn("checkpoint retention failed", "error", err)
		}
	}
	return m, nil
}

func (a *Archive) saveTable(ctx context.Context, id uint64, e Entry) (TableInfo, error) {
	t := e.Table
	views := make([]schema.View, 0, t.NumLive())
	for i := range t.Live() {
		views = append(views, t.View(i))
	}

	w := NewWriter(len(views), a.opts.compression)
	w.SetWorkers(a.workers())
	fields := e.fields()
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if err := f.Save(w, views); err != nil {
			return TableInfo{}, fmt.Errorf("archive: save table %q: %w", t.Name(), err)
		}
		cols = append(cols, f.Descriptor().Name)
	}
	data, err := w.Encode(ctx)
	if err != nil {
		return TableInfo{}, fmt.Errorf("archive: encode table %q: %w", t.Name(), err)
	}

	path := tablePath(id, t.Name())
	if err := a.put(ctx, path, data); err != nil {
		return TableInfo{}, fmt.Errorf("archive: write table %q: %w", t.Name(), err)
	}
	l := t.Layout()
	return TableInfo{
		Name:        t.Name(),
		Layout:      l.Name(),
		Fingerprint: l.Fingerprint(),
		RowSize:     l.RowSize(),
		Rows:        len(views),
		Columns:     cols,
		Path:        path,
		Size:        int64(len(data)),
		Compression: a.opts.compression.String(),
	}, nil
}

// Manifest returns the manifest of version id, or of the latest version
// when id is zero.
func (a *Archive) Manifest(ctx context.Context, id uint64) (*Manifest, error) {
	name := manifestName(id)
	if id == 0 {
		var err error
		if _, name, err = a.catalog.Latest(ctx); err != nil {
			return nil, fmt.Errorf("archive: read latest version: %w", err)
		}
	}

	b, err := a.store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("archive: open manifest %s: %w", name, err)
	}
	defer b.Close()
	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("archive: read manifest %s: %w", name, err)
	}

	m := &Manifest{}
	if err := a.opts.codec.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %w", ErrCorrupt, name, err)
	}
	if m.Codec != a.opts.codec.Name() {
		if c, ok := codec.ByName(m.Codec); ok {
			m = &Manifest{}
			if err := c.Unmarshal(data, m); err != nil {
				return nil, fmt.Errorf("%w: manifest %s: %w", ErrCorrupt, name, err)
			}
		}
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: manifest %s has version %d", ErrCorrupt, name, m.Version)
	}
	return m, nil
}

// Load appends the rows of checkpoint id to the entries' tables, matching
// tables by name and columns by field. Id zero loads the latest version.
// Mapped tables index the loaded rows.
func (a *Archive) Load(ctx context.Context, id uint64, entries ...Entry) (*Manifest, error) {
	m, err := a.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		info, ok := m.Table(e.Table.Name())
		if !ok {
			return nil, fmt.Errorf("%w: table %q is not in checkpoint %d", ErrSchemaMismatch, e.Table.Name(), m.ID)
		}
		if err := a.loadTable(ctx, info, e); err != nil {
			return nil, err
		}
	}
	a.opts.logger.Debug("checkpoint loaded", "version", m.ID, "tables", len(entries))
	return m, nil
}

func (a *Archive) loadTable(ctx context.Context, info TableInfo, e Entry) error {
	t := e.Table
	if info.Fingerprint != t.Layout().Fingerprint() {
		a.opts.logger.Debug("loading table across layouts", "table", t.Name(),
			"stored", info.Layout, "target", t.Layout().Name())
	}

	b, err := a.store.Open(ctx, info.Path)
	if err != nil {
		return fmt.Errorf("archive: open table %q: %w", t.Name(), err)
	}
	defer b.Close()
	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return fmt.Errorf("archive: read table %q: %w", t.Name(), err)
	}
	r, err := Decode(data)
	if err != nil {
		return fmt.Errorf("archive: table %q: %w", t.Name(), err)
	}
	if r.NumRows() != info.Rows {
		return fmt.Errorf("%w: table %q has %d rows, manifest says %d", ErrCorrupt, t.Name(), r.NumRows(), info.Rows)
	}

	n := r.NumRows()
	first, err := t.PushBackN(n)
	if err != nil {
		return fmt.Errorf("archive: grow table %q: %w", t.Name(), err)
	}
	views := make([]schema.View, n)
	for i := range views {
		views[i] = t.View(first + i)
	}
	for _, f := range e.fields() {
		if err := f.Load(r, views); err != nil {
			for i := first; i < first+n; i++ {
				t.Clear(i)
			}
			return fmt.Errorf("archive: load table %q: %w", t.Name(), err)
		}
	}
	if ix, ok := t.(indexer); ok {
		for i := first; i < first+n; i++ {
			ix.Index(i)
		}
	}
	return nil
}

// Versions returns the stored checkpoint versions in ascending order.
func (a *Archive) Versions(ctx context.Context) ([]uint64, error) {
	names, err := a.store.List(ctx, ManifestPrefix)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	for _, name := range names {
		if id, ok := parseManifestName(name); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Delete removes checkpoint id. The latest version cannot be deleted.
func (a *Archive) Delete(ctx context.Context, id uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	latest, _, err := a.catalog.Latest(ctx)
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	if id == latest {
		return fmt.Errorf("archive: version %d is the latest checkpoint", id)
	}
	return a.delete(ctx, id)
}

func (a *Archive) delete(ctx context.Context, id uint64) error {
	names, err := a.store.List(ctx, fmt.Sprintf("ckpt-%06d/", id))
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := a.store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return a.store.Delete(ctx, manifestName(id))
}

func (a *Archive) prune(ctx context.Context, latest uint64) error {
	ids, err := a.Versions(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		if id+uint64(a.opts.keep) <= latest {
			errs = append(errs, a.delete(ctx, id))
		}
	}
	return errors.Join(errs...)
}
