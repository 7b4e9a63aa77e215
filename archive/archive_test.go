package archive

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rowstore/blobstore"
	"github.com/hupe1980/rowstore/buffer"
	"github.com/hupe1980/rowstore/internal/compress"
	"github.com/hupe1980/rowstore/resource"
	"github.com/hupe1980/rowstore/schema"
	"github.com/hupe1980/rowstore/table"
)

type particle struct {
	layout *schema.Layout
	id     schema.Number[uint64]
	pos    schema.Number[float64]
	flags  schema.Bitset
	state  schema.Composite
}

func newParticle(extra bool) particle {
	b := schema.NewBuilder("particle")
	p := particle{
		id:    schema.AddNumber[uint64](b, "id"),
		pos:   schema.AddNumber[float64](b, "pos", 3),
		flags: schema.AddBitset(b, "flags", 70),
	}
	p.state = schema.AddComposite(b, "state", p.pos, p.flags)
	if extra {
		schema.AddNumber[int32](b, "charge")
	}
	p.layout = b.Build()
	return p
}

func keyOf(id uint64) []byte {
	return binary.NativeEndian.AppendUint64(nil, id)
}

func fill(t *testing.T, tbl table.Store, p particle, n int) {
	t.Helper()
	for k := range n {
		i, err := tbl.GetFreeRow()
		require.NoError(t, err)
		v := tbl.View(i)
		p.id.Set(v, uint64(100+k))
		p.pos.SetValues(v, float64(k), float64(k)/2, -float64(k))
		p.flags.Set(v, k%70)
		p.flags.Set(v, 69)
	}
}

func collect(tbl table.Store, p particle) map[uint64][3]float64 {
	out := make(map[uint64][3]float64)
	for i := range tbl.Live() {
		v := tbl.View(i)
		out[p.id.Get(v)] = [3]float64{p.pos.At(v, 0), p.pos.At(v, 1), p.pos.At(v, 2)}
	}
	return out
}

func newTable(t *testing.T, p particle, name string) *table.Table {
	t.Helper()
	tbl, err := table.New(buffer.New(name), name, p.layout)
	require.NoError(t, err)
	return tbl
}

func TestWriterReader(t *testing.T) {
	spec := schema.ColumnSpec{Name: "pos", Elem: schema.ElemFloat64, Shape: []int{3}, ItemSize: 24}
	data := make([]byte, 4*24)
	for i := range data {
		data[i] = byte(i % 7)
	}

	for _, alg := range []compress.Algorithm{compress.None, compress.LZ4, compress.Zstd} {
		t.Run(alg.String(), func(t *testing.T) {
			w := NewWriter(4, alg)
			w.SetWorkers(2)
			require.NoError(t, w.WriteColumn(spec, data))
			require.NoError(t, w.WriteColumn(schema.ColumnSpec{Name: "id", Elem: schema.ElemUint64, ItemSize: 8}, make([]byte, 32)))
			assert.Equal(t, 2, w.NumColumns())

			file, err := w.Encode(t.Context())
			require.NoError(t, err)

			r, err := Decode(file)
			require.NoError(t, err)
			assert.Equal(t, 4, r.NumRows())
			require.Len(t, r.Columns(), 2)
			assert.Equal(t, "pos", r.Columns()[0].Name)

			got, err := r.ReadColumn(spec)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			_, err = r.ReadColumn(schema.ColumnSpec{Name: "pos", Elem: schema.ElemFloat32, Shape: []int{6}, ItemSize: 24})
			require.ErrorIs(t, err, ErrSchemaMismatch)
			_, err = r.ReadColumn(schema.ColumnSpec{Name: "mass", Elem: schema.ElemFloat64, ItemSize: 8})
			require.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestWriter_Misuse(t *testing.T) {
	w := NewWriter(2, compress.None)
	spec := schema.ColumnSpec{Name: "id", Elem: schema.ElemUint64, ItemSize: 8}
	require.Error(t, w.WriteColumn(spec, make([]byte, 8)))
	require.NoError(t, w.WriteColumn(spec, make([]byte, 16)))
	require.Error(t, w.WriteColumn(spec, make([]byte, 16)))
}

func TestDecode_Corrupt(t *testing.T) {
	w := NewWriter(3, compress.None)
	spec := schema.ColumnSpec{Name: "id", Elem: schema.ElemUint64, ItemSize: 8}
	require.NoError(t, w.WriteColumn(spec, make([]byte, 24)))
	file, err := w.Encode(t.Context())
	require.NoError(t, err)

	_, err = Decode(file[:len(file)-1])
	require.ErrorIs(t, err, ErrCorrupt)
	_, err = Decode(append(append([]byte(nil), file...), 0))
	require.ErrorIs(t, err, ErrCorrupt)

	badMagic := append([]byte(nil), file...)
	badMagic[0] ^= 0xff
	_, err = Decode(badMagic)
	require.ErrorIs(t, err, ErrCorrupt)

	flipped := append([]byte(nil), file...)
	flipped[len(flipped)-5] ^= 0x01
	r, err := Decode(flipped)
	require.NoError(t, err)
	_, err = r.ReadColumn(spec)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestArchive_SaveLoad(t *testing.T) {
	p := newParticle(false)
	src := newTable(t, p, "particles")
	fill(t, src, p, 10)
	src.Clear(2)
	src.Clear(5)
	src.Clear(7)
	want := collect(src, p)
	require.Len(t, want, 7)

	store := blobstore.NewMemoryStore()
	a := New(store, WithRank(1, 4))
	m, err := a.Save(t.Context(), Entry{Table: src})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.ID)
	assert.Equal(t, 1, m.Rank)
	assert.Equal(t, 4, m.Ranks)
	info, ok := m.Table("particles")
	require.True(t, ok)
	assert.Equal(t, 7, info.Rows)
	assert.Equal(t, []string{"id", "pos", "flags"}, info.Columns)
	assert.Equal(t, p.layout.Fingerprint(), info.Fingerprint)
	assert.Equal(t, "zstd", info.Compression)

	dst := newTable(t, p, "particles")
	loaded, err := a.Load(t.Context(), 0, Entry{Table: dst})
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)
	assert.Equal(t, want, collect(dst, p))

	for i := range dst.Live() {
		v := dst.View(i)
		assert.True(t, p.flags.Get(v, 69))
		assert.Equal(t, 2-boolInt(int(p.id.Get(v)-100)%70 == 69), p.flags.Count(v))
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestArchive_MappedTableIsIndexed(t *testing.T) {
	p := newParticle(false)
	src, err := table.NewMapped(buffer.New("src"), "cells", p.layout, p.id)
	require.NoError(t, err)
	for id := range uint64(50) {
		_, err := src.InsertKey(keyOf(id * 3))
		require.NoError(t, err)
	}

	a := New(blobstore.NewMemoryStore(), WithCompression(compress.LZ4))
	_, err = a.Save(t.Context(), Entry{Table: src, Fields: []schema.Field{p.id}})
	require.NoError(t, err)

	dst, err := table.NewMapped(buffer.New("dst"), "cells", p.layout, p.id)
	require.NoError(t, err)
	_, err = a.Load(t.Context(), 1, Entry{Table: dst, Fields: []schema.Field{p.id}})
	require.NoError(t, err)
	assert.Equal(t, 50, dst.NumLive())
	for id := range uint64(50) {
		assert.True(t, dst.Lookup(keyOf(id*3)).Found())
		assert.False(t, dst.Lookup(keyOf(id*3+1)).Found())
	}
}

func TestArchive_SchemaMismatchRollsBack(t *testing.T) {
	p := newParticle(false)
	src := newTable(t, p, "particles")
	fill(t, src, p, 5)

	a := New(blobstore.NewMemoryStore())
	_, err := a.Save(t.Context(), Entry{Table: src})
	require.NoError(t, err)

	wider := newParticle(true)
	dst := newTable(t, wider, "particles")
	_, err = a.Load(t.Context(), 0, Entry{Table: dst})
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, 0, dst.NumLive())

	_, err = a.Load(t.Context(), 0, Entry{Table: newTable(t, p, "other")})
	require.ErrorIs(t, err, ErrSchemaMismatch)

	// The shared columns still load into the wider layout.
	_, err = a.Load(t.Context(), 0, Entry{Table: dst, Fields: []schema.Field{wider.id, wider.pos, wider.flags}})
	require.NoError(t, err)
	assert.Equal(t, collect(src, p), collect(dst, wider))
}

func TestArchive_VersionsAndRetention(t *testing.T) {
	p := newParticle(false)
	tbl := newTable(t, p, "particles")
	a := New(blobstore.NewMemoryStore(), WithRetention(2))

	for n := 1; n <= 4; n++ {
		fill(t, tbl, p, 1)
		m, err := a.Save(t.Context(), Entry{Table: tbl})
		require.NoError(t, err)
		assert.Equal(t, uint64(n), m.ID)
	}

	ids, err := a.Versions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, ids)

	_, err = a.Load(t.Context(), 1, Entry{Table: newTable(t, p, "particles")})
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	old := newTable(t, p, "particles")
	_, err = a.Load(t.Context(), 3, Entry{Table: old})
	require.NoError(t, err)
	assert.Equal(t, 3, old.NumLive())

	require.Error(t, a.Delete(t.Context(), 4))
	require.NoError(t, a.Delete(t.Context(), 3))
	ids, err = a.Versions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, ids)

	m, err := a.Manifest(t.Context(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), m.ID)
	assert.Equal(t, "go-json", m.Codec)
}

func TestArchive_LocalStoreWithResources(t *testing.T) {
	p := newParticle(false)
	src := newTable(t, p, "particles")
	fill(t, src, p, 200)

	rc := resource.NewController(resource.Config{MaxWorkers: 4, IOLimitBytesPerSec: 64 << 20})
	store := blobstore.NewLocalStore(t.TempDir())
	a := New(store, WithResources(rc))
	_, err := a.Save(t.Context(), Entry{Table: src})
	require.NoError(t, err)
	assert.Positive(t, rc.IOBytes())

	names, err := store.List(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{CurrentFileName, "MANIFEST-000001.json", "ckpt-000001/particles.rows"}, names)

	dst := newTable(t, p, "particles")
	_, err = New(store).Load(t.Context(), 0, Entry{Table: dst})
	require.NoError(t, err)
	assert.Equal(t, collect(src, p), collect(dst, p))
}

type conflictCatalog struct{}

func (conflictCatalog) Latest(context.Context) (uint64, string, error) {
	return 0, "", blobstore.ErrNotFound
}

func (conflictCatalog) CommitVersion(context.Context, uint64, string) error {
	return ErrConcurrentModification
}

func TestArchive_CommitConflict(t *testing.T) {
	p := newParticle(false)
	a := New(blobstore.NewMemoryStore(), WithCatalog(conflictCatalog{}))
	_, err := a.Save(t.Context(), Entry{Table: newTable(t, p, "particles")})
	require.ErrorIs(t, err, ErrConcurrentModification)

	cat := newBlobCatalog(blobstore.NewMemoryStore())
	require.NoError(t, cat.CommitVersion(t.Context(), 1, manifestName(1)))
	require.ErrorIs(t, cat.CommitVersion(t.Context(), 1, manifestName(1)), ErrConcurrentModification)
	v, name, err := cat.Latest(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, "MANIFEST-000001.json", name)
}
