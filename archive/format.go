package archive

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rowstore/internal/compress"
	"github.com/hupe1980/rowstore/internal/hash"
	"github.com/hupe1980/rowstore/schema"
)

const (
	magic         = 0x53574f52 // "ROWS"
	formatVersion = 1
	headerSize    = 20
)

type column struct {
	spec  schema.ColumnSpec
	raw   []byte
	block []byte
	crc   uint32
}

// Writer collects columns and encodes them into a rows file. It implements
// schema.ColumnWriter.
type Writer struct {
	nrow    int
	alg     compress.Algorithm
	workers int
	cols    []column
	names   map[string]struct{}
}

// NewWriter starts a rows file for nrow rows.
func NewWriter(nrow int, alg compress.Algorithm) *Writer {
	return &Writer{
		nrow:    nrow,
		alg:     alg,
		workers: 1,
		names:   make(map[string]struct{}),
	}
}

// SetWorkers bounds how many columns are compressed concurrently.
func (w *Writer) SetWorkers(n int) {
	w.workers = max(n, 1)
}

// NumRows returns the row count of the file.
func (w *Writer) NumRows() int { return w.nrow }

// NumColumns returns the number of columns written so far.
func (w *Writer) NumColumns() int { return len(w.cols) }

// WriteColumn adds a column. data must hold NumRows items.
func (w *Writer) WriteColumn(spec schema.ColumnSpec, data []byte) error {
	if _, dup := w.names[spec.Name]; dup {
		return fmt.Errorf("archive: duplicate column %q", spec.Name)
	}
	if len(spec.Name) > 0xffff || len(spec.Shape) > 0xff {
		return fmt.Errorf("archive: column %q cannot be encoded", spec.Name)
	}
	if len(data) != w.nrow*spec.ItemSize {
		return fmt.Errorf("archive: column %q has %d bytes, want %d rows of %d bytes",
			spec.Name, len(data), w.nrow, spec.ItemSize)
	}
	w.names[spec.Name] = struct{}{}
	w.cols = append(w.cols, column{spec: spec, raw: data})
	return nil
}

// Encode compresses the columns and returns the rows file.
func (w *Writer) Encode(ctx context.Context) ([]byte, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.workers)
	for i := range w.cols {
		c := &w.cols[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			block, err := compress.Encode(w.alg, c.raw)
			if err != nil {
				return fmt.Errorf("archive: compress column %q: %w", c.spec.Name, err)
			}
			c.block = block
			c.crc = hash.CRC32C(block)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	size := headerSize
	for _, c := range w.cols {
		size += 2 + len(c.spec.Name) + 2 + 4*len(c.spec.Shape) + 4 + len(c.block) + 4
	}
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint32(out, magic)
	out = binary.LittleEndian.AppendUint32(out, formatVersion)
	out = binary.LittleEndian.AppendUint64(out, uint64(w.nrow))      //nolint:gosec // non-negative
	out = binary.LittleEndian.AppendUint32(out, uint32(len(w.cols))) //nolint:gosec // bounded by fields
	for _, c := range w.cols {
		out = binary.LittleEndian.AppendUint16(out, uint16(len(c.spec.Name))) //nolint:gosec // checked in WriteColumn
		out = append(out, c.spec.Name...)
		out = append(out, byte(c.spec.Elem), byte(len(c.spec.Shape)))
		for _, d := range c.spec.Shape {
			out = binary.LittleEndian.AppendUint32(out, uint32(d)) //nolint:gosec // shapes are small
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(c.spec.ItemSize)) //nolint:gosec // row sized
		out = append(out, c.block...)
		out = binary.LittleEndian.AppendUint32(out, c.crc)
	}
	return out, nil
}

// Reader serves the columns of a rows file. It implements
// schema.ColumnReader.
type Reader struct {
	nrow  int
	cols  map[string]column
	order []string
}

// Decode parses a rows file. Column blocks are verified and decompressed
// lazily by ReadColumn.
func Decode(data []byte) (*Reader, error) {
	p := parser{buf: data}
	if p.u32() != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if v := p.u32(); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, v)
	}
	nrow := p.u64()
	ncol := p.u32()
	if p.err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}

	r := &Reader{nrow: int(nrow), cols: make(map[string]column)} //nolint:gosec // validated by column sizes
	for range ncol {
		var c column
		c.spec.Name = string(p.bytes(int(p.u16())))
		c.spec.Elem = schema.Elem(p.u8())
		ndim := int(p.u8())
		if ndim > 0 {
			c.spec.Shape = make([]int, ndim)
			for i := range c.spec.Shape {
				c.spec.Shape[i] = int(p.u32())
			}
		}
		c.spec.ItemSize = int(p.u32())
		if p.err != nil {
			return nil, fmt.Errorf("%w: truncated column header", ErrCorrupt)
		}
		if p.pos+compress.HeaderSize > len(p.buf) {
			return nil, fmt.Errorf("%w: truncated column %q", ErrCorrupt, c.spec.Name)
		}
		stored := int(binary.LittleEndian.Uint32(p.buf[p.pos+5:]))
		c.block = p.bytes(compress.HeaderSize + stored)
		c.crc = p.u32()
		if p.err != nil {
			return nil, fmt.Errorf("%w: truncated column %q", ErrCorrupt, c.spec.Name)
		}
		if _, dup := r.cols[c.spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrCorrupt, c.spec.Name)
		}
		r.cols[c.spec.Name] = c
		r.order = append(r.order, c.spec.Name)
	}
	if p.pos != len(p.buf) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(p.buf)-p.pos)
	}
	return r, nil
}

// NumRows returns the row count of the file.
func (r *Reader) NumRows() int { return r.nrow }

// Columns returns the column specs in file order.
func (r *Reader) Columns() []schema.ColumnSpec {
	out := make([]schema.ColumnSpec, len(r.order))
	for i, name := range r.order {
		out[i] = r.cols[name].spec
	}
	return out
}

// ReadColumn returns the decompressed items of the column matching spec.
func (r *Reader) ReadColumn(spec schema.ColumnSpec) ([]byte, error) {
	c, ok := r.cols[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w: missing column %q", ErrSchemaMismatch, spec.Name)
	}
	if !c.spec.Matches(spec) {
		return nil, fmt.Errorf("%w: column %q stored as %s%v/%d, want %s%v/%d", ErrSchemaMismatch, spec.Name,
			c.spec.Elem, c.spec.Shape, c.spec.ItemSize, spec.Elem, spec.Shape, spec.ItemSize)
	}
	if hash.CRC32C(c.block) != c.crc {
		return nil, fmt.Errorf("%w: checksum mismatch in column %q", ErrCorrupt, spec.Name)
	}
	raw, _, err := compress.Decode(c.block)
	if err != nil {
		return nil, fmt.Errorf("%w: column %q: %w", ErrCorrupt, spec.Name, err)
	}
	if len(raw) != r.nrow*c.spec.ItemSize {
		return nil, fmt.Errorf("%w: column %q has %d bytes for %d rows", ErrCorrupt, spec.Name, len(raw), r.nrow)
	}
	return raw, nil
}

// parser reads little-endian values and remembers the first overrun.
type parser struct {
	buf []byte
	pos int
	err error
}

func (p *parser) bytes(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = ErrCorrupt
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *parser) u8() uint8 {
	if b := p.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (p *parser) u16() uint16 {
	if b := p.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (p *parser) u32() uint32 {
	if b := p.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (p *parser) u64() uint64 {
	if b := p.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}
