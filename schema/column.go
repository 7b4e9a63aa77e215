package schema

import (
	"fmt"
	"slices"
)

// ColumnSpec describes one persisted column: ItemSize bytes per row.
type ColumnSpec struct {
	Name     string
	Elem     Elem
	Shape    []int
	ItemSize int
}

// Matches reports whether two specs describe the same byte contract.
func (s ColumnSpec) Matches(o ColumnSpec) bool {
	return s.Name == o.Name && s.Elem == o.Elem && s.ItemSize == o.ItemSize && slices.Equal(s.Shape, o.Shape)
}

// ColumnWriter receives the packed items of one column.
type ColumnWriter interface {
	WriteColumn(spec ColumnSpec, data []byte) error
}

// ColumnReader returns the packed items of one column.
type ColumnReader interface {
	ReadColumn(spec ColumnSpec) ([]byte, error)
}

// ColumnError reports column data that does not fit the field it is loaded into.
type ColumnError struct {
	Column string
	Msg    string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("column %q: %s", e.Column, e.Msg)
}

func (f *base) columnSpec(shape []int) ColumnSpec {
	d := f.Descriptor()
	return ColumnSpec{Name: d.Name, Elem: d.Elem, Shape: shape, ItemSize: d.Size}
}

func saveColumn(f *base, shape []int, w ColumnWriter, views []View) error {
	spec := f.columnSpec(shape)
	s := f.segs[0]
	data := make([]byte, 0, len(views)*spec.ItemSize)
	for _, v := range views {
		row := f.row("schema.Field.Save", v)
		data = append(data, row[s.offset:s.offset+s.size]...)
	}
	if err := w.WriteColumn(spec, data); err != nil {
		return fmt.Errorf("save column %q: %w", spec.Name, err)
	}
	return nil
}

func loadColumn(f *base, shape []int, r ColumnReader, views []View, check func(item []byte) error) error {
	spec := f.columnSpec(shape)
	data, err := r.ReadColumn(spec)
	if err != nil {
		return fmt.Errorf("load column %q: %w", spec.Name, err)
	}
	if len(data) != len(views)*spec.ItemSize {
		return &ColumnError{
			Column: spec.Name,
			Msg:    fmt.Sprintf("got %d bytes, want %d rows of %d bytes", len(data), len(views), spec.ItemSize),
		}
	}
	if check != nil {
		for i := range views {
			if err := check(data[i*spec.ItemSize : (i+1)*spec.ItemSize]); err != nil {
				return err
			}
		}
	}

	s := f.segs[0]
	for i, v := range views {
		row := f.row("schema.Field.Load", v)
		copy(row[s.offset:s.offset+s.size], data[i*spec.ItemSize:(i+1)*spec.ItemSize])
	}
	return nil
}
