package schema

import (
	"strings"

	"github.com/hupe1980/rowstore/internal/invariant"
)

// Composite groups already registered fields. It owns no bytes of its own;
// hash and compare run over the components in registration order.
type Composite struct {
	*base
	components []Field
}

// AddComposite registers a composite of fields, which must belong to b.
func AddComposite(b *Builder, name string, fields ...Field) Composite {
	invariant.Check(len(fields) > 0, "schema.AddComposite", "composite %q has no components", name)
	invariant.Check(!b.layout.built, "schema.AddComposite", "layout %q already built", b.layout.name)

	var (
		segs []segment
		idx  []int
		size int
	)
	for _, c := range fields {
		invariant.Check(c.Layout() == b.layout, "schema.AddComposite",
			"component %q does not belong to layout %q", c.Descriptor().Name, b.layout.name)
		d := c.Descriptor()
		idx = append(idx, d.Index)
		size += d.Size
		segs = append(segs, c.fieldBase().segs...)
	}

	f := Composite{
		base:       &base{layout: b.layout, index: len(b.layout.descs), segs: segs},
		components: append([]Field(nil), fields...),
	}
	offset := -1
	if len(segs) > 0 {
		offset = segs[0].offset
	}
	b.register(Descriptor{
		Name:       name,
		Offset:     offset,
		Size:       size,
		Kind:       KindComposite,
		Components: idx,
	}, f)
	return f
}

// Components returns the grouped fields.
func (f Composite) Components() []Field {
	return append([]Field(nil), f.components...)
}

func (f Composite) IsZero(v View) bool {
	for _, c := range f.components {
		if !c.IsZero(v) {
			return false
		}
	}
	return true
}

func (f Composite) String(v View) string {
	parts := make([]string, len(f.components))
	for i, c := range f.components {
		parts[i] = c.String(v)
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// Save saves every component as its own column.
func (f Composite) Save(w ColumnWriter, views []View) error {
	for _, c := range f.components {
		if err := c.Save(w, views); err != nil {
			return err
		}
	}
	return nil
}

// Load loads every component from its own column.
func (f Composite) Load(r ColumnReader, views []View) error {
	for _, c := range f.components {
		if err := c.Load(r, views); err != nil {
			return err
		}
	}
	return nil
}
