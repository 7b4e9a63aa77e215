package table

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/rowstore/internal/invariant"
)

// Protector pins slots of one table against erasure. A slot stays protected
// while at least one protector holds it.
type Protector struct {
	table *Table
	id    int
	flags *bitset.BitSet
	count int
}

// NewProtector registers a protector with t. It must be closed when no longer
// needed.
func (t *Table) NewProtector() *Protector {
	p := &Protector{
		table: t,
		flags: bitset.New(uint(t.win.Capacity())), //nolint:gosec // capacity is non-negative
	}
	for i, slot := range t.protectors {
		if slot == nil {
			p.id = i
			t.protectors[i] = p
			return p
		}
	}
	p.id = len(t.protectors)
	t.protectors = append(t.protectors, p)
	return p
}

// NumProtectors returns the number of open protectors.
func (t *Table) NumProtectors() int {
	n := 0
	for _, p := range t.protectors {
		if p != nil {
			n++
		}
	}
	return n
}

func (p *Protector) grow(n int) {
	flags := bitset.New(uint(n)) //nolint:gosec // capacity is non-negative
	flags.InPlaceUnion(p.flags)
	p.flags = flags
}

func (p *Protector) open(op string) {
	invariant.Check(p.table != nil, op, "protector used after Close")
}

// Protect pins live slot i.
func (p *Protector) Protect(i int) {
	p.open("table.Protector.Protect")
	t := p.table
	invariant.Check(i >= 0 && i < t.hwm, "table.Protector.Protect",
		"%s: slot %d beyond high-water mark %d", t.name, i, t.hwm)
	invariant.Check(!t.freeSet.Contains(uint32(i)), "table.Protector.Protect", "%s: slot %d is free", t.name, i) //nolint:gosec // i < hwm
	invariant.Check(!p.flags.Test(uint(i)), "table.Protector.Protect", "%s: slot %d already protected by this protector", t.name, i)

	p.flags.Set(uint(i))
	t.protectCount[i]++
	p.count++
}

// Release unpins slot i.
func (p *Protector) Release(i int) {
	p.open("table.Protector.Release")
	t := p.table
	invariant.Index("table.Protector.Release", i, t.hwm)
	invariant.Check(p.flags.Test(uint(i)), "table.Protector.Release", "%s: slot %d is not protected by this protector", t.name, i)

	p.flags.Clear(uint(i))
	t.protectCount[i]--
	p.count--
}

// IsProtected reports whether this protector pins slot i.
func (p *Protector) IsProtected(i int) bool {
	return i >= 0 && p.flags.Test(uint(i))
}

// Count returns the number of slots this protector pins.
func (p *Protector) Count() int { return p.count }

// Close releases every slot and detaches the protector from its table.
func (p *Protector) Close() {
	if p.table == nil {
		return
	}
	t := p.table
	for i, ok := p.flags.NextSet(0); ok; i, ok = p.flags.NextSet(i + 1) {
		t.protectCount[i]--
	}
	t.protectors[p.id] = nil
	p.flags.ClearAll()
	p.count = 0
	p.table = nil
}
