// Package schema projects typed fields onto the bytes of fixed-width rows.
//
// A Layout is built once from a Builder and is immutable afterwards. Field
// handles (Number, Bitset, Composite) are registered on the builder and never
// own data; every access goes through a View, a short-lived borrow of one row
// that is checked against the generation of the storage it came from.
//
//	b := schema.NewBuilder("particle")
//	id := schema.AddNumber[uint64](b, "id")
//	pos := schema.AddNumber[float64](b, "pos", 3)
//	flags := schema.AddBitset(b, "flags", 12)
//	key := schema.AddComposite(b, "key", id)
//	layout := b.Build()
//
// # Alignment
//
// Each field follows its predecessor immediately unless its element type
// differs from the predecessor's, in which case it starts at the next word
// boundary. The row size is rounded up to a word multiple, so every field of
// every row in a word-aligned allocation is naturally aligned.
//
// # Generic operations
//
// Zero, IsZero, Hash, Compare, CopyField and the column Save/Load pair are
// implemented once over byte ranges and shared by every field kind. Hash is
// FNV-1a 64 over the raw field bytes; Compare is a bytewise three-way compare.
package schema
