// Package table manages row lifetime on top of a buffer window.
//
// A Table hands out row slots below a high-water mark. Each slot is Live,
// Free (zeroed and on the free-list) or Protected (Live and pinned by one or
// more Protectors). GetFreeRow recycles the most recently cleared slot before
// growing; PushBack always appends. Growth is automatic and amortized by the
// buffer's expansion factor.
//
// MappedTable adds an open hashing index over a key field. Lookup returns
// either the matching slot or the insertion point, so an insert after a miss
// does not hash twice. Chains that get long are rebuilt by a rehash policy
// driven by the observed skip/lookup ratio.
//
// Misuse (writing past the high-water mark, clearing a free or protected slot,
// stale lookup handles) is a programming error and panics with an
// *invariant.Violation.
package table
