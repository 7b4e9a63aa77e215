// Package rank maps row keys to the rank that owns them.
//
// An Allocator answers "which rank owns this key". Rebalancing moves whole
// blocks of keys between ranks; components that keep secondary indexes over
// local rows implement Dependent to stay consistent while rows move.
package rank

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/rowstore/internal/hash"
	"github.com/hupe1980/rowstore/internal/invariant"
)

// Allocator maps a key to its owning rank.
type Allocator interface {
	Rank(key []byte) int
}

// Dependent observes rows moving between ranks.
type Dependent interface {
	// BeforeBlockTransfer is called on every rank before rows leave src for dst.
	// rows holds the local indices being sent and is empty on other ranks.
	BeforeBlockTransfer(rows []int, src, dst int)
	// OnRowRecv is called on the receiving rank for each row that arrived.
	OnRowRecv(local int)
	// AfterBlockTransfer is called on every rank once the transfer completed.
	AfterBlockTransfer()
}

// HashAllocator shards keys by FNV-1a hash modulo the rank count.
type HashAllocator struct {
	nrank int
}

// NewHashAllocator returns an allocator over nrank ranks.
func NewHashAllocator(nrank int) *HashAllocator {
	invariant.Check(nrank > 0, "rank.NewHashAllocator", "rank count %d must be positive", nrank)
	return &HashAllocator{nrank: nrank}
}

func (a *HashAllocator) Rank(key []byte) int {
	return int(hash.FNV1a64(key) % uint64(a.nrank)) //nolint:gosec // nrank is positive
}

// BlockAllocator hashes keys into a fixed number of blocks and assigns each
// block to a rank. Blocks can be reassigned with Move.
type BlockAllocator struct {
	nrank  int
	owners []int
}

// NewBlockAllocator distributes nblock blocks round-robin over nrank ranks.
func NewBlockAllocator(nrank, nblock int) *BlockAllocator {
	invariant.Check(nrank > 0, "rank.NewBlockAllocator", "rank count %d must be positive", nrank)
	invariant.Check(nblock > 0, "rank.NewBlockAllocator", "block count %d must be positive", nblock)
	owners := make([]int, nblock)
	for b := range owners {
		owners[b] = b % nrank
	}
	return &BlockAllocator{nrank: nrank, owners: owners}
}

// NumRanks returns the rank count.
func (a *BlockAllocator) NumRanks() int { return a.nrank }

// NumBlocks returns the block count.
func (a *BlockAllocator) NumBlocks() int { return len(a.owners) }

// Block returns the block key hashes into.
func (a *BlockAllocator) Block(key []byte) int {
	return int(hash.FNV1a64(key) % uint64(len(a.owners))) //nolint:gosec // block count is positive
}

// Rank returns the owner of key's block.
func (a *BlockAllocator) Rank(key []byte) int {
	return a.owners[a.Block(key)]
}

// Owner returns the rank owning block b.
func (a *BlockAllocator) Owner(b int) int {
	invariant.Index("rank.BlockAllocator.Owner", b, len(a.owners))
	return a.owners[b]
}

// Move reassigns block b to rank dst. Every rank must apply the same moves.
func (a *BlockAllocator) Move(b, dst int) {
	invariant.Index("rank.BlockAllocator.Move", b, len(a.owners))
	invariant.Index("rank.BlockAllocator.Move", dst, a.nrank)
	a.owners[b] = dst
}

// Blocks returns the set of blocks owned by r.
func (a *BlockAllocator) Blocks(r int) *roaring.Bitmap {
	bm := roaring.New()
	for b, owner := range a.owners {
		if owner == r {
			bm.Add(uint32(b)) //nolint:gosec // block count fits in uint32
		}
	}
	return bm
}

// Assignment returns a copy of the block to rank table.
func (a *BlockAllocator) Assignment() []int {
	return append([]int(nil), a.owners...)
}

// SetAssignment replaces the block to rank table.
func (a *BlockAllocator) SetAssignment(owners []int) error {
	if len(owners) != len(a.owners) {
		return fmt.Errorf("rank: assignment has %d blocks, want %d", len(owners), len(a.owners))
	}
	for b, r := range owners {
		if r < 0 || r >= a.nrank {
			return fmt.Errorf("rank: block %d assigned to rank %d outside [0,%d)", b, r, a.nrank)
		}
	}
	copy(a.owners, owners)
	return nil
}

// Balance returns the number of blocks per rank.
func (a *BlockAllocator) Balance() []int {
	counts := make([]int, a.nrank)
	for _, r := range a.owners {
		counts[r]++
	}
	return counts
}

// NopDependent implements Dependent with no-ops.
type NopDependent struct{}

func (NopDependent) BeforeBlockTransfer([]int, int, int) {}
func (NopDependent) OnRowRecv(int)                       {}
func (NopDependent) AfterBlockTransfer()                 {}
