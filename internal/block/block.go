// Package block implements the Block object module from spec.md §2/§3: a
// single physical block's per-page valid/erased bitmaps split by I/O unit,
// the append-only next-write-page cursor per unit, erase count, and last
// access tick.
//
// Grounded on internal/storage/freelist.go's free-list bookkeeping for the
// block-pool shape and on superblock.go's fixed-size bitset fields for the
// per-page bitmap layout.
package block

import (
	"math/bits"

	"github.com/SimonWaldherr/ssdsim/internal/simerr"
)

// Block is one physical NAND block: PagesPerBlock pages, each split into
// IOUnits I/O units of bookkeeping granularity.
//
// Invariant I1: on any page, valid & erased == 0.
// Invariant I2: a write to page p with I/O-unit mask m requires p >=
// nextWrite[i] for every bit i set in m.
// Invariant I3: Erase resets all valid bits, sets all erased bits, resets
// every nextWrite cursor to 0, and increments EraseCount.
type Block struct {
	Index          uint32
	PagesPerBlock  uint32
	IOUnits        uint32
	EraseCount     uint64
	LastAccessed   uint64

	valid   []uint64 // one bitmask per page, bit i = I/O unit i holds live data
	erased  []uint64 // one bitmask per page, bit i = I/O unit i is still erased
	lpns    []uint64 // LPN stored at page p; meaningful only if valid[p] != 0
	nextW   []uint32 // next[i] = lowest unwritten page index for I/O unit i
}

// New builds a freshly erased block: every I/O unit of every page starts
// erased and unwritten.
func New(index uint32, pagesPerBlock, ioUnits uint32) *Block {
	b := &Block{
		Index:         index,
		PagesPerBlock: pagesPerBlock,
		IOUnits:       ioUnits,
		valid:         make([]uint64, pagesPerBlock),
		erased:        make([]uint64, pagesPerBlock),
		lpns:          make([]uint64, pagesPerBlock),
		nextW:         make([]uint32, ioUnits),
	}
	fullMask := ioUnitMask(ioUnits)
	for p := range b.erased {
		b.erased[p] = fullMask
	}
	return b
}

func ioUnitMask(n uint32) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// ValidMask returns the bitmask of I/O units holding live data at page p.
func (b *Block) ValidMask(page uint32) uint64 { return b.valid[page] }

// LPN returns the logical page number stored at page p. Only meaningful
// when ValidMask(p) is nonzero.
func (b *Block) LPN(page uint32) uint64 { return b.lpns[page] }

// HasValidData reports whether page p has any live I/O unit.
func (b *Block) HasValidData(page uint32) bool { return b.valid[page] != 0 }

// ValidPageCount returns the number of pages with at least one live I/O
// unit — the Greedy/Cost-Benefit victim-selection input.
func (b *Block) ValidPageCount() int {
	n := 0
	for _, v := range b.valid {
		if v != 0 {
			n++
		}
	}
	return n
}

// NextWriteIndex returns the append cursor for I/O unit i: the lowest page
// index not yet written through that unit.
func (b *Block) NextWriteIndex(unit uint32) uint32 { return b.nextW[unit] }

// AppendExhausted reports whether every I/O unit named in mask has used up
// every page in the block — the FTL's trigger to allocate a new block.
func (b *Block) AppendExhausted(mask uint64) bool {
	for i := uint32(0); i < b.IOUnits; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		if b.nextW[i] < b.PagesPerBlock {
			return false
		}
	}
	return true
}

// Write records lpn at page p across the I/O units set in mask, enforcing
// invariants I1/I2. Panics with a CorruptionError if the append-only
// ordering is violated or if any named unit is already valid at p (a
// double-write — spec.md §7 classifies both as Corrupted).
func (b *Block) Write(page uint32, mask uint64, lpn uint64) {
	for i := uint32(0); i < b.IOUnits; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		if page < b.nextW[i] {
			simerr.Corrupt("block.Write", "append-only ordering violated")
		}
		if b.valid[page]&(1<<i) != 0 {
			simerr.Corrupt("block.Write", "write to already-valid I/O unit")
		}
	}
	b.valid[page] |= mask
	b.erased[page] &^= mask
	b.lpns[page] = lpn
	for i := uint32(0); i < b.IOUnits; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		if page+1 > b.nextW[i] {
			b.nextW[i] = page + 1
		}
	}
}

// Invalidate drops every valid I/O unit of page p, preserving erased state
// (the page is not re-erased, only logically dropped from the mapping
// table — FTL's job on remap, trim, or GC copy-forward).
func (b *Block) Invalidate(page uint32) {
	b.valid[page] = 0
}

// Erase resets every page's valid/erased bitmap, resets every append
// cursor to 0, and increments EraseCount — invariant I3. Panics if any page
// still holds live data: GC must invalidate every valid page of a victim
// before erasing it.
func (b *Block) Erase() {
	fullMask := ioUnitMask(b.IOUnits)
	for p := range b.valid {
		if b.valid[p] != 0 {
			simerr.Corrupt("block.Erase", "erase target has a nonzero valid-page count")
		}
		b.valid[p] = 0
		b.erased[p] = fullMask
		b.lpns[p] = 0
	}
	for i := range b.nextW {
		b.nextW[i] = 0
	}
	b.EraseCount++
}

// PopCountValidUnits returns how many individual I/O units across the whole
// block currently hold live data.
func (b *Block) PopCountValidUnits() int {
	n := 0
	for _, v := range b.valid {
		n += bits.OnesCount64(v)
	}
	return n
}
