// Package geometry implements the "Geometry & latency tables" and "PAL
// address mapper" modules from spec.md §2/§4.1: a flat description of the
// channel/package/die/plane/block/page hierarchy, LBA/LPN/PPN conversions,
// and the bidirectional CPDPBP ↔ linear-die-index mapping governed by the
// PageAllocation permutation string and the SuperblockSize mask.
//
// Grounded on internal/storage/pager/page.go's and superblock.go's
// const-table-with-String() idiom (PageID/PageType there, Channel/Package/
// Die/Plane counts here).
package geometry

import (
	"fmt"

	"github.com/SimonWaldherr/ssdsim/internal/config"
	"github.com/SimonWaldherr/ssdsim/internal/simerr"
)

// PPN is the physical page address tuple: Channel, Package, Die, Plane,
// Block, Page — spec.md §3 "PPN — physical page number".
type PPN struct {
	Channel uint32
	Package uint32
	Die     uint32
	Plane   uint32
	Block   uint32
	Page    uint32
}

// Geometry is the flat geometry description: counts at every
// NAND hierarchy level plus the byte sizes and striping policy that govern
// LBA/LPN/PPN conversion.
type Geometry struct {
	Channel uint32
	Package uint32
	Die     uint32
	Plane   uint32
	Block   uint32
	Page    uint32

	PageSize   uint64
	LBASize    uint64
	IOUnitSize uint64

	// pageAllocOrder lists 'C','W','D','P' from fastest-varying to
	// slowest-varying, per the PageAllocation config key.
	pageAllocOrder [4]byte

	// superblockDims lists the subset of pageAllocOrder that stripes one
	// superpage, in striping order (fastest-varying masked dim first). If
	// MultiPlane is set, 'P' is forced to the front regardless of its
	// position in PageAllocation (spec.md §6: "force P into the superblock
	// and leftmost stripe").
	superblockDims []byte
	nonMaskedDims  []byte

	MultiPlane bool
}

// New builds a Geometry from a flat Config, applying every fatal-at-init
// check spec.md §7 assigns to ConfigInvalid.
func New(cfg *config.Config) (*Geometry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Geometry{}

	counts := map[string]*uint32{
		config.KeyChannel: &g.Channel,
		config.KeyPackage: &g.Package,
		config.KeyDie:     &g.Die,
		config.KeyPlane:   &g.Plane,
		config.KeyBlock:   &g.Block,
		config.KeyPage:    &g.Page,
	}
	for key, dst := range counts {
		n, err := cfg.GetUint(key)
		if err != nil {
			return nil, err
		}
		*dst = uint32(n)
	}

	pageSize, err := cfg.GetUint(config.KeyPageSize)
	if err != nil {
		return nil, err
	}
	g.PageSize = pageSize

	lbaSize, err := cfg.GetUint(config.KeyLBASize)
	if err != nil {
		return nil, err
	}
	g.LBASize = lbaSize

	ioUnitSize := cfg.GetString(config.KeyIOUnitSize, "")
	if ioUnitSize == "" {
		g.IOUnitSize = pageSize
	} else {
		n, err := cfg.GetUint(config.KeyIOUnitSize)
		if err != nil {
			return nil, err
		}
		g.IOUnitSize = n
	}
	if g.PageSize%g.IOUnitSize != 0 {
		return nil, fmt.Errorf("%w: PageSize %d not a multiple of IOUnitSize %d", simerr.ErrConfigInvalid, g.PageSize, g.IOUnitSize)
	}

	allocStr := cfg.GetString(config.KeyPageAllocation, "CWDP")
	if err := config.ValidatePageAllocation(allocStr); err != nil {
		return nil, err
	}
	copy(g.pageAllocOrder[:], allocStr)

	sbStr := cfg.GetString(config.KeySuperblockSize, "CWD")
	if err := config.ValidateSuperblockSize(sbStr); err != nil {
		return nil, err
	}

	multiPlane, err := cfg.GetBoolean(config.KeyEnableMultiPlaneOperation)
	if err != nil {
		return nil, err
	}
	g.MultiPlane = multiPlane

	mask := map[byte]bool{}
	for i := 0; i < len(sbStr); i++ {
		mask[sbStr[i]] = true
	}
	if multiPlane {
		mask['P'] = true
	}

	if multiPlane {
		g.superblockDims = append(g.superblockDims, 'P')
	}
	for _, d := range g.pageAllocOrder {
		if !mask[d] {
			continue
		}
		if multiPlane && d == 'P' {
			continue // already placed at the front above
		}
		g.superblockDims = append(g.superblockDims, d)
	}
	for _, d := range g.pageAllocOrder {
		if !mask[d] {
			g.nonMaskedDims = append(g.nonMaskedDims, d)
		}
	}

	return g, nil
}

func (g *Geometry) dimCount(letter byte) uint64 {
	switch letter {
	case 'C':
		return uint64(g.Channel)
	case 'W':
		return uint64(g.Package)
	case 'D':
		return uint64(g.Die)
	case 'P':
		return uint64(g.Plane)
	default:
		simerr.Corrupt("geometry.dimCount", fmt.Sprintf("unknown dimension %q", letter))
		return 0
	}
}

func (g *Geometry) dimValue(addr PPN, letter byte) uint64 {
	switch letter {
	case 'C':
		return uint64(addr.Channel)
	case 'W':
		return uint64(addr.Package)
	case 'D':
		return uint64(addr.Die)
	case 'P':
		return uint64(addr.Plane)
	default:
		simerr.Corrupt("geometry.dimValue", fmt.Sprintf("unknown dimension %q", letter))
		return 0
	}
}

func (g *Geometry) setDim(addr *PPN, letter byte, v uint32) {
	switch letter {
	case 'C':
		addr.Channel = v
	case 'W':
		addr.Package = v
	case 'D':
		addr.Die = v
	case 'P':
		addr.Plane = v
	default:
		simerr.Corrupt("geometry.setDim", fmt.Sprintf("unknown dimension %q", letter))
	}
}

// Ratio is pageSize / lbaSize: how many LBAs make up one LPN.
func (g *Geometry) Ratio() uint64 { return g.PageSize / g.LBASize }

// LPNFromLBA converts a host LBA to the LPN that contains it.
func (g *Geometry) LPNFromLBA(lba uint64) uint64 { return lba / g.Ratio() }

// IOUnitsPerPage is the number of I/O units ("partial-page write
// granularity") per physical page.
func (g *Geometry) IOUnitsPerPage() uint64 { return g.PageSize / g.IOUnitSize }

// ParallelUnits is the total number of independent Channel×Package×Die×Plane
// combinations — every physical parallelism axis excluding block and page.
func (g *Geometry) ParallelUnits() uint64 {
	return uint64(g.Channel) * uint64(g.Package) * uint64(g.Die) * uint64(g.Plane)
}

// TotalPhysicalBlocks is ParallelUnits() × Block.
func (g *Geometry) TotalPhysicalBlocks() uint64 {
	return g.ParallelUnits() * uint64(g.Block)
}

// SuperpageWidth is the number of physical pages striped into one
// superpage: the product of the counts of every dimension in the
// superblock mask.
func (g *Geometry) SuperpageWidth() uint64 {
	w := uint64(1)
	for _, d := range g.superblockDims {
		w *= g.dimCount(d)
	}
	return w
}

// DieSlotCount is the number of distinct non-superblock-masked dimension
// combinations — the space addressed by the FTL's per-die lastFreeBlock
// slot cache (spec.md §3: "a per-parallel-die slot lastFreeBlock[d]").
func (g *Geometry) DieSlotCount() uint64 {
	n := g.ParallelUnits() / g.SuperpageWidth()
	if n == 0 {
		return 1
	}
	return n
}

// DieSlotIndex computes the linear die-slot index of addr over the
// non-masked dimensions only, in PageAllocation order.
func (g *Geometry) DieSlotIndex(addr PPN) uint64 {
	var idx uint64
	for i := len(g.nonMaskedDims) - 1; i >= 0; i-- {
		d := g.nonMaskedDims[i]
		idx = idx*g.dimCount(d) + g.dimValue(addr, d)
	}
	return idx
}

// dieSlotBase decodes a die-slot index back into the fixed (non-masked)
// dimension values of a PPN, leaving masked dimensions and Block/Page zero.
func (g *Geometry) dieSlotBase(slot uint64) PPN {
	var addr PPN
	for _, d := range g.nonMaskedDims {
		c := g.dimCount(d)
		g.setDim(&addr, d, uint32(slot%c))
		slot /= c
	}
	return addr
}

// Superpage enumerates every physical PPN belonging to the superpage at die
// slot `slot`, block `block`, page `page` — the full stripe spec.md's data
// model calls "the set of physical pages striped across the die/plane
// dimensions included in the superblock mask".
func (g *Geometry) Superpage(slot uint64, block, page uint32) []PPN {
	base := g.dieSlotBase(slot)
	base.Block = block
	base.Page = page

	width := g.SuperpageWidth()
	out := make([]PPN, 0, width)
	for combo := uint64(0); combo < width; combo++ {
		addr := base
		rem := combo
		for _, d := range g.superblockDims {
			c := g.dimCount(d)
			g.setDim(&addr, d, uint32(rem%c))
			rem /= c
		}
		out = append(out, addr)
	}
	return out
}

// LinearIndex encodes the full Channel/Package/Die/Plane tuple of addr
// (ignoring Block/Page) as a single index in PageAllocation order, fastest
// varying dimension first.
func (g *Geometry) LinearIndex(addr PPN) uint64 {
	var idx uint64
	for i := len(g.pageAllocOrder) - 1; i >= 0; i-- {
		d := g.pageAllocOrder[i]
		idx = idx*g.dimCount(d) + g.dimValue(addr, d)
	}
	return idx
}

// FromLinearIndex is the inverse of LinearIndex; Block and Page are left
// zero.
func (g *Geometry) FromLinearIndex(n uint64) PPN {
	var addr PPN
	for _, d := range g.pageAllocOrder {
		c := g.dimCount(d)
		g.setDim(&addr, d, uint32(n%c))
		n /= c
	}
	return addr
}

// ChannelID returns the PAL channel-timeline key for addr: its Channel
// coordinate alone, since every die on a channel shares that channel's DMA
// bus.
func (g *Geometry) ChannelID(addr PPN) uint64 { return uint64(addr.Channel) }

// DieID returns the PAL die-timeline key for addr: Channel/Package/Die
// combined, in PageAllocation order but excluding Plane — every plane of a
// die shares that die's array-busy timeline, which is what makes
// multi-plane operations land on one die-timeline entry instead of one per
// plane.
func (g *Geometry) DieID(addr PPN) uint64 {
	var idx uint64
	for i := len(g.pageAllocOrder) - 1; i >= 0; i-- {
		d := g.pageAllocOrder[i]
		if d == 'P' {
			continue
		}
		idx = idx*g.dimCount(d) + g.dimValue(addr, d)
	}
	return idx
}
