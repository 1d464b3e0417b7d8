// Package ftl implements the page-mapping table and garbage-collection
// module from spec.md §2/§4.2: LPN -> (block, page) mapping, free/in-use
// block pools, wear-leveling block allocation, and Greedy/Cost-Benefit
// victim selection.
//
// Grounded on internal/storage/freelist.go for the free/in-use pool shape
// and on gc.go's victim-weight-then-copy-forward structure, generalized
// from tinySQL's page-level vacuum to ssdsim's physical-block GC.
package ftl

import (
	"fmt"
	"math"
	"sort"

	"github.com/SimonWaldherr/ssdsim/internal/block"
	"github.com/SimonWaldherr/ssdsim/internal/config"
	"github.com/SimonWaldherr/ssdsim/internal/geometry"
	"github.com/SimonWaldherr/ssdsim/internal/latency"
	"github.com/SimonWaldherr/ssdsim/internal/pal"
	"github.com/SimonWaldherr/ssdsim/internal/simerr"
	"github.com/SimonWaldherr/ssdsim/internal/stats"
	"github.com/SimonWaldherr/ssdsim/internal/tracelog"
)

// mapEntry is one row of the LPN -> physical location table (spec.md §3
// "Mapping table").
type mapEntry struct {
	dieSlot uint64
	block   uint32
	page    uint32
}

// groupInstance is one physical member of a superpage stripe: a die/channel
// identity plus the Block object that actually owns the bitmaps.
type groupInstance struct {
	channel uint64
	die     uint64
	blk     *block.Block
}

// blockGroup is one logical block: a single block index striped across
// every dimension named in SuperblockSize, i.e. the unit that GC reclaims
// and wear-leveling allocates as one. With a non-striping SuperblockSize
// ("" or a single unmasked dimension) a group has exactly one instance and
// behaves like a plain physical block.
type blockGroup struct {
	dieSlot      uint64
	index        uint32
	instances    []groupInstance
	eraseCount   uint64
	lastAccessed uint64
}

func (g *blockGroup) representative() *block.Block { return g.instances[0].blk }

func (g *blockGroup) validPageCount() int    { return g.representative().ValidPageCount() }
func (g *blockGroup) hasValidData(p uint32) bool { return g.representative().HasValidData(p) }
func (g *blockGroup) validMask(p uint32) uint64  { return g.representative().ValidMask(p) }
func (g *blockGroup) lpnAt(p uint32) uint64       { return g.representative().LPN(p) }

func (g *blockGroup) invalidate(p uint32) {
	for _, inst := range g.instances {
		inst.blk.Invalidate(p)
	}
}

func (g *blockGroup) appendExhausted(mask uint64) bool {
	return g.representative().AppendExhausted(mask)
}

func (g *blockGroup) appendPageFor(mask uint64, ioUnits uint32) uint32 {
	b := g.representative()
	var page uint32
	for i := uint32(0); i < ioUnits; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		if n := b.NextWriteIndex(i); n > page {
			page = n
		}
	}
	return page
}

func (g *blockGroup) erase() {
	for _, inst := range g.instances {
		inst.blk.Erase()
	}
	g.eraseCount++
}

// FTL is the page-mapping flash translation layer.
type FTL struct {
	geo   *geometry.Geometry
	pal   *pal.PAL
	stats *stats.Stats
	log   *tracelog.Logger

	nand           latency.NANDType
	pagesPerBlock  uint32
	ioUnitsPerPage uint32

	physBlocks map[uint64]map[uint32]*block.Block // unit linear id -> block index -> Block

	freeGroups   map[uint64]map[uint32]*blockGroup
	inUseGroups  map[uint64]map[uint32]*blockGroup
	appendTarget map[uint64]*blockGroup // die slot -> current open block

	mapping map[uint64]mapEntry

	gcThreshold        float64
	gcReclaimThreshold float64
	gcReclaimBlocks    uint64
	gcMode             string
	gcEvictPolicy      string
	eraseThreshold     uint64

	reclaimMore uint64
}

// New builds an FTL over every physical block geometry describes, all
// initially free.
func New(cfg *config.Config, geo *geometry.Geometry, p *pal.PAL, st *stats.Stats, lg *tracelog.Logger) (*FTL, error) {
	nand, err := latency.ParseNANDType(cfg.GetString(config.KeyNANDType, "TLC"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simerr.ErrConfigInvalid, err)
	}
	gcThreshold, err := cfg.GetFloat(config.KeyGCThreshold)
	if err != nil {
		return nil, err
	}
	gcReclaimThreshold, err := cfg.GetFloat(config.KeyGCReclaimThreshold)
	if err != nil {
		return nil, err
	}
	gcReclaimBlocks, err := cfg.GetUint(config.KeyGCReclaimBlocks)
	if err != nil {
		return nil, err
	}
	eraseThreshold, err := cfg.GetUint(config.KeyEraseThreshold)
	if err != nil {
		return nil, err
	}
	evictPolicy := cfg.GetString(config.KeyGCEvictPolicy, "GREEDY")
	gcMode := cfg.GetString(config.KeyGCMode, "THRESHOLD")

	f := &FTL{
		geo:                geo,
		pal:                p,
		stats:              st,
		log:                lg,
		nand:               nand,
		pagesPerBlock:      geo.Page,
		ioUnitsPerPage:     uint32(geo.IOUnitsPerPage()),
		physBlocks:         make(map[uint64]map[uint32]*block.Block),
		freeGroups:         make(map[uint64]map[uint32]*blockGroup),
		inUseGroups:        make(map[uint64]map[uint32]*blockGroup),
		appendTarget:       make(map[uint64]*blockGroup),
		mapping:            make(map[uint64]mapEntry),
		gcThreshold:        gcThreshold,
		gcReclaimThreshold: gcReclaimThreshold,
		gcReclaimBlocks:    gcReclaimBlocks,
		gcMode:             gcMode,
		gcEvictPolicy:      evictPolicy,
		eraseThreshold:     eraseThreshold,
	}

	for slot := uint64(0); slot < geo.DieSlotCount(); slot++ {
		f.freeGroups[slot] = make(map[uint32]*blockGroup)
		f.inUseGroups[slot] = make(map[uint32]*blockGroup)
		for idx := uint32(0); idx < geo.Block; idx++ {
			members := geo.Superpage(slot, idx, 0)
			instances := make([]groupInstance, 0, len(members))
			for _, m := range members {
				unitID := geo.LinearIndex(geometry.PPN{Channel: m.Channel, Package: m.Package, Die: m.Die, Plane: m.Plane})
				if _, ok := f.physBlocks[unitID]; !ok {
					f.physBlocks[unitID] = make(map[uint32]*block.Block)
				}
				blk, ok := f.physBlocks[unitID][idx]
				if !ok {
					blk = block.New(idx, geo.Page, uint32(geo.IOUnitsPerPage()))
					f.physBlocks[unitID][idx] = blk
				}
				instances = append(instances, groupInstance{
					channel: geo.ChannelID(m),
					die:     geo.DieID(m),
					blk:     blk,
				})
			}
			f.freeGroups[slot][idx] = &blockGroup{dieSlot: slot, index: idx, instances: instances}
		}
	}

	return f, nil
}

// FreeBlockRatio is the fraction of all logical blocks (across every die
// slot) currently in the free pool.
func (f *FTL) FreeBlockRatio() float64 {
	free, total := f.poolCounts(nil)
	if total == 0 {
		return 1
	}
	return float64(free) / float64(total)
}

// poolCounts sums free and total (free+in-use) group counts, restricted to
// restrictDieSlot if non-nil.
func (f *FTL) poolCounts(restrictDieSlot *uint64) (free, total int) {
	for slot := range f.freeGroups {
		if restrictDieSlot != nil && slot != *restrictDieSlot {
			continue
		}
		free += len(f.freeGroups[slot])
		total += len(f.freeGroups[slot]) + len(f.inUseGroups[slot])
	}
	return free, total
}

// sortedBlockIndices returns pool's keys ascending, so callers resolve ties
// between equal-weight candidates deterministically in favor of the lowest
// block index (spec.md §4.2: ties resolve to block 0).
func sortedBlockIndices(pool map[uint32]*blockGroup) []uint32 {
	keys := make([]uint32, 0, len(pool))
	for k := range pool {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// sortedDieSlots returns groups's keys ascending, for the same reason as
// sortedBlockIndices.
func sortedDieSlots(groups map[uint64]map[uint32]*blockGroup) []uint64 {
	keys := make([]uint64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ReclaimMoreCount returns how many times an append target's exhaustion
// forced allocation of a fresh free block (spec.md §4.2 write: "increment
// reclaimMore"). Under GCMode ON_DEMAND each GC pass resets it to zero, so
// it then counts only the exhaustions since the last pass.
func (f *FTL) ReclaimMoreCount() uint64 { return f.reclaimMore }

func (f *FTL) pageType(page uint32) latency.PageType {
	return latency.PageTypeOf(f.nand, page, f.pagesPerBlock)
}

// appendPage returns the page to write lpn's next superpage at within dieSlot,
// allocating a fresh block via wear-leveling if the current append target is
// exhausted, and issues the PAL write(s) for every member of the superpage.
func (f *FTL) appendPage(dieSlot, ioMask, lpn, t uint64) (uint32, *blockGroup, uint64, error) {
	grp := f.appendTarget[dieSlot]
	if grp == nil || grp.appendExhausted(ioMask) {
		had := grp != nil
		next, err := f.allocateFreeGroup(dieSlot)
		if err != nil {
			return 0, nil, t, err
		}
		f.appendTarget[dieSlot] = next
		grp = next
		if had {
			f.reclaimMore++
		}
	}

	page := grp.appendPageFor(ioMask, f.ioUnitsPerPage)
	finish := t
	for _, inst := range grp.instances {
		inst.blk.Write(page, uint64(ioMask), lpn)
		fin := f.pal.Submit(latency.OpWrite, inst.channel, inst.die, f.pageType(page), finish)
		if fin > finish {
			finish = fin
		}
	}
	grp.lastAccessed = finish
	return page, grp, finish, nil
}

// allocateFreeGroup picks the free group in dieSlot with the lowest erase
// count (wear leveling, spec.md §4.2: "the free block with the lowest
// eraseCount within its die slot. Policy is not configurable.") and moves
// it into the in-use pool.
func (f *FTL) allocateFreeGroup(dieSlot uint64) (*blockGroup, error) {
	pool := f.freeGroups[dieSlot]
	var best *blockGroup
	for _, idx := range sortedBlockIndices(pool) {
		grp := pool[idx]
		if best == nil || grp.eraseCount < best.eraseCount {
			best = grp
		}
	}
	if best == nil {
		return nil, simerr.ErrOutOfFreeBlocks
	}
	delete(pool, best.index)
	f.inUseGroups[dieSlot][best.index] = best
	return best, nil
}

// Read looks up lpn's mapping and issues one PAL read per superpage member.
// An unmapped LPN is a zero-cost no-op (spec.md §4.2, see DESIGN.md open
// question 1).
func (f *FTL) Read(lpn, ioMask, t uint64) (uint64, error) {
	entry, ok := f.mapping[lpn]
	if !ok {
		return t, nil
	}
	grp := f.inUseGroups[entry.dieSlot][entry.block]
	if grp.validMask(entry.page)&ioMask != ioMask {
		simerr.Corrupt("ftl.Read", "requested I/O units are not all valid")
	}

	finish := t
	for _, inst := range grp.instances {
		fin := f.pal.Submit(latency.OpRead, inst.channel, inst.die, f.pageType(entry.page), t)
		if fin > finish {
			finish = fin
		}
	}
	grp.lastAccessed = finish
	return finish, nil
}

// Write performs the remap-on-write sequence from spec.md §4.2: if lpn is
// already mapped, the complement of ioMask is re-read to preserve
// untouched I/O units and the old page is invalidated; a fresh page is then
// appended at the die slot lpn maps to (lpn % DieSlotCount, a fixed,
// deterministic choice — see DESIGN.md).
func (f *FTL) Write(lpn, ioMask, t uint64) (uint64, error) {
	finish := t
	writeMask := ioMask
	if entry, ok := f.mapping[lpn]; ok {
		oldGrp := f.inUseGroups[entry.dieSlot][entry.block]
		complement := oldGrp.validMask(entry.page) &^ ioMask
		writeMask |= complement
		if complement != 0 {
			for _, inst := range oldGrp.instances {
				fin := f.pal.Submit(latency.OpRead, inst.channel, inst.die, f.pageType(entry.page), finish)
				if fin > finish {
					finish = fin
				}
			}
		}
		oldGrp.invalidate(entry.page)
		delete(f.mapping, lpn)
	}

	dieSlot := lpn % f.geo.DieSlotCount()
	page, grp, fin, err := f.appendPage(dieSlot, writeMask, lpn, finish)
	if err != nil {
		gcFinish, gcErr := f.runGC(finish, nil)
		if gcErr != nil {
			return finish, gcErr
		}
		finish = gcFinish
		page, grp, fin, err = f.appendPage(dieSlot, writeMask, lpn, finish)
		if err != nil {
			return finish, err
		}
	}
	finish = fin
	f.mapping[lpn] = mapEntry{dieSlot: dieSlot, block: grp.index, page: page}

	if f.FreeBlockRatio() < f.gcThreshold {
		gcFinish, err := f.runGC(finish, nil)
		if err != nil {
			return finish, err
		}
		finish = gcFinish
	}
	return finish, nil
}

// Trim invalidates lpn's mapped page and drops the mapping. No PAL
// operation is issued: spec.md §4.2 defines trim purely as a logical
// cancellation.
func (f *FTL) Trim(lpn, t uint64) (uint64, error) {
	entry, ok := f.mapping[lpn]
	if !ok {
		return t, nil
	}
	grp := f.inUseGroups[entry.dieSlot][entry.block]
	grp.invalidate(entry.page)
	delete(f.mapping, lpn)
	return t, nil
}

// Format trims every LPN in [lo, hi) then restricts GC to the die slots
// those trims touched.
func (f *FTL) Format(lo, hi, t uint64) (uint64, error) {
	touched := map[uint64]bool{}
	for lpn := lo; lpn < hi; lpn++ {
		if entry, ok := f.mapping[lpn]; ok {
			touched[entry.dieSlot] = true
		}
		if _, err := f.Trim(lpn, t); err != nil {
			return t, err
		}
	}
	finish := t
	for slot := range touched {
		s := slot
		if f.FreeBlockRatio() < f.gcThreshold {
			fin, err := f.runGC(finish, &s)
			if err != nil {
				return finish, err
			}
			finish = fin
		}
	}
	return finish, nil
}

// selectVictim returns the best in-use, non-open block in restrictDieSlot
// (or any die slot if nil), per spec.md §4.2 step 2. A group with zero
// valid pages is always the immediate best choice since reclaiming it
// costs no data movement.
func (f *FTL) selectVictim(t uint64, restrictDieSlot *uint64) *blockGroup {
	var best *blockGroup
	bestWeight := math.Inf(1)
	greedy := f.gcEvictPolicy != "COST_BENEFIT"

	for _, slot := range sortedDieSlots(f.inUseGroups) {
		if restrictDieSlot != nil && slot != *restrictDieSlot {
			continue
		}
		pool := f.inUseGroups[slot]
		open := f.appendTarget[slot]
		for _, idx := range sortedBlockIndices(pool) {
			grp := pool[idx]
			if grp == open {
				continue
			}
			valid := grp.validPageCount()
			if valid == 0 {
				return grp
			}
			if valid == int(f.pagesPerBlock) {
				// Fully valid: erasing it only relocates every page elsewhere
				// and buys back the same block, no net free space. Never a
				// useful victim.
				continue
			}
			if greedy {
				// Greedy wants the block with the fewest valid pages (most
				// reclaimable space); negate so "smaller wins" below still
				// picks it.
				neg := float64(valid) - float64(f.pagesPerBlock)
				if neg < bestWeight {
					bestWeight = neg
					best = grp
				}
				continue
			}
			u := float64(valid) / float64(f.pagesPerBlock)
			age := float64(t - grp.lastAccessed)
			if age <= 0 {
				age = 1
			}
			w := (1 - u) / (u * age)
			if w < bestWeight {
				bestWeight = w
				best = grp
			}
		}
	}
	return best
}

// gcVictimCount computes how many blocks this GC pass should reclaim,
// restricted to restrictDieSlot if non-nil. THRESHOLD mode targets a free-
// block ratio (spec.md §4.2: totalPhysicalBlocks * reclaimThreshold minus
// the blocks already free); ON_DEMAND mode instead reclaims a fixed batch
// plus whatever appendPage exhaustion has accumulated in reclaimMore.
func (f *FTL) gcVictimCount(restrictDieSlot *uint64) int {
	if f.gcMode == "ON_DEMAND" {
		return int(f.gcReclaimBlocks + f.reclaimMore)
	}
	free, total := f.poolCounts(restrictDieSlot)
	return int(float64(total)*f.gcReclaimThreshold) - free
}

// runGC reclaims f.gcVictimCount blocks, restricted to restrictDieSlot if
// non-nil (spec.md §4.2 "format ... call GC restricted to the blocks
// touched"). The victim count is computed once up front rather than
// re-polled against FreeBlockRatio as reclaims proceed.
func (f *FTL) runGC(t uint64, restrictDieSlot *uint64) (uint64, error) {
	n := f.gcVictimCount(restrictDieSlot)
	if n <= 0 {
		return t, nil
	}

	finish := t
	var reclaimed int
	for reclaimed < n {
		victim := f.selectVictim(finish, restrictDieSlot)
		if victim == nil {
			if reclaimed == 0 {
				return finish, simerr.ErrOutOfFreeBlocks
			}
			break
		}
		fin, err := f.reclaim(victim, finish)
		if err != nil {
			return finish, err
		}
		finish = fin
		reclaimed++
	}
	if f.gcMode == "ON_DEMAND" {
		// This pass has just paid down the appendPage exhaustions it was
		// sized against; start the next batch's count from zero.
		f.reclaimMore = 0
	}
	return finish, nil
}

// reclaim copies every valid page of victim elsewhere, erases it, and
// returns it to the free pool (or retires it past the bad-block threshold).
func (f *FTL) reclaim(victim *blockGroup, t uint64) (uint64, error) {
	finish := t
	for p := uint32(0); p < f.pagesPerBlock; p++ {
		if !victim.hasValidData(p) {
			continue
		}
		mask := victim.validMask(p)
		lpn := victim.lpnAt(p)

		for _, inst := range victim.instances {
			fin := f.pal.Submit(latency.OpRead, inst.channel, inst.die, f.pageType(p), finish)
			if fin > finish {
				finish = fin
			}
		}
		victim.invalidate(p)

		newPage, newGrp, fin, err := f.appendPage(victim.dieSlot, mask, lpn, finish)
		if err != nil {
			return finish, err
		}
		finish = fin
		f.mapping[lpn] = mapEntry{dieSlot: victim.dieSlot, block: newGrp.index, page: newPage}
	}

	victim.erase()
	delete(f.inUseGroups[victim.dieSlot], victim.index)
	if victim.eraseCount >= f.eraseThreshold {
		f.stats.AddRetiredBlock()
		return finish, nil
	}
	f.freeGroups[victim.dieSlot][victim.index] = victim
	f.stats.AddGCBlocksReclaimed(1)
	return finish, nil
}

// Lookup reports the physical (dieSlot, block, page) lpn currently maps to,
// for tests and diagnostics.
func (f *FTL) Lookup(lpn uint64) (dieSlot uint64, blockIdx, page uint32, ok bool) {
	e, ok := f.mapping[lpn]
	return e.dieSlot, e.block, e.page, ok
}

// MappedPageCount returns the number of LPNs currently holding a mapping —
// the "used page count" the NVMe collaborator's SMART reporting asks for
// (spec.md §6 getUsedPageCount).
func (f *FTL) MappedPageCount() int { return len(f.mapping) }
