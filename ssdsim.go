// Package ssdsim is a discrete-event SSD performance simulator: an NVMe
// host-facing shim over a DRAM/ICL cache, a page-mapping FTL with garbage
// collection, and a PAL that schedules NAND timing on a per-channel,
// per-die basis.
//
// # Basic usage
//
//	cfg := config.Default()
//	sim, err := ssdsim.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	finish, err := sim.SubmitIO("WRITE", 1, 0, 8, 0)
//
// Package ssdsim wires internal/config, internal/geometry, internal/latency,
// internal/pal, internal/ftl, internal/dram, internal/icl and
// internal/hostio together behind the external interface spec.md §6
// describes (submitIO/getLPNInfo/getUsedPageCount), grounded on
// tinysql.go's own re-export-and-assemble root package.
package ssdsim

import (
	"fmt"

	"github.com/SimonWaldherr/ssdsim/internal/config"
	"github.com/SimonWaldherr/ssdsim/internal/dram"
	"github.com/SimonWaldherr/ssdsim/internal/ftl"
	"github.com/SimonWaldherr/ssdsim/internal/geometry"
	"github.com/SimonWaldherr/ssdsim/internal/hostio"
	"github.com/SimonWaldherr/ssdsim/internal/icl"
	"github.com/SimonWaldherr/ssdsim/internal/latency"
	"github.com/SimonWaldherr/ssdsim/internal/pal"
	"github.com/SimonWaldherr/ssdsim/internal/simerr"
	"github.com/SimonWaldherr/ssdsim/internal/stats"
	"github.com/SimonWaldherr/ssdsim/internal/tracelog"
)

// Simulator is an assembled SSD pipeline: config, geometry, latency table,
// PAL, FTL, DRAM, ICL and the hostio.Shim fronting it all.
type Simulator struct {
	geo       *geometry.Geometry
	tbl       *latency.Table
	stats     *stats.Stats
	pal       *pal.PAL
	ftl       *ftl.FTL
	dram      *dram.DRAM
	cache     *icl.ICL
	shim      *hostio.Shim
	log       *tracelog.Logger
	namespace uint64
	opRatio   float64
}

// New builds a Simulator from cfg, validating every key and running the
// Warmup pre-fill (spec.md §6's supplemented feature: Warmup sequential
// LPNs are written through the normal FTL path at tick 0, before the
// simulator accepts any host traffic, so GC and wear-leveling state is
// already non-trivial once SubmitIO starts).
func New(cfg *config.Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	geo, err := geometry.New(cfg)
	if err != nil {
		return nil, err
	}

	nand, err := latency.ParseNANDType(cfg.GetString(config.KeyNANDType, "TLC"))
	if err != nil {
		return nil, err
	}
	dmaSpeed, err := cfg.GetUint(config.KeyDMASpeed)
	if err != nil {
		return nil, err
	}
	dmaWidth, err := cfg.GetUint(config.KeyDMAWidth)
	if err != nil {
		return nil, err
	}
	tbl := latency.NewTable(nand, dmaSpeed, dmaWidth)

	st := stats.New()
	p := pal.New(tbl, st)
	lg := tracelog.Discard("ssdsim")

	f, err := ftl.New(cfg, geo, p, st, lg)
	if err != nil {
		return nil, err
	}
	d, err := dram.New(cfg)
	if err != nil {
		return nil, err
	}
	c, err := icl.New(cfg, geo, f, d, lg)
	if err != nil {
		return nil, err
	}

	nsid, err := cfg.GetUint(config.KeyNamespaceID)
	if err != nil {
		return nil, err
	}
	opRatio, err := cfg.GetFloat(config.KeyOverProvisioning)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		geo:       geo,
		tbl:       tbl,
		stats:     st,
		pal:       p,
		ftl:       f,
		dram:      d,
		cache:     c,
		shim:      hostio.New(c, geo.PageSize, lg),
		log:       lg,
		namespace: nsid,
		opRatio:   opRatio,
	}

	warmup, err := cfg.GetFloat(config.KeyWarmup)
	if err != nil {
		return nil, err
	}
	if warmup > 0 {
		total, _ := s.GetLPNInfo()
		if err := s.prefill(uint64(warmup * float64(total))); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// fullIOMask returns the all-units-valid mask for one page, matching
// internal/icl's own fullMask used on every whole-page FTL call.
func (s *Simulator) fullIOMask() uint64 {
	units := s.geo.IOUnitsPerPage()
	if units >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << units) - 1
}

// prefill writes n sequential LPNs through the FTL's normal write path at
// tick 0, ahead of any host traffic. Grounded on the teacher's own
// benchmarks setup pattern of populating a table before timing a workload.
func (s *Simulator) prefill(n uint64) error {
	total, _ := s.GetLPNInfo()
	if n > total {
		n = total
	}
	mask := s.fullIOMask()
	for lpn := uint64(0); lpn < n; lpn++ {
		if _, err := s.ftl.Write(lpn, mask, 0); err != nil {
			return fmt.Errorf("warmup write lpn %d: %w", lpn, err)
		}
	}
	return nil
}

// SubmitIO implements spec.md §6's submitIO(opcode, nsid, lba, nblocks,
// arrivalTick) external interface: it validates the namespace, converts
// the LBA range to an LPN range, and dispatches through the hostio shim.
func (s *Simulator) SubmitIO(opcode string, nsid, lba, nblocks, arrivalTick uint64) (uint64, error) {
	if nsid != s.namespace {
		return arrivalTick, fmt.Errorf("%w: nsid %d", simerr.ErrNamespaceNotAttached, nsid)
	}
	op, err := hostio.ParseOp(opcode)
	if err != nil {
		return arrivalTick, err
	}

	startLPN := s.geo.LPNFromLBA(lba)
	lpnCount := uint64(0)
	if nblocks > 0 {
		ratio := s.geo.Ratio()
		endLPN := s.geo.LPNFromLBA(lba + nblocks*ratio - 1)
		lpnCount = endLPN - startLPN + 1
	}

	return s.shim.Submit(op, startLPN, lpnCount, arrivalTick)
}

// GetLPNInfo implements spec.md §6's getLPNInfo(): the total addressable
// logical page count after over-provisioning is withheld, and the logical
// page size in bytes.
func (s *Simulator) GetLPNInfo() (totalLogicalPages, logicalPageSize uint64) {
	physical := s.geo.DieSlotCount() * uint64(s.geo.Block) * uint64(s.geo.Page)
	// This counts superpages, not physical pages: one LPN occupies a whole
	// superpage of SuperpageWidth() physical pages, and DieSlotCount() is
	// ParallelUnits() / SuperpageWidth().
	usable := float64(physical) * (1 - s.opRatio)
	return uint64(usable), s.geo.PageSize
}

// GetUsedPageCount implements spec.md §6's getUsedPageCount(): the number
// of LPNs currently holding a live mapping.
func (s *Simulator) GetUsedPageCount() int {
	return s.ftl.MappedPageCount()
}

// Stats exposes the simulator's accumulated statistics snapshot.
func (s *Simulator) Stats() stats.Snapshot {
	return s.stats.Snapshot()
}
