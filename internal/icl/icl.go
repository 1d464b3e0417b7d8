// Package icl implements the set-associative cache module from spec.md
// §4.3: a fixed set × way line store with RANDOM/FIFO/LRU eviction, a
// sequential-prefetch detector, row/column eviction batching on dirty
// writeback, and DRAM-bandwidth-aware latency accounting.
//
// Grounded directly on internal/storage/bufferpool.go: its CacheStrategy
// enum, LRUQueue-style recency tracking, and per-cache mutex guard are
// repointed from table caching onto physical cache lines tagged
// by LPN, FTL taking the place of the evicted table's backing store.
package icl

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/SimonWaldherr/ssdsim/internal/config"
	"github.com/SimonWaldherr/ssdsim/internal/dram"
	"github.com/SimonWaldherr/ssdsim/internal/ftl"
	"github.com/SimonWaldherr/ssdsim/internal/geometry"
	"github.com/SimonWaldherr/ssdsim/internal/simerr"
	"github.com/SimonWaldherr/ssdsim/internal/tracelog"
)

// EvictPolicy selects the victim-way rule, mirroring bufferpool.go's
// CacheStrategy enum-with-String() shape.
type EvictPolicy int

const (
	PolicyRandom EvictPolicy = iota
	PolicyFIFO
	PolicyLRU
)

func (p EvictPolicy) String() string {
	switch p {
	case PolicyRandom:
		return "RANDOM"
	case PolicyFIFO:
		return "FIFO"
	case PolicyLRU:
		return "LRU"
	default:
		return "UNKNOWN"
	}
}

// ParsePolicy parses the EvictPolicy config key.
func ParsePolicy(s string) (EvictPolicy, error) {
	switch s {
	case "RANDOM":
		return PolicyRandom, nil
	case "FIFO":
		return PolicyFIFO, nil
	case "LRU":
		return PolicyLRU, nil
	default:
		return 0, fmt.Errorf("%w: unknown EvictPolicy %q", simerr.ErrConfigInvalid, s)
	}
}

// line is one cache-line slot: tag (LPN), insertion/access ticks, and the
// valid/dirty bits spec.md §3 "Cache line" names.
type line struct {
	tag        uint64
	insertedAt uint64
	lastAccess uint64
	valid      bool
	dirty      bool
}

// cacheSet is one row of the set-associative array: a fixed WaySize slice
// of lines.
type cacheSet struct {
	ways []line
}

func (s *cacheSet) find(tag uint64) int {
	for i := range s.ways {
		if s.ways[i].valid && s.ways[i].tag == tag {
			return i
		}
	}
	return -1
}

func (s *cacheSet) emptyWay() int {
	for i := range s.ways {
		if !s.ways[i].valid {
			return i
		}
	}
	return -1
}

// ICL is the set-associative cache sitting between the host shim and the
// FTL, per spec.md §4.3.
type ICL struct {
	mu sync.Mutex

	geo  *geometry.Geometry
	ftl  *ftl.FTL
	dram *dram.DRAM
	log  *tracelog.Logger

	sets    []cacheSet
	setCount uint64
	wayCount uint64
	policy  EvictPolicy
	rng     *rand.Rand

	useReadCache  bool
	useWriteCache bool

	ioUnitsPerPage uint32
	pageSize       uint64

	lineCountInSuperpage uint64
	parallelIO           uint64

	// Prefetch detector state, spec.md §4.3 "Prefetch detector".
	prefetchEnabled        bool
	useReadPrefetch        bool
	prefetchIOCount        uint64
	prefetchIORatio        uint64
	prefetchHits           uint64
	prefetchAccessCounter  uint64
	lastReqID              uint64
	lastReqEnd             uint64
	haveLastReq            bool
}

// New builds an ICL cache over CacheSize lines split WaySize-wide per set.
func New(cfg *config.Config, geo *geometry.Geometry, f *ftl.FTL, d *dram.DRAM, lg *tracelog.Logger) (*ICL, error) {
	cacheSize, err := cfg.GetUint(config.KeyCacheSize)
	if err != nil {
		return nil, err
	}
	waySize, err := cfg.GetUint(config.KeyWaySize)
	if err != nil {
		return nil, err
	}
	if waySize == 0 || cacheSize%waySize != 0 {
		return nil, fmt.Errorf("%w: CacheSize %d is not a multiple of WaySize %d", simerr.ErrConfigInvalid, cacheSize, waySize)
	}
	policy, err := ParsePolicy(cfg.GetString(config.KeyEvictPolicy, "LRU"))
	if err != nil {
		return nil, err
	}
	useReadCache, err := cfg.GetBoolean(config.KeyUseReadCache)
	if err != nil {
		return nil, err
	}
	useWriteCache, err := cfg.GetBoolean(config.KeyUseWriteCache)
	if err != nil {
		return nil, err
	}
	useReadPrefetch, err := cfg.GetBoolean(config.KeyUseReadPrefetch)
	if err != nil {
		return nil, err
	}
	prefetchCount, err := cfg.GetUint(config.KeyPrefetchCount)
	if err != nil {
		return nil, err
	}
	prefetchRatio, err := cfg.GetUint(config.KeyPrefetchRatio)
	if err != nil {
		return nil, err
	}

	setCount := cacheSize / waySize
	sets := make([]cacheSet, setCount)
	for i := range sets {
		sets[i].ways = make([]line, waySize)
	}

	lineCount := geo.SuperpageWidth()
	if lineCount == 0 {
		lineCount = 1
	}
	parallelIO := geo.DieSlotCount()
	if parallelIO == 0 {
		parallelIO = 1
	}

	return &ICL{
		geo:                  geo,
		ftl:                  f,
		dram:                 d,
		log:                  lg,
		sets:                 sets,
		setCount:             setCount,
		wayCount:             waySize,
		policy:               policy,
		rng:                  rand.New(rand.NewSource(42)),
		useReadCache:         useReadCache,
		useWriteCache:        useWriteCache,
		ioUnitsPerPage:       uint32(geo.IOUnitsPerPage()),
		pageSize:             geo.PageSize,
		lineCountInSuperpage: lineCount,
		parallelIO:           parallelIO,
		useReadPrefetch:      useReadPrefetch,
		prefetchIOCount:      prefetchCount,
		prefetchIORatio:      prefetchRatio,
	}, nil
}

func (c *ICL) fullMask() uint64 {
	if c.ioUnitsPerPage >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << c.ioUnitsPerPage) - 1
}

func (c *ICL) setFor(lpn uint64) *cacheSet { return &c.sets[lpn%c.setCount] }

// victimWay picks a way to evict from set per c.policy: RANDOM is uniform,
// FIFO picks the lowest insertedAt, LRU the lowest lastAccess.
func (c *ICL) victimWay(s *cacheSet) int {
	if empty := s.emptyWay(); empty >= 0 {
		return empty
	}
	switch c.policy {
	case PolicyRandom:
		return c.rng.Intn(len(s.ways))
	case PolicyFIFO:
		best := 0
		for i := 1; i < len(s.ways); i++ {
			if s.ways[i].insertedAt < s.ways[best].insertedAt {
				best = i
			}
		}
		return best
	default: // LRU
		best := 0
		for i := 1; i < len(s.ways); i++ {
			if s.ways[i].lastAccess < s.ways[best].lastAccess {
				best = i
			}
		}
		return best
	}
}

// rowCol returns the eviction-batching coordinates spec.md §4.3 defines:
// row groups lines belonging to the same logical superpage, col groups them
// by the parallel unit a flush of that LPN would land on.
func (c *ICL) rowCol(tag uint64) (row, col uint64) {
	row = tag % c.lineCountInSuperpage
	col = (tag / c.lineCountInSuperpage) % c.parallelIO
	return
}

// flushDirty writes a dirty line back to the FTL and marks the way invalid.
func (c *ICL) flushDirty(s *cacheSet, way int, t uint64) (uint64, error) {
	ln := &s.ways[way]
	if !ln.valid || !ln.dirty {
		ln.valid = false
		return t, nil
	}
	finish, err := c.ftl.Write(ln.tag, c.fullMask(), t)
	ln.valid = false
	return finish, err
}

// evictBatch flushes the dirty lines among victims (each a (set, way) pair),
// deduping by (row, col) so at most one line per parallel unit is written,
// and returns the latest completion tick across the whole batch — the
// writes land on independent PAL channels and so run in parallel, not in
// series.
func (c *ICL) evictBatch(victims [][2]int, t uint64) (uint64, error) {
	kept := make(map[[2]uint64]struct {
		set, way int
	})
	for _, v := range victims {
		s := &c.sets[v[0]]
		ln := &s.ways[v[1]]
		if !ln.valid || !ln.dirty {
			continue
		}
		row, col := c.rowCol(ln.tag)
		key := [2]uint64{row, col}
		if _, ok := kept[key]; !ok {
			kept[key] = struct{ set, way int }{v[0], v[1]}
		}
	}

	finish := t
	for _, pos := range kept {
		fin, err := c.flushDirty(&c.sets[pos.set], pos.way, t)
		if err != nil {
			return finish, err
		}
		if fin > finish {
			finish = fin
		}
	}
	// Any victim not selected for the batch (duplicate row/col, or simply
	// clean) is still dropped from the cache.
	for _, v := range victims {
		c.sets[v[0]].ways[v[1]].valid = false
	}
	return finish, nil
}

// superpageLPNs returns the aligned group of lineCountInSuperpage LPNs that
// spec.md's prefetch detector treats as one logical superpage.
func (c *ICL) superpageLPNs(lpn uint64) []uint64 {
	base := (lpn / c.lineCountInSuperpage) * c.lineCountInSuperpage
	out := make([]uint64, c.lineCountInSuperpage)
	for i := range out {
		out[i] = base + uint64(i)
	}
	return out
}

// noteAccess feeds the prefetch detector one request's (reqID, byte range),
// per spec.md §4.3: contiguous same-stream accesses accumulate toward the
// prefetchEnabled threshold; any break resets both counters.
func (c *ICL) noteAccess(reqID, byteStart, length uint64) {
	if c.haveLastReq && reqID == c.lastReqID && byteStart == c.lastReqEnd {
		c.prefetchHits++
		c.prefetchAccessCounter += length
	} else {
		c.prefetchHits = 0
		c.prefetchAccessCounter = 0
		c.prefetchEnabled = false
	}
	c.lastReqID = reqID
	c.lastReqEnd = byteStart + length
	c.haveLastReq = true

	if c.pageSize > 0 && c.prefetchHits >= c.prefetchIOCount &&
		c.prefetchAccessCounter/c.pageSize >= c.prefetchIORatio {
		c.prefetchEnabled = true
	}
}

// Read services one LPN read sub-request. reqID/byteStart/length feed the
// prefetch detector; they may be zero when a caller doesn't care about
// prefetch tracking (e.g. direct tests).
func (c *ICL) Read(reqID, lpn, byteStart, length, t uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.useReadPrefetch {
		c.noteAccess(reqID, byteStart, length)
	}

	if !c.useReadCache {
		return c.ftl.Read(lpn, c.fullMask(), t)
	}

	s := c.setFor(lpn)
	if way := s.find(lpn); way >= 0 {
		s.ways[way].lastAccess = t
		finish := c.dram.Read(lpn*c.pageSize, c.pageSize, t)
		return finish, nil
	}

	lpns := []uint64{lpn}
	prefetch := c.useReadPrefetch && c.prefetchEnabled
	if prefetch {
		lpns = c.superpageLPNs(lpn)
	}

	victims := make([][2]int, 0, len(lpns))
	setIdx := make([]int, len(lpns))
	wayIdx := make([]int, len(lpns))
	for i, l := range lpns {
		ss := c.setFor(l)
		idx := int(l % c.setCount)
		w := c.victimWay(ss)
		setIdx[i], wayIdx[i] = idx, w
		victims = append(victims, [2]int{idx, w})
	}

	finish, err := c.evictBatch(victims, t)
	if err != nil {
		return finish, err
	}

	for _, l := range lpns {
		fin, err := c.ftl.Read(l, c.fullMask(), finish)
		if err != nil {
			return finish, err
		}
		if fin > finish {
			finish = fin
		}
	}

	for i, l := range lpns {
		ln := &c.sets[setIdx[i]].ways[wayIdx[i]]
		*ln = line{tag: l, insertedAt: finish, lastAccess: finish, valid: true, dirty: false}
	}

	return finish, nil
}

// Write services one LPN write sub-request.
func (c *ICL) Write(lpn, t uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.useWriteCache {
		return c.ftl.Write(lpn, c.fullMask(), t)
	}

	s := c.setFor(lpn)
	if way := s.find(lpn); way >= 0 {
		s.ways[way].lastAccess = t
		s.ways[way].dirty = true
		finish := c.dram.Write(lpn*c.pageSize, c.pageSize, t)
		return finish, nil
	}

	if way := s.emptyWay(); way >= 0 {
		s.ways[way] = line{tag: lpn, insertedAt: t, lastAccess: t, valid: true, dirty: true}
		finish := c.dram.Write(lpn*c.pageSize, c.pageSize, t)
		return finish, nil
	}

	// Full-set write miss: evict the full cache's "best dirty per
	// row/column" set (spec.md §4.3 write step 3) so the flush batch runs
	// across independent PAL channels, then install the new line in the
	// way it frees in this set.
	victims := make([][2]int, 0, len(c.sets))
	for si := range c.sets {
		for wi := range c.sets[si].ways {
			if c.sets[si].ways[wi].valid && c.sets[si].ways[wi].dirty {
				victims = append(victims, [2]int{si, wi})
			}
		}
	}
	targetWay := c.victimWay(s)
	setIdx := int(lpn % c.setCount)
	found := false
	for _, v := range victims {
		if v[0] == setIdx && v[1] == targetWay {
			found = true
			break
		}
	}
	if !found {
		victims = append(victims, [2]int{setIdx, targetWay})
	}

	finish, err := c.evictBatch(victims, t)
	if err != nil {
		return finish, err
	}
	s.ways[targetWay] = line{tag: lpn, insertedAt: finish, lastAccess: finish, valid: true, dirty: true}
	return finish, nil
}

// Flush writes lpn back to the FTL if dirty and drops its line.
func (c *ICL) Flush(lpn, t uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.setFor(lpn)
	way := s.find(lpn)
	if way < 0 {
		return t, nil
	}
	return c.flushDirty(s, way, t)
}

// Trim drops lpn's line (no writeback) and delegates the trim to the FTL.
func (c *ICL) Trim(lpn, t uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.setFor(lpn)
	if way := s.find(lpn); way >= 0 {
		s.ways[way].valid = false
	}
	return c.ftl.Trim(lpn, t)
}

// Format drops every line whose LPN falls in [lo, hi) and delegates to the
// FTL's format.
func (c *ICL) Format(lo, hi, t uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for si := range c.sets {
		for wi := range c.sets[si].ways {
			ln := &c.sets[si].ways[wi]
			if ln.valid && ln.tag >= lo && ln.tag < hi {
				ln.valid = false
			}
		}
	}
	return c.ftl.Format(lo, hi, t)
}
