// Package dram implements the DRAM model from spec.md §4.3 "DRAM latency":
// a fixed page-fetch latency plus a bandwidth-scaled bulk transfer term, a
// small cold "simple cache" fast path for repeated addresses, and
// serialization of back-to-back accesses onto one advancing clock.
//
// Grounded on original_source/dram/simple.cc's SimpleDRAM::read/write/
// checkRead/checkWrite/updateDelay, restructured in the teacher's
// struct-with-constructor style (internal/storage/bufferpool.go's
// MemoryPolicy/Default* pattern).
package dram

import (
	"fmt"

	"github.com/SimonWaldherr/ssdsim/internal/config"
	"github.com/SimonWaldherr/ssdsim/internal/simerr"
)

// line is one entry of the cold simple cache: an address and the size last
// seen at it. Tracked FIFO, exactly as original_source/dram/simple.cc's
// std::list<std::pair<addr, size>>.
type line struct {
	addr uint64
	size uint64
}

// DRAM models one DRAM channel set's fetch latency and a small FIFO
// "simple cache" sitting in front of it.
type DRAM struct {
	pageFetchLatency  uint64  // tRP + tRCD + tCL, in ticks
	bandwidth         float64 // bytes per tick: 2*busWidth*channels/8/tCK
	dramPageSize      uint64
	cacheCapacity     uint64
	cacheLatencyByte  uint64 // ticks per byte on a simple-cache hit

	cacheUsed uint64
	cache     []line

	lastAccess uint64 // serialization clock: see updateDelay
}

// New builds a DRAM model from the DRAMt* / DRAMBusWidth / DRAMChannels /
// DRAMPageSize / DRAMSimpleCacheSize configuration keys.
func New(cfg *config.Config) (*DRAM, error) {
	tRP, err := cfg.GetUint(config.KeyDRAMtRP)
	if err != nil {
		return nil, err
	}
	tRCD, err := cfg.GetUint(config.KeyDRAMtRCD)
	if err != nil {
		return nil, err
	}
	tCL, err := cfg.GetUint(config.KeyDRAMtCL)
	if err != nil {
		return nil, err
	}
	tCK, err := cfg.GetUint(config.KeyDRAMtCK)
	if err != nil {
		return nil, err
	}
	if tCK == 0 {
		return nil, fmt.Errorf("%w: DRAMtCK must be nonzero", simerr.ErrConfigInvalid)
	}
	busWidth, err := cfg.GetUint(config.KeyDRAMBusWidth)
	if err != nil {
		return nil, err
	}
	channels, err := cfg.GetUint(config.KeyDRAMChannels)
	if err != nil {
		return nil, err
	}
	pageSize, err := cfg.GetUint(config.KeyDRAMPageSize)
	if err != nil {
		return nil, err
	}
	if pageSize == 0 {
		return nil, fmt.Errorf("%w: DRAMPageSize must be nonzero", simerr.ErrConfigInvalid)
	}
	cacheCap, err := cfg.GetUint(config.KeyDRAMSimpleCache)
	if err != nil {
		return nil, err
	}

	return &DRAM{
		pageFetchLatency: tRP + tRCD + tCL,
		bandwidth:        2.0 * float64(busWidth) * float64(channels) / 8.0 / float64(tCK),
		dramPageSize:     pageSize,
		cacheCapacity:    cacheCap,
		cacheLatencyByte: 20,
	}, nil
}

// pageCount returns how many dramPageSize pages a size-byte transfer spans.
func (d *DRAM) pageCount(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size-1)/d.dramPageSize + 1
}

// fetchLatency computes the bandwidth-scaled bulk transfer latency for a
// cold access of size bytes, per spec.md §4.3's formula.
func (d *DRAM) fetchLatency(size uint64) uint64 {
	n := d.pageCount(size)
	return d.pageFetchLatency + uint64(float64(n)*float64(d.dramPageSize)/d.bandwidth)
}

// checkRead reports whether addr/size hits the simple cache, inserting or
// growing the tracked line as original_source/dram/simple.cc's checkRead.
func (d *DRAM) checkRead(addr, size uint64) bool {
	for i := range d.cache {
		if d.cache[i].addr != addr {
			continue
		}
		if size <= d.cache[i].size {
			return true
		}
		d.cacheUsed = d.cacheUsed - d.cache[i].size + size
		d.cache[i].size = size
		return false
	}
	d.insert(addr, size)
	return false
}

// checkWrite mirrors checkRead but always reports a hit once the line is
// installed — a write-allocate simple cache, per the original.
func (d *DRAM) checkWrite(addr, size uint64) bool {
	for i := range d.cache {
		if d.cache[i].addr != addr {
			continue
		}
		if size <= d.cache[i].size {
			return true
		}
		d.cacheUsed = d.cacheUsed - d.cache[i].size + size
		d.cache[i].size = size
		return true
	}
	d.insert(addr, size)
	return true
}

func (d *DRAM) insert(addr, size uint64) {
	for d.cacheUsed+size > d.cacheCapacity && len(d.cache) > 0 {
		d.cacheUsed -= d.cache[0].size
		d.cache = d.cache[1:]
	}
	d.cache = append(d.cache, line{addr: addr, size: size})
	d.cacheUsed += size
}

// updateDelay serializes this access behind every prior one: DRAM has one
// command bus, so back-to-back requests queue rather than overlap. nextStart
// advances to max(nextStart, tick), then the access finishes latency ticks
// later and nextStart becomes that finish tick.
func (d *DRAM) updateDelay(latency, tick uint64) uint64 {
	if d.lastAccess <= tick {
		d.lastAccess = tick
	}
	d.lastAccess += latency
	return d.lastAccess
}

// Read charges the fetch (or simple-cache hit) latency for a size-byte read
// at addr arriving at tick, returning the completion tick.
func (d *DRAM) Read(addr, size, tick uint64) uint64 {
	var latency uint64
	if d.checkRead(addr, size) {
		latency = d.cacheLatencyByte * size
	} else {
		latency = d.fetchLatency(size)
	}
	return d.updateDelay(latency, tick)
}

// Write charges the fetch (or simple-cache hit) latency for a size-byte
// write at addr arriving at tick, returning the completion tick.
func (d *DRAM) Write(addr, size, tick uint64) uint64 {
	var latency uint64
	if d.checkWrite(addr, size) {
		latency = d.cacheLatencyByte * size
	} else {
		latency = d.fetchLatency(size)
	}
	return d.updateDelay(latency, tick)
}
