// Package pal implements the PAL timeline scheduler module from spec.md
// §2/§4.1: per-channel and per-die busy-interval timelines on which NAND
// read/write/erase operations are placed at the earliest legal tick,
// subject to channel-DMA and die-memory serialization.
//
// Grounded on internal/storage/freelist.go's free-slot reuse idiom (there:
// reusing released page slots; here: reusing gaps between busy intervals)
// and on the arena-of-nodes-by-ID shape spec.md's Design Notes call for —
// timelines are arenas of non-overlapping intervals, never individually
// freed, with FlushTimeSlots dropping a prefix atomically.
package pal

import (
	"sort"
	"sync"

	"github.com/SimonWaldherr/ssdsim/internal/latency"
)

// StatsSink receives a record of every completed PAL operation. Defined
// here rather than imported from a stats package so PAL stays the owner of
// its own statistics contract (spec.md §9: "PAL owns its statistics; the
// FTL receives a reference ... via a trait-like capability bundle rather
// than a raw pointer").
type StatsSink interface {
	RecordPALOp(op latency.Op, channelBusyTicks, dieBusyTicks, sampleLatency uint64)
}

// interval is a closed-open busy slot [start, finish) on one timeline.
type interval struct {
	start, finish uint64
}

// timeline is the doubly-ordered arena of busy intervals for one channel or
// die: a slice kept sorted by start tick, which — because intervals are
// pairwise non-overlapping — is also sorted by finish tick. That lets
// FlushTimeSlots binary-search the prefix to drop instead of scanning.
type timeline struct {
	slots []interval
}

// earliestSlot finds the smallest start >= after such that [start,
// start+length) does not overlap any existing slot, preferring gaps between
// slots over appending past the rightmost one (spec.md §4.1 step 2: "consult
// the free-slot index, then fall back to after the rightmost slot").
func (tl *timeline) earliestSlot(after, length uint64) uint64 {
	candidate := after
	for _, s := range tl.slots {
		if candidate+length <= s.start {
			return candidate
		}
		if candidate < s.finish {
			candidate = s.finish
		}
	}
	return candidate
}

// insert places a new non-overlapping slot, keeping tl.slots sorted by
// start.
func (tl *timeline) insert(start, finish uint64) {
	idx := sort.Search(len(tl.slots), func(i int) bool { return tl.slots[i].start >= start })
	tl.slots = append(tl.slots, interval{})
	copy(tl.slots[idx+1:], tl.slots[idx:])
	tl.slots[idx] = interval{start: start, finish: finish}
}

// flushBefore drops every leading slot whose finish lies at or below
// currentTick.
func (tl *timeline) flushBefore(currentTick uint64) {
	cut := sort.Search(len(tl.slots), func(i int) bool { return tl.slots[i].finish > currentTick })
	if cut == 0 {
		return
	}
	tl.slots = tl.slots[cut:]
}

// PAL is the parallel access layer: one busy timeline per channel index and
// one per die index, scheduled from a shared NAND latency table.
type PAL struct {
	mu    sync.Mutex
	table *latency.Table
	sink  StatsSink

	channels map[uint64]*timeline
	dies     map[uint64]*timeline
}

// New builds a PAL over table. sink may be nil, in which case operations
// are scheduled but not recorded anywhere.
func New(table *latency.Table, sink StatsSink) *PAL {
	return &PAL{
		table:    table,
		sink:     sink,
		channels: make(map[uint64]*timeline),
		dies:     make(map[uint64]*timeline),
	}
}

func (p *PAL) channelTimeline(id uint64) *timeline {
	tl, ok := p.channels[id]
	if !ok {
		tl = &timeline{}
		p.channels[id] = tl
	}
	return tl
}

func (p *PAL) dieTimeline(id uint64) *timeline {
	tl, ok := p.dies[id]
	if !ok {
		tl = &timeline{}
		p.dies[id] = tl
	}
	return tl
}

func occupy(tl *timeline, after, length uint64) uint64 {
	start := tl.earliestSlot(after, length)
	finish := start + length
	tl.insert(start, finish)
	return finish
}

// Submit schedules one NAND operation and returns its completion tick.
// channel and die identify the timelines to use (see geometry.ChannelID /
// geometry.DieID); pageType selects the MEM-phase duration. Per spec.md
// §4.1 step 1, phase order depends on op kind:
//
//	read  = DMA0 (channel) -> MEM (die) -> DMA1 (channel)
//	write = DMA0 (channel) -> DMA1 (channel) -> MEM (die)
//	erase = DMA0 (channel) -> MEM (die)
//
// No PAL operation ever fails; timing is always computable.
func (p *PAL) Submit(op latency.Op, channel, die uint64, pageType latency.PageType, arrival uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	dma0, dma1, mem := p.table.Lookup(op, pageType)
	chTL := p.channelTimeline(channel)
	dieTL := p.dieTimeline(die)

	var finish uint64
	var channelBusy, dieBusy uint64

	switch op {
	case latency.OpRead:
		t1 := occupy(chTL, arrival, dma0)
		t2 := occupy(dieTL, t1, mem)
		t3 := occupy(chTL, t2, dma1)
		finish = t3
		channelBusy = dma0 + dma1
		dieBusy = mem
	case latency.OpWrite:
		t1 := occupy(chTL, arrival, dma0)
		t2 := occupy(chTL, t1, dma1)
		t3 := occupy(dieTL, t2, mem)
		finish = t3
		channelBusy = dma0 + dma1
		dieBusy = mem
	case latency.OpErase:
		t1 := occupy(chTL, arrival, dma0)
		t2 := occupy(dieTL, t1, mem)
		finish = t2
		channelBusy = dma0
		dieBusy = mem
	default:
		finish = arrival
	}

	if p.sink != nil {
		p.sink.RecordPALOp(op, channelBusy, dieBusy, finish-arrival)
	}
	return finish
}

// FlushTimeSlots drops every timeline's leading run of slots whose finish
// tick lies at or below currentTick, per spec.md's "Timeline slots are
// appended on every PAL submit and periodically garbage-collected
// (FlushTimeSlots) once their end lies below the current simulated time."
func (p *PAL) FlushTimeSlots(currentTick uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tl := range p.channels {
		tl.flushBefore(currentTick)
	}
	for _, tl := range p.dies {
		tl.flushBefore(currentTick)
	}
}
