// Package stats implements the Statistics module from spec.md §2/§4.5:
// monotonic per-operation counters plus a latency histogram, aggregated
// from every PAL operation and every GC event across a simulation run.
//
// Grounded on the teacher's mutex-guarded CacheStats/GetStats pattern: all
// counters live behind one mutex and Snapshot returns a value copy so
// callers never hold a reference into live state.
package stats

import (
	"math/bits"
	"sync"

	"github.com/SimonWaldherr/ssdsim/internal/latency"
)

// histogramBuckets is the number of power-of-two latency buckets spec.md
// §4.5 calls for: bucket i covers [2^(i-1), 2^i) picoseconds, with bucket 0
// reserved for a zero sample and the last bucket catching any overflow.
const histogramBuckets = 10

// Snapshot is a value copy of Stats' counters at one instant.
type Snapshot struct {
	Reads, Writes, Erases       uint64
	ChannelBusyTicks            uint64
	DieBusyTicks                uint64
	GCBlocksReclaimed           uint64
	RetiredBlocks               uint64
	Histogram                   [histogramBuckets]uint64
}

// Stats aggregates the counters spec.md §4.5 describes as "monotonic and
// never decremented". It implements pal.StatsSink.
type Stats struct {
	mu sync.Mutex

	reads, writes, erases uint64
	channelBusyTicks      uint64
	dieBusyTicks          uint64
	gcBlocksReclaimed     uint64
	retiredBlocks         uint64
	histogram             [histogramBuckets]uint64
}

// New returns a zeroed Stats.
func New() *Stats { return &Stats{} }

// RecordPALOp updates the per-op counters, channel/die busy ticks, and
// latency histogram for one completed PAL operation. Satisfies
// pal.StatsSink.
func (s *Stats) RecordPALOp(op latency.Op, channelBusyTicks, dieBusyTicks, sampleLatency uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch op {
	case latency.OpRead:
		s.reads++
	case latency.OpWrite:
		s.writes++
	case latency.OpErase:
		s.erases++
	}
	s.channelBusyTicks += channelBusyTicks
	s.dieBusyTicks += dieBusyTicks
	s.histogram[bucketOf(sampleLatency)]++
}

func bucketOf(sample uint64) int {
	if sample == 0 {
		return 0
	}
	idx := bits.Len64(sample)
	if idx >= histogramBuckets {
		return histogramBuckets - 1
	}
	return idx
}

// AddGCBlocksReclaimed increments the count of blocks GC returned to the
// free pool.
func (s *Stats) AddGCBlocksReclaimed(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcBlocksReclaimed += n
}

// AddRetiredBlock records one block crossing the bad-block erase threshold.
func (s *Stats) AddRetiredBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retiredBlocks++
}

// Snapshot returns a value copy of every counter.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Reads:             s.reads,
		Writes:            s.writes,
		Erases:            s.erases,
		ChannelBusyTicks:  s.channelBusyTicks,
		DieBusyTicks:      s.dieBusyTicks,
		GCBlocksReclaimed: s.gcBlocksReclaimed,
		RetiredBlocks:     s.retiredBlocks,
		Histogram:         s.histogram,
	}
}
