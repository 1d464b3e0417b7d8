package stats

import "github.com/SimonWaldherr/ssdsim/internal/latency"
import "testing"

func TestRecordPALOpCounts(t *testing.T) {
	s := New()
	s.RecordPALOp(latency.OpRead, 100, 200, 50)
	s.RecordPALOp(latency.OpWrite, 100, 200, 50)
	s.RecordPALOp(latency.OpWrite, 100, 200, 50)

	snap := s.Snapshot()
	if snap.Reads != 1 || snap.Writes != 2 || snap.Erases != 0 {
		t.Fatalf("unexpected op counts: %+v", snap)
	}
	if snap.ChannelBusyTicks != 300 || snap.DieBusyTicks != 600 {
		t.Fatalf("unexpected busy ticks: %+v", snap)
	}
}

func TestCountersAreMonotonic(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.RecordPALOp(latency.OpRead, 1, 1, 1)
	}
	first := s.Snapshot().Reads
	s.RecordPALOp(latency.OpRead, 1, 1, 1)
	second := s.Snapshot().Reads
	if second <= first {
		t.Fatalf("counters must never decrease: first=%d second=%d", first, second)
	}
}

func TestHistogramBucketsBySampleMagnitude(t *testing.T) {
	s := New()
	s.RecordPALOp(latency.OpRead, 0, 0, 0)
	s.RecordPALOp(latency.OpRead, 0, 0, 1)
	s.RecordPALOp(latency.OpRead, 0, 0, 1000)

	snap := s.Snapshot()
	if snap.Histogram[0] != 1 {
		t.Fatalf("zero sample should land in bucket 0, got %v", snap.Histogram)
	}
	total := uint64(0)
	for _, c := range snap.Histogram {
		total += c
	}
	if total != 3 {
		t.Fatalf("histogram total = %d, want 3", total)
	}
}

func TestGCAndRetiredCounters(t *testing.T) {
	s := New()
	s.AddGCBlocksReclaimed(3)
	s.AddRetiredBlock()
	snap := s.Snapshot()
	if snap.GCBlocksReclaimed != 3 || snap.RetiredBlocks != 1 {
		t.Fatalf("unexpected: %+v", snap)
	}
}
