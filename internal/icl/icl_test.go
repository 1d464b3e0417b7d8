package icl

import (
	"testing"

	"github.com/SimonWaldherr/ssdsim/internal/config"
	"github.com/SimonWaldherr/ssdsim/internal/dram"
	"github.com/SimonWaldherr/ssdsim/internal/ftl"
	"github.com/SimonWaldherr/ssdsim/internal/geometry"
	"github.com/SimonWaldherr/ssdsim/internal/latency"
	"github.com/SimonWaldherr/ssdsim/internal/pal"
	"github.com/SimonWaldherr/ssdsim/internal/stats"
	"github.com/SimonWaldherr/ssdsim/internal/tracelog"
)

func newTestICL(t *testing.T, cacheSize, waySize uint64, policy string) (*ICL, *ftl.FTL) {
	t.Helper()
	cfg := config.Default()
	cfg.Set(config.KeyChannel, "2")
	cfg.Set(config.KeyPackage, "1")
	cfg.Set(config.KeyDie, "1")
	cfg.Set(config.KeyPlane, "1")
	cfg.Set(config.KeyBlock, "4")
	cfg.Set(config.KeyPage, "4")
	cfg.Set(config.KeyPageSize, "4096")
	cfg.Set(config.KeyLBASize, "4096")
	cfg.Set(config.KeyIOUnitSize, "4096")
	cfg.Set(config.KeyPageAllocation, "CWDP")
	cfg.Set(config.KeySuperblockSize, "CWD")
	cfg.Set(config.KeyNANDType, "SLC")
	cfg.Set(config.KeyDMASpeed, "100")
	cfg.Set(config.KeyDMAWidth, "8")
	cfg.Set(config.KeyGCThreshold, "0")
	cfg.Set(config.KeyGCReclaimThreshold, "0")
	cfg.Set(config.KeyGCReclaimBlocks, "1")
	cfg.Set(config.KeyGCEvictPolicy, "GREEDY")
	cfg.Set(config.KeyEraseThreshold, "3000")
	cfg.Set(config.KeyCacheSize, itoa(cacheSize))
	cfg.Set(config.KeyWaySize, itoa(waySize))
	cfg.Set(config.KeyEvictPolicy, policy)
	cfg.Set(config.KeyUseReadCache, "true")
	cfg.Set(config.KeyUseWriteCache, "true")
	cfg.Set(config.KeyUseReadPrefetch, "false")
	cfg.Set(config.KeyPrefetchCount, "2")
	cfg.Set(config.KeyPrefetchRatio, "2")

	geo, err := geometry.New(cfg)
	if err != nil {
		t.Fatalf("geometry.New: %v", err)
	}
	tbl := latency.NewTable(latency.SLC, 100, 8)
	st := stats.New()
	p := pal.New(tbl, st)
	lg := tracelog.Discard("icl")

	f, err := ftl.New(cfg, geo, p, st, lg)
	if err != nil {
		t.Fatalf("ftl.New: %v", err)
	}
	d, err := dram.New(cfg)
	if err != nil {
		t.Fatalf("dram.New: %v", err)
	}
	c, err := New(cfg, geo, f, d, lg)
	if err != nil {
		t.Fatalf("icl.New: %v", err)
	}
	return c, f
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestWriteHitsEmptyWayThenReadHits(t *testing.T) {
	c, _ := newTestICL(t, 4, 4, "LRU")
	t1, err := c.Write(5, 1)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	t2, err := c.Read(0, 5, 0, 0, t1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if t2 < t1 {
		t.Fatalf("read completion %d must not precede write completion %d", t2, t1)
	}
}

func TestReadMissInstallsCleanLine(t *testing.T) {
	c, f := newTestICL(t, 4, 4, "LRU")
	if _, err := f.Write(7, 1, 0); err != nil {
		t.Fatalf("seed write: %v", err)
	}
	t1, err := c.Read(0, 7, 0, 0, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	s := c.setFor(7)
	way := s.find(7)
	if way < 0 {
		t.Fatal("expected line installed after read miss")
	}
	if s.ways[way].dirty {
		t.Fatal("read-miss install must be clean, not dirty")
	}
	t2, err := c.Read(0, 7, 0, 0, t1)
	if err != nil {
		t.Fatalf("Read (hit): %v", err)
	}
	if t2 < t1 {
		t.Fatalf("hit completion %d must not precede miss completion %d", t2, t1)
	}
}

func TestFullSetWriteMissEvictsDirtyLine(t *testing.T) {
	c, f := newTestICL(t, 1, 1, "FIFO")
	t1, err := c.Write(1, 0)
	if err != nil {
		t.Fatalf("Write(1): %v", err)
	}
	t2, err := c.Write(2, t1)
	if err != nil {
		t.Fatalf("Write(2): %v", err)
	}
	if t2 < t1 {
		t.Fatal("eviction write must not complete before the arrival it was issued at")
	}
	if _, _, _, ok := f.Lookup(1); !ok {
		t.Fatal("evicted dirty line should have been flushed to the FTL")
	}
	s := c.setFor(2)
	if way := s.find(2); way < 0 {
		t.Fatal("new line should be installed after eviction")
	}
}

func TestTrimDropsLineAndUnmaps(t *testing.T) {
	c, f := newTestICL(t, 4, 4, "LRU")
	if _, err := c.Write(3, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := c.Trim(3, 0); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	s := c.setFor(3)
	if way := s.find(3); way >= 0 {
		t.Fatal("trim should drop the cache line")
	}
	if _, _, _, ok := f.Lookup(3); ok {
		t.Fatal("trim should remove the FTL mapping")
	}
}

func TestFormatDropsRangeAndUnmaps(t *testing.T) {
	c, f := newTestICL(t, 4, 4, "LRU")
	for _, lpn := range []uint64{0, 1, 2} {
		if _, err := c.Write(lpn, 0); err != nil {
			t.Fatalf("Write(%d): %v", lpn, err)
		}
		// Write-back cache: the FTL only sees the LPN once it is flushed.
		if _, err := c.Flush(lpn, 0); err != nil {
			t.Fatalf("Flush(%d): %v", lpn, err)
		}
	}
	if _, err := c.Format(0, 2, 0); err != nil {
		t.Fatalf("Format: %v", err)
	}
	for _, lpn := range []uint64{0, 1} {
		if _, _, _, ok := f.Lookup(lpn); ok {
			t.Fatalf("LPN %d should be unmapped after format", lpn)
		}
	}
	if _, _, _, ok := f.Lookup(2); !ok {
		t.Fatal("LPN 2 is outside the formatted range and should remain mapped")
	}
}
