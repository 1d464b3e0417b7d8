package geometry

import "testing"

import "github.com/SimonWaldherr/ssdsim/internal/config"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.Default()
	c.Set(config.KeyChannel, "2")
	c.Set(config.KeyPackage, "1")
	c.Set(config.KeyDie, "1")
	c.Set(config.KeyPlane, "1")
	c.Set(config.KeyBlock, "4")
	c.Set(config.KeyPage, "4")
	c.Set(config.KeyPageSize, "4096")
	c.Set(config.KeyLBASize, "4096")
	c.Set(config.KeyIOUnitSize, "4096")
	c.Set(config.KeyPageAllocation, "CWDP")
	c.Set(config.KeySuperblockSize, "C")
	return c
}

func TestLinearIndexRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.Set(config.KeyChannel, "4")
	cfg.Set(config.KeyPackage, "2")
	cfg.Set(config.KeyDie, "2")
	cfg.Set(config.KeyPlane, "2")
	cfg.Set(config.KeyPageAllocation, "CWDP")

	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	for ch := uint32(0); ch < g.Channel; ch++ {
		for pk := uint32(0); pk < g.Package; pk++ {
			for d := uint32(0); d < g.Die; d++ {
				for p := uint32(0); p < g.Plane; p++ {
					addr := PPN{Channel: ch, Package: pk, Die: d, Plane: p}
					idx := g.LinearIndex(addr)
					back := g.FromLinearIndex(idx)
					if back != addr {
						t.Fatalf("round trip mismatch: %+v -> %d -> %+v", addr, idx, back)
					}
				}
			}
		}
	}
}

func TestSuperpageWidthAndDieSlotCount(t *testing.T) {
	g, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	// SuperblockSize="C" with Channel=2: superpage spans both channels.
	if got := g.SuperpageWidth(); got != 2 {
		t.Fatalf("SuperpageWidth() = %d, want 2", got)
	}
	if got := g.DieSlotCount(); got != 1 {
		t.Fatalf("DieSlotCount() = %d, want 1 (Package=Die=Plane=1)", got)
	}
}

func TestSuperpageEnumeratesEveryMaskedCombination(t *testing.T) {
	g, err := New(testConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	pages := g.Superpage(0, 2, 3)
	if len(pages) != 2 {
		t.Fatalf("Superpage() len = %d, want 2", len(pages))
	}
	seen := map[uint32]bool{}
	for _, p := range pages {
		if p.Block != 2 || p.Page != 3 {
			t.Fatalf("Superpage() member has wrong block/page: %+v", p)
		}
		seen[p.Channel] = true
	}
	if !seen[0] || !seen[1] {
		t.Fatalf("Superpage() did not cover both channels: %v", pages)
	}
}

func TestMultiPlaneForcesLeftmostStripe(t *testing.T) {
	cfg := config.Default()
	cfg.Set(config.KeyChannel, "1")
	cfg.Set(config.KeyPackage, "1")
	cfg.Set(config.KeyDie, "1")
	cfg.Set(config.KeyPlane, "2")
	cfg.Set(config.KeyPageAllocation, "CWDP")
	cfg.Set(config.KeySuperblockSize, "C")
	cfg.Set(config.KeyEnableMultiPlaneOperation, "true")

	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.superblockDims) == 0 || g.superblockDims[0] != 'P' {
		t.Fatalf("MultiPlane should force P to the front of superblockDims, got %v", g.superblockDims)
	}
}

func TestInvalidGeometryRejected(t *testing.T) {
	cfg := config.Default()
	cfg.Set(config.KeyPageAllocation, "CWD")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for malformed PageAllocation")
	}
}
