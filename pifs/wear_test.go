package pifs

import (
	"testing"

	"pifs/device"
)

func newTestWearList(t *testing.T) (*wearList, Geometry) {
	t.Helper()
	geo := testGeometry()
	dev, err := device.NewMemory(deviceGeometry(geo))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cache := newPageCache(dev, geo)
	base := Address{Block: geo.ReservedBlocks, Page: 0}
	w := newWearList(cache, geo, base)
	// A raw erased device reads back as Cntr=0xFFFF, Bits=0xFF; real
	// mounts only ever see a wear list Format already zeroed, so do
	// the same here before testing against it.
	for i := uint16(0); i < geo.FSBlocks(); i++ {
		block := geo.ReservedBlocks + i
		if err := w.write(block, wearLevelEntry{}); err != nil {
			t.Fatalf("zeroing block %d: %v", block, err)
		}
	}
	return w, geo
}

func TestWearIncTicksThenRequiresFold(t *testing.T) {
	w, geo := newTestWearList(t)
	block := geo.ReservedBlocks + 1

	wear, err := w.Get(block)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if wear != 0 {
		t.Fatalf("fresh wear list should start at 0, got %d", wear)
	}

	for i := 0; i < 8; i++ {
		if err := w.Inc(block); err != nil {
			t.Fatalf("Inc %d: %v", i, err)
		}
	}
	wear, err = w.Get(block)
	if err != nil {
		t.Fatalf("Get after 8 ticks: %v", err)
	}
	if wear != 8 {
		t.Fatalf("wear after 8 ticks = %d, want 8", wear)
	}

	if err := w.Inc(block); err == nil {
		t.Fatalf("9th Inc without a fold should fail, the tick bits are exhausted")
	}

	folded, err := w.Fold(block)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	if folded.Cntr != 8 || folded.Bits != 0 {
		t.Fatalf("Fold = %+v, want Cntr=8 Bits=0", folded)
	}
}

func TestWearRankedAscending(t *testing.T) {
	w, geo := newTestWearList(t)
	target := geo.ReservedBlocks + 3
	for i := 0; i < 3; i++ {
		if err := w.Inc(target); err != nil {
			t.Fatalf("Inc: %v", err)
		}
	}
	ranked, err := w.Ranked()
	if err != nil {
		t.Fatalf("Ranked: %v", err)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Wear < ranked[i-1].Wear {
			t.Fatalf("Ranked is not ascending at index %d: %+v", i, ranked)
		}
	}
	most := ranked[len(ranked)-1]
	if most.Block != target || most.Wear != 3 {
		t.Fatalf("most-weared entry = %+v, want block=%d wear=3", most, target)
	}
}

func TestNeedsStaticLeveling(t *testing.T) {
	cfg := DefaultConfig(testGeometry())
	cfg.StaticWearLevelLimit = 5

	if NeedsStaticLeveling(cfg, 0, 3, 0) {
		t.Fatalf("spread of 3 should not trigger leveling with a limit of 5")
	}
	if !NeedsStaticLeveling(cfg, 0, 10, 0) {
		t.Fatalf("spread of 10 should trigger leveling with a limit of 5")
	}
	if NeedsStaticLeveling(cfg, 0, 10, 1) {
		t.Fatalf("leveling should not trigger while the least-worn block still has free pages")
	}
}
