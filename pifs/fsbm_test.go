package pifs

import (
	"testing"

	"pifs/device"
)

func newTestFSBM(t *testing.T) (*fsbm, Geometry) {
	t.Helper()
	geo := testGeometry()
	dev, err := device.NewMemory(deviceGeometry(geo))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cache := newPageCache(dev, geo)
	base := Address{Block: geo.ReservedBlocks, Page: 0}
	return newFSBM(cache, geo, base), geo
}

// A fresh bitmap marks every page free, and a free page is never also
// reported as to-be-released (spec §8's "never the (1,0) state").
func TestFSBMFreshIsAllFree(t *testing.T) {
	b, geo := newTestFSBM(t)
	addr := Address{Block: geo.ReservedBlocks + 1, Page: 2}
	free, err := b.IsFree(addr)
	if err != nil {
		t.Fatalf("IsFree: %v", err)
	}
	if !free {
		t.Fatalf("fresh bitmap page should be free")
	}
	tbr, err := b.IsToBeReleased(addr)
	if err != nil {
		t.Fatalf("IsToBeReleased: %v", err)
	}
	if tbr {
		t.Fatalf("fresh bitmap page should not be to-be-released")
	}
}

func TestFSBMMarkUsedThenToBeReleased(t *testing.T) {
	b, geo := newTestFSBM(t)
	addr := Address{Block: geo.ReservedBlocks + 1, Page: 0}

	if err := b.MarkUsed(addr, 1); err != nil {
		t.Fatalf("MarkUsed: %v", err)
	}
	if free, _ := b.IsFree(addr); free {
		t.Fatalf("page marked used still reports free")
	}
	if err := b.MarkUsed(addr, 1); StatusOf(err) == StatusSuccess {
		t.Fatalf("marking an already-used page used again should fail")
	}

	if err := b.MarkToBeReleased(addr, 1); err != nil {
		t.Fatalf("MarkToBeReleased: %v", err)
	}
	tbr, err := b.IsToBeReleased(addr)
	if err != nil {
		t.Fatalf("IsToBeReleased: %v", err)
	}
	if !tbr {
		t.Fatalf("page marked to-be-released does not report so")
	}
	if err := b.MarkToBeReleased(addr, 1); StatusOf(err) == StatusSuccess {
		t.Fatalf("double-marking to-be-released should fail")
	}
}

func TestFSBMFindRunConfinesToOneBlock(t *testing.T) {
	b, geo := newTestFSBM(t)
	lpb := geo.LogicalPagesPerBlock()
	start := geo.ReservedBlocks + 1

	// Exhaust every page of the first data block entirely.
	for p := PageAddress(0); p < lpb; p++ {
		if err := b.MarkUsed(Address{Block: start, Page: p}, 1); err != nil {
			t.Fatalf("MarkUsed warm-up page %d: %v", p, err)
		}
	}

	anyBlock := func(uint16) bool { return true }
	addr, n, err := b.FindRun(true, 1, 4, start, anyBlock)
	if err != nil {
		t.Fatalf("FindRun: %v", err)
	}
	if addr.Block != start+1 {
		t.Fatalf("FindRun did not move on to the next block once the first was exhausted: got %s", addr)
	}
	if n == 0 {
		t.Fatalf("FindRun returned a zero-length run")
	}
	if uint32(addr.Page)+uint32(n) > uint32(lpb) {
		t.Fatalf("FindRun returned a run crossing the block boundary: %s + %d pages", addr, n)
	}
}
