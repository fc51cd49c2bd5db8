package pifs

import (
	"testing"

	"pifs/device"
)

func newTestDeltaMap(t *testing.T) (*deltaMap, Geometry) {
	t.Helper()
	geo := testGeometry()
	dev, err := device.NewMemory(deviceGeometry(geo))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cache := newPageCache(dev, geo)
	base := Address{Block: geo.ReservedBlocks, Page: 0}
	return newDeltaMap(cache, geo, base, 1, geo.ErasedByte), geo
}

// Resolving an address with no delta entry returns it unchanged.
func TestDeltaResolveIdentityWhenAbsent(t *testing.T) {
	d, geo := newTestDeltaMap(t)
	orig := Address{Block: geo.ReservedBlocks + 1, Page: 0}
	got, err := d.Resolve(orig)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != orig {
		t.Fatalf("Resolve with no entries changed the address: got %s want %s", got, orig)
	}
}

// Resolution follows the most recently appended matching entry (spec
// §8's "most-recent matching entry" invariant).
func TestDeltaResolveLastMatchWins(t *testing.T) {
	d, geo := newTestDeltaMap(t)
	orig := Address{Block: geo.ReservedBlocks + 1, Page: 0}
	d1 := Address{Block: geo.ReservedBlocks + 1, Page: 1}
	d2 := Address{Block: geo.ReservedBlocks + 1, Page: 2}

	if err := d.Append(orig, d1); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	got, err := d.Resolve(orig)
	if err != nil {
		t.Fatalf("Resolve after first delta: %v", err)
	}
	if got != d1 {
		t.Fatalf("Resolve = %s, want %s", got, d1)
	}

	if err := d.Append(orig, d2); err != nil {
		t.Fatalf("Append 2: %v", err)
	}
	got, err = d.Resolve(orig)
	if err != nil {
		t.Fatalf("Resolve after second delta: %v", err)
	}
	if got != d2 {
		t.Fatalf("Resolve = %s, want most recent %s", got, d2)
	}
}

// Appending past capacity reports StatusDeltaMapFull rather than
// silently overwriting or corrupting an existing slot.
func TestDeltaAppendFullReturnsStatus(t *testing.T) {
	d, geo := newTestDeltaMap(t)
	entriesPerPage := deltaEntriesPerPage(geo.LogicalPageBytes)
	capacity := entriesPerPage * 1 // d was built with pages=1

	for i := 0; i < capacity; i++ {
		orig := Address{Block: geo.ReservedBlocks + 1, Page: PageAddress(i % 8)}
		delta := Address{Block: geo.ReservedBlocks + 2, Page: PageAddress(i % 8)}
		if err := d.Append(orig, delta); err != nil {
			t.Fatalf("Append %d/%d: %v", i, capacity, err)
		}
	}
	overflow := Address{Block: geo.ReservedBlocks + 3, Page: 0}
	if err := d.Append(overflow, overflow); StatusOf(err) != StatusDeltaMapFull {
		t.Fatalf("expected StatusDeltaMapFull once capacity is exhausted, got %v", err)
	}
}
