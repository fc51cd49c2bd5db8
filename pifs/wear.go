package pifs

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// wearList is the on-flash per-block erase-count table (spec §3
// "Wear-level entry", §4.9 "Wear-leveling"). Effective wear of a block
// is Cntr + popcount(Bits): every erase flips one more tick bit from
// erased to programmed without needing its own erase, and a merge
// folds the tick bits into Cntr (see Fold) so Inc can keep ticking.
// Grounded on
// original_source/Src/pifs_wear.c (pifs_inc_wear_level,
// pifs_get_least_weared_blocks, pifs_static_wear_leveling).
type wearList struct {
	cache *pageCache
	geo   Geometry
	base  Address
	fs    Geometry // unused; FSBlocks() is taken from geo
}

func newWearList(cache *pageCache, geo Geometry, base Address) *wearList {
	return &wearList{cache: cache, geo: geo, base: base}
}

func (w *wearList) slotAddr(block uint16) (Address, uint32) {
	idx := int(block - w.geo.ReservedBlocks)
	entrySize := binary.Size(wearLevelEntry{})
	perPage := int(w.geo.LogicalPageBytes) / entrySize
	pageIdx := idx / perPage
	within := idx % perPage
	addr, _ := addAddress(w.geo, w.base, uint32(pageIdx))
	return addr, uint32(within * entrySize)
}

func (w *wearList) read(block uint16) (wearLevelEntry, error) {
	addr, off := w.slotAddr(block)
	entrySize := binary.Size(wearLevelEntry{})
	buf := make([]byte, entrySize)
	if err := w.cache.Read(addr, off, buf); err != nil {
		return wearLevelEntry{}, err
	}
	var e wearLevelEntry
	_ = binary.Read(bytes.NewReader(buf), binary.LittleEndian, &e)
	return e, nil
}

func (w *wearList) write(block uint16, e wearLevelEntry) error {
	addr, off := w.slotAddr(block)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &e)
	return w.cache.Write(addr, off, buf.Bytes())
}

// Get returns the effective erase count for block.
func (w *wearList) Get(block uint16) (uint32, error) {
	e, err := w.read(block)
	if err != nil {
		return 0, err
	}
	return uint32(e.Cntr) + uint32(popcount8(e.Bits)), nil
}

// Inc bumps block's wear by one. It flips the lowest still-erased tick
// bit (a monotonic 1->0 flip, needing no erase); when all eight tick
// bits are programmed, the caller must fold them into Cntr during the
// next merge (see Fold) before Inc can be called again.
func (w *wearList) Inc(block uint16) error {
	e, err := w.read(block)
	if err != nil {
		return err
	}
	if e.Bits == 0xFF {
		return newStatusErrorf(StatusInternalRange, "wear ticks for block %d are exhausted, merge required", block)
	}
	for bit := uint8(0); bit < 8; bit++ {
		if e.Bits&(1<<bit) == 0 {
			e.Bits |= 1 << bit
			return w.write(block, e)
		}
	}
	return newStatusErrorf(StatusInternalRange, "wear ticks for block %d are exhausted, merge required", block)
}

// Fold collapses a block's tick bits into Cntr, called while rewriting
// the wear list afresh during a merge (the new area starts erased, so
// Cntr can simply be reprogrammed to the folded value and Bits to 0).
func (w *wearList) Fold(block uint16) (wearLevelEntry, error) {
	e, err := w.read(block)
	if err != nil {
		return wearLevelEntry{}, err
	}
	folded := wearLevelEntry{Cntr: e.Cntr + uint16(popcount8(e.Bits)), Bits: 0}
	return folded, nil
}

type blockWear struct {
	Block uint16
	Wear  uint32
}

// Ranked returns every FS block's wear, ascending.
func (w *wearList) Ranked() ([]blockWear, error) {
	fsBlocks := w.geo.FSBlocks()
	out := make([]blockWear, 0, fsBlocks)
	for i := uint16(0); i < fsBlocks; i++ {
		block := w.geo.ReservedBlocks + i
		wear, err := w.Get(block)
		if err != nil {
			return nil, err
		}
		out = append(out, blockWear{Block: block, Wear: wear})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wear < out[j].Wear })
	return out, nil
}

// LeastWeared returns the n least-worn blocks, ascending.
func (w *wearList) LeastWeared(n int) ([]blockWear, error) {
	ranked, err := w.Ranked()
	if err != nil {
		return nil, err
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n], nil
}

// MostWeared returns the n most-worn blocks, descending.
func (w *wearList) MostWeared(n int) ([]blockWear, error) {
	ranked, err := w.Ranked()
	if err != nil {
		return nil, err
	}
	out := make([]blockWear, len(ranked))
	for i, r := range ranked {
		out[len(ranked)-1-i] = r
	}
	if n > len(out) {
		n = len(out)
	}
	return out[:n], nil
}

// NeedsStaticLeveling reports whether the spread between the least and
// most worn blocks exceeds the configured limit while the least-worn
// block has no free pages left to absorb ordinary allocation (spec
// §4.9's "static wear-leveling" trigger).
func NeedsStaticLeveling(cfg Config, leastWear, mostWear uint32, leastFreePages uint16) bool {
	if leastFreePages > 0 {
		return false
	}
	if mostWear <= leastWear {
		return false
	}
	return mostWear-leastWear > uint32(cfg.StaticWearLevelLimit)
}
