package pifs

// Free-space bitmap: two bits per logical page of the FS area (spec
// §3 "Free-space bitmap", §4.3). Grounded on
// original_source/Src/pifs_fsbm.c (pifs_mark_page, pifs_find_page_adv,
// pifs_get_pages).

type fsbm struct {
	cache *pageCache
	geo   Geometry
	base  Address
}

func newFSBM(cache *pageCache, geo Geometry, base Address) *fsbm {
	return &fsbm{cache: cache, geo: geo, base: base}
}

// bitPos is spec §4.3's formula: ((block-reserved)*logicalPagesPerBlock+page)*2.
func (f *fsbm) bitPos(addr Address) uint32 {
	lpb := uint32(f.geo.LogicalPagesPerBlock())
	return (uint32(addr.Block-f.geo.ReservedBlocks)*lpb + uint32(addr.Page)) * 2
}

func (f *fsbm) locate(bitPos uint32) (pageAddr Address, byteOffset uint32, bitInByte uint8, err error) {
	bytePos := bitPos / 8
	bitInByte = uint8(bitPos % 8)
	pageIndex := bytePos / f.geo.LogicalPageBytes
	byteOffset = bytePos % f.geo.LogicalPageBytes
	pageAddr, err = addAddress(f.geo, f.base, pageIndex)
	return
}

func (f *fsbm) readByte(addr Address) (byte, error) {
	bitPos := f.bitPos(addr)
	pageAddr, byteOffset, _, err := f.locate(bitPos)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	if err := f.cache.Read(pageAddr, byteOffset, buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (f *fsbm) writeByte(addr Address, value byte) error {
	bitPos := f.bitPos(addr)
	pageAddr, byteOffset, _, err := f.locate(bitPos)
	if err != nil {
		return err
	}
	return f.cache.Write(pageAddr, byteOffset, []byte{value})
}

// bit0 = free (1=free,0=used); bit1 = not-to-be-released (1=ok,0=TBR).
func fsbmBits(b byte, bitInByte uint8) (bit0, bit1 bool) {
	bit0 = b&(1<<bitInByte) != 0
	shifted := bitInByte + 1
	if shifted < 8 {
		bit1 = b&(1<<shifted) != 0
	}
	return
}

// IsFree reports whether addr's page is in the "free" state (1,1).
func (f *fsbm) IsFree(addr Address) (bool, error) {
	bitPos := f.bitPos(addr)
	_, _, bitInByte, err := f.locate(bitPos)
	if err != nil {
		return false, err
	}
	b, err := f.readByte(addr)
	if err != nil {
		return false, err
	}
	bit0, bit1 := fsbmBits(b, bitInByte)
	return bit0 && bit1, nil
}

// IsToBeReleased reports whether addr's page is in the TBR state (0,0).
func (f *fsbm) IsToBeReleased(addr Address) (bool, error) {
	bitPos := f.bitPos(addr)
	_, _, bitInByte, err := f.locate(bitPos)
	if err != nil {
		return false, err
	}
	b, err := f.readByte(addr)
	if err != nil {
		return false, err
	}
	bit0, bit1 := fsbmBits(b, bitInByte)
	return !bit0 && !bit1, nil
}

func (f *fsbm) clearBit(addr Address, which uint8) error {
	bitPos := f.bitPos(addr) + uint32(which)
	pageAddr, byteOffset, bitInByte, err := f.locate(bitPos)
	if err != nil {
		return err
	}
	buf := make([]byte, 1)
	if err := f.cache.Read(pageAddr, byteOffset, buf); err != nil {
		return err
	}
	buf[0] &^= 1 << bitInByte
	return f.cache.Write(pageAddr, byteOffset, buf)
}

// MarkUsed clears bit 0 (free -> used). Every transition is a
// monotonic 1->0 flip, so it never requires an erase.
func (f *fsbm) MarkUsed(addr Address, count uint16) error {
	cur := addr
	for i := uint16(0); i < count; i++ {
		free, err := f.IsFree(cur)
		if err != nil {
			return err
		}
		if !free {
			return newStatusErrorf(StatusInternalRange, "mark used: page %s is not free", cur)
		}
		if err := f.clearBit(cur, 0); err != nil {
			return err
		}
		if i+1 < count {
			cur, err = incAddress(f.geo, cur)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// MarkToBeReleased clears bit 1 (used -> TBR).
func (f *fsbm) MarkToBeReleased(addr Address, count uint16) error {
	cur := addr
	for i := uint16(0); i < count; i++ {
		free, err := f.IsFree(cur)
		if err != nil {
			return err
		}
		if free {
			return newStatusErrorf(StatusInternalRange, "mark TBR: page %s is free", cur)
		}
		tbr, err := f.IsToBeReleased(cur)
		if err != nil {
			return err
		}
		if tbr {
			return newStatusErrorf(StatusInternalRange, "mark TBR: page %s is already TBR", cur)
		}
		if err := f.clearBit(cur, 1); err != nil {
			return err
		}
		if i+1 < count {
			cur, err = incAddress(f.geo, cur)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// blockPredicate selects which blocks a run search may use.
type blockPredicate func(block uint16) bool

// FindRun scans for a run of `desired` (at least `min`) consecutive
// pages, all free (wantFree) or all TBR, confined to one block and
// satisfying pred, starting the scan at startBlock.
func (f *fsbm) FindRun(wantFree bool, min, desired uint16, startBlock uint16, pred blockPredicate) (Address, uint16, error) {
	if desired < min {
		desired = min
	}
	for block := startBlock; block < f.geo.Blocks; block++ {
		if !pred(block) {
			continue
		}
		addr, n, ok := f.scanBlock(block, wantFree, min, desired)
		if ok {
			return addr, n, nil
		}
	}
	// wrap around to the beginning of the FS region if we started mid-way
	for block := f.geo.ReservedBlocks; block < startBlock; block++ {
		if !pred(block) {
			continue
		}
		addr, n, ok := f.scanBlock(block, wantFree, min, desired)
		if ok {
			return addr, n, nil
		}
	}
	return Address{}, 0, newStatusError(StatusNoMoreSpace, "no run of required size found")
}

func (f *fsbm) scanBlock(block uint16, wantFree bool, min, desired uint16) (Address, uint16, bool) {
	var runStart PageAddress
	var runLen uint16
	lpb := f.geo.LogicalPagesPerBlock()
	for page := PageAddress(0); page < lpb; page++ {
		addr := Address{Block: block, Page: page}
		var ok bool
		var err error
		if wantFree {
			ok, err = f.IsFree(addr)
		} else {
			ok, err = f.IsToBeReleased(addr)
		}
		if err != nil {
			return Address{}, 0, false
		}
		if ok {
			if runLen == 0 {
				runStart = page
			}
			runLen++
			if runLen >= desired {
				return Address{Block: block, Page: runStart}, runLen, true
			}
		} else {
			if runLen >= min {
				return Address{Block: block, Page: runStart}, runLen, true
			}
			runLen = 0
		}
	}
	if runLen >= min {
		return Address{Block: block, Page: runStart}, runLen, true
	}
	return Address{}, 0, false
}

// CountFreeAndTBR returns the free and to-be-released page counts over
// the whole FS region, split by block kind via kindFn.
func (f *fsbm) CountFreeAndTBR(kindFn func(block uint16) blockKind) (mgmtFree, dataFree, mgmtTBR, dataTBR uint32, err error) {
	lpb := f.geo.LogicalPagesPerBlock()
	for block := f.geo.ReservedBlocks; block < f.geo.Blocks; block++ {
		kind := kindFn(block)
		for page := PageAddress(0); page < lpb; page++ {
			addr := Address{Block: block, Page: page}
			free, e := f.IsFree(addr)
			if e != nil {
				err = e
				return
			}
			tbr, e := f.IsToBeReleased(addr)
			if e != nil {
				err = e
				return
			}
			if free {
				if kind == blockKindData {
					dataFree++
				} else {
					mgmtFree++
				}
			} else if tbr {
				if kind == blockKindData {
					dataTBR++
				} else {
					mgmtTBR++
				}
			}
		}
	}
	return
}

// blockKind classifies a block for allocation and accounting purposes.
type blockKind int

const (
	blockKindReserved blockKind = iota
	blockKindPrimaryManagement
	blockKindSecondaryManagement
	blockKindData
)
