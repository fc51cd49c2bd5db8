package pifs

import "github.com/pkg/errors"

// merge is the crash-safe management-area swap (spec §4.11): build a
// fresh management area in the *other* of the two fixed management
// slots, carry forward the true per-page state of the data region
// (erasing whole blocks that are now fully released), bake every
// live file's delta redirections into freshly written map chains so
// the new delta map can start empty, then retire the old area.
// Grounded on original_source/Src/pifs_merge.c (pifs_merge).
func (fs *FS) merge() error {
	fs.log.notice("merge: starting (old counter=%d)", fs.active.Counter)

	type reopenInfo struct {
		fh   int
		name string
		pos  int64
		flag int
	}
	var reopens []reopenInfo
	for fh, of := range fs.openFiles {
		reopens = append(reopens, reopenInfo{fh, of.name, of.pos, of.flag})
	}
	if err := fs.cache.flush(); err != nil {
		return err
	}

	oldActive := *fs.active
	oldFSBM, oldEntries, oldDeltas := fs.fsbm, fs.entries, fs.deltas

	newStart := oldActive.NextManagement
	mgmtBlocks := fs.cfg.Geometry.ManagementBlocks
	for i := uint16(0); i < mgmtBlocks; i++ {
		if err := fs.dev.Erase(newStart.Block + i); err != nil {
			return errors.Wrapf(err, "erasing secondary management area block %d", newStart.Block+i)
		}
		fs.cache.invalidate(newStart.Block + i)
	}

	newLayout, err := layoutArea(fs.cfg, newStart)
	if err != nil {
		return err
	}
	newHeader := header{
		Counter:          oldActive.Counter + 1,
		Layout:           newLayout,
		NextManagement:   oldActive.Layout.ManagementBlock,
		GeometryChecksum: oldActive.GeometryChecksum,
	}
	fs.wireArea(&newHeader)
	if err := fs.markManagementAreaUsed(newLayout); err != nil {
		return err
	}

	if err := fs.carryForwardFSBM(oldFSBM, oldActive.Layout.ManagementBlock.Block, newLayout.ManagementBlock.Block); err != nil {
		return err
	}
	if err := fs.carryForwardWear(oldActive); err != nil {
		return err
	}
	newHeader.LeastWeared, newHeader.LeastWearedCount, newHeader.WearLevelCntrMax, err = fs.buildWearSummary()
	if err != nil {
		return err
	}

	oldList, err := oldEntries.List()
	if err != nil {
		return err
	}
	// Linked names (spec §9 "Supplemented features", hard link) share
	// one FirstMapAddress; collapse each distinct chain only once and
	// reuse the result for every sibling, or the second sibling would
	// collapse the same old chain into a second, diverging copy.
	collapsed := make(map[Address]Address)
	for _, e := range oldList {
		newFirst, already := collapsed[e.FirstMapAddress]
		if !already {
			var oldPages []Address
			var err error
			newFirst, oldPages, err = fs.collapseFileMap(e, oldDeltas)
			if err != nil {
				return err
			}
			collapsed[e.FirstMapAddress] = newFirst
			for _, p := range oldPages {
				tbr, err := fs.fsbm.IsToBeReleased(p)
				if err != nil {
					return err
				}
				if !tbr {
					if err := fs.fsbm.MarkToBeReleased(p, 1); err != nil {
						return err
					}
				}
			}
		}
		e.FirstMapAddress = newFirst
		if _, err := fs.entries.Append(e); err != nil {
			return err
		}
	}

	if err := writeHeaderAt(fs.cache, newLayout.ManagementBlock, newHeader); err != nil {
		return err
	}
	if err := fs.cache.flush(); err != nil {
		return err
	}

	for i := uint16(0); i < mgmtBlocks; i++ {
		if err := fs.dev.Erase(oldActive.Layout.ManagementBlock.Block + i); err != nil {
			return errors.Wrapf(err, "erasing retired management area block %d", oldActive.Layout.ManagementBlock.Block+i)
		}
		fs.cache.invalidate(oldActive.Layout.ManagementBlock.Block + i)
	}

	fs.secondary = oldActive
	fs.primary = newHeader
	fs.active = &fs.primary

	fs.openFiles = make(map[int]*openFile)
	for _, r := range reopens {
		idx, e, err := fs.entries.Find(r.name)
		if err != nil {
			return err
		}
		if idx < 0 {
			continue
		}
		fs.openFiles[r.fh] = &openFile{name: r.name, entryIndex: idx, entry: e, flag: r.flag, pos: r.pos}
	}
	fs.log.notice("merge: done (new counter=%d)", newHeader.Counter)
	return nil
}

func inMgmtArea(block, start, mgmtBlocks uint16) bool {
	return block >= start && block < start+mgmtBlocks
}

// carryForwardFSBM mirrors every data-region page's true used/TBR
// state from the retiring area's bitmap into the freshly erased one.
// A block found to be entirely TBR is actually erased and left at its
// new bitmap's default free state — this is the only point at which
// TBR space is physically reclaimed (spec §4.11 step 4).
func (fs *FS) carryForwardFSBM(old *fsbm, oldActiveBlock, newBlock uint16) error {
	mgmtBlocks := fs.cfg.Geometry.ManagementBlocks
	lpb := fs.cfg.Geometry.LogicalPagesPerBlock()
	const (
		stateFree = iota
		stateUsed
		stateTBR
	)
	for block := fs.cfg.Geometry.ReservedBlocks; block < fs.cfg.Geometry.Blocks; block++ {
		if inMgmtArea(block, oldActiveBlock, mgmtBlocks) || inMgmtArea(block, newBlock, mgmtBlocks) {
			continue
		}
		states := make([]int, lpb)
		allTBR := true
		for page := PageAddress(0); page < lpb; page++ {
			addr := Address{Block: block, Page: page}
			free, err := old.IsFree(addr)
			if err != nil {
				return err
			}
			if free {
				states[page] = stateFree
				allTBR = false
				continue
			}
			tbr, err := old.IsToBeReleased(addr)
			if err != nil {
				return err
			}
			if tbr {
				states[page] = stateTBR
			} else {
				states[page] = stateUsed
				allTBR = false
			}
		}
		if allTBR {
			if err := fs.dev.Erase(block); err != nil {
				return errors.Wrapf(err, "reclaiming fully released block %d", block)
			}
			fs.cache.invalidate(block)
			if err := fs.wear.Inc(block); err != nil {
				fs.log.warning("block %d wear ticks exhausted: %v", block, err)
			}
			continue
		}
		for page := PageAddress(0); page < lpb; page++ {
			if states[page] == stateFree {
				continue
			}
			addr := Address{Block: block, Page: page}
			if err := fs.fsbm.MarkUsed(addr, 1); err != nil {
				return err
			}
			if states[page] == stateTBR {
				if err := fs.fsbm.MarkToBeReleased(addr, 1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// carryForwardWear folds every block's tick bits into its counter in
// the new wear list (the new area always starts fully erased, so the
// fold can be written fresh instead of incrementally).
func (fs *FS) carryForwardWear(oldActive header) error {
	oldWear := newWearList(fs.cache, fs.cfg.Geometry, oldActive.Layout.WearList)
	for i := uint16(0); i < fs.cfg.Geometry.FSBlocks(); i++ {
		block := fs.cfg.Geometry.ReservedBlocks + i
		folded, err := oldWear.Fold(block)
		if err != nil {
			return err
		}
		if err := fs.wear.write(block, folded); err != nil {
			return err
		}
	}
	return nil
}

// collapseFileMap resolves every page of e's existing map chain
// through the retiring delta map, re-coalesces the results into runs,
// and writes them as a brand new map chain (so the new delta map can
// start empty). It returns the new chain's first page and every old
// map page address, which the caller marks TBR.
func (fs *FS) collapseFileMap(e Entry, oldDeltas *deltaMap) (Address, []Address, error) {
	if !e.FirstMapAddress.IsValid() {
		return invalidAddress, nil, nil
	}
	entries, err := fs.maps.Entries(e.FirstMapAddress)
	if err != nil {
		return Address{}, nil, err
	}
	oldPages, err := fs.maps.MapPages(e.FirstMapAddress)
	if err != nil {
		return Address{}, nil, err
	}

	var resolved []Address
	for _, me := range entries {
		addr := me.Address
		for i := uint32(0); i < me.PageCount; i++ {
			r, err := oldDeltas.Resolve(addr)
			if err != nil {
				return Address{}, nil, err
			}
			resolved = append(resolved, r)
			if i+1 < me.PageCount {
				addr, err = incAddress(fs.cfg.Geometry, addr)
				if err != nil {
					return Address{}, nil, err
				}
			}
		}
	}
	newRuns := fs.coalesce(resolved)
	if len(newRuns) == 0 {
		return invalidAddress, oldPages, nil
	}

	// merge is itself the reclamation path withMergeRetry falls back to,
	// so these allocations use fs.fsbm directly rather than allocDataRun
	// (which would retry through another merge on StatusNoMoreSpace).
	first, err := fs.allocPageDuringMerge()
	if err != nil {
		return Address{}, nil, err
	}
	if err := fs.maps.InitPage(first, invalidAddress); err != nil {
		return Address{}, nil, err
	}
	allocPage := fs.allocPageDuringMerge
	for _, run := range newRuns {
		if err := fs.maps.AppendEntry(first, run, allocPage); err != nil {
			return Address{}, nil, err
		}
	}
	return first, oldPages, nil
}

// allocPageDuringMerge finds and marks used a single free data page,
// biased toward the least-weared block, without going through
// withMergeRetry (merge is already running).
func (fs *FS) allocPageDuringMerge() (Address, error) {
	startBlock, err := fs.preferredAllocBlock()
	if err != nil {
		return Address{}, err
	}
	a, _, err := fs.fsbm.FindRun(true, 1, 1, startBlock, fs.dataBlockPredicate())
	if err != nil {
		return Address{}, err
	}
	if err := fs.fsbm.MarkUsed(a, 1); err != nil {
		return Address{}, err
	}
	return a, nil
}

// coalesce merges adjacent resolved page addresses into page-run
// entries, the inverse of expanding a run for resolution.
func (fs *FS) coalesce(pages []Address) []mapEntry {
	var out []mapEntry
	for _, p := range pages {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if fs.adjacent(last.Address, last.PageCount, p) {
				last.PageCount++
				continue
			}
		}
		out = append(out, mapEntry{Address: p, PageCount: 1})
	}
	return out
}

func (fs *FS) adjacent(start Address, count uint32, next Address) bool {
	end, err := addAddress(fs.cfg.Geometry, start, count)
	if err != nil {
		return false
	}
	return end == next
}

// mergeNeeded reports whether status indicates the current management
// area has run out of allocation headroom and a merge should be tried.
func mergeNeeded(err error) bool {
	switch StatusOf(err) {
	case StatusNoMoreSpace, StatusDeltaMapFull, StatusEntryListFull:
		return true
	default:
		return false
	}
}

// withMergeRetry runs op; if it fails for a reason a merge can fix, it
// merges once and retries op exactly once more.
func (fs *FS) withMergeRetry(op func() error) error {
	err := op()
	if err == nil || !mergeNeeded(err) {
		return err
	}
	if mergeErr := fs.merge(); mergeErr != nil {
		return errors.Wrap(mergeErr, "merge triggered by allocation failure")
	}
	return op()
}
