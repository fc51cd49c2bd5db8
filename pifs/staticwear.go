package pifs

// relocationSuffix names the temporary copy static wear leveling
// writes a file's relocated content under before renaming it back over
// the original (spec §4.9 "static wear-leveling"). Grounded on
// original_source/Src/pifs_wear.c (pifs_empty_block's
// PIFS_FILENAME_TEMP_STR).
const relocationSuffix = "%"

// StaticWearLevel relocates files off up to maxBlocks of the header's
// least-weared data blocks that have no free pages left to absorb
// ordinary allocation and whose wear lags the busiest block by more
// than Config.StaticWearLevelLimit. It is a maintenance operation the
// caller invokes periodically (the original has no fixed schedule for
// it either); a mount with nothing to level is a no-op. Grounded on
// original_source/Src/pifs_wear.c (pifs_static_wear_leveling).
func (fs *FS) StaticWearLevel(maxBlocks int) error {
	fs.mu.Lock()
	if fs.active == nil {
		fs.mu.Unlock()
		return newStatusError(StatusNotInitialized, "not mounted")
	}
	least := fs.active.LeastWeared
	count := fs.active.LeastWearedCount
	maxCntr := fs.active.WearLevelCntrMax
	fs.mu.Unlock()

	for i := uint8(0); i < count && maxBlocks > 0; i++ {
		block := least[i].Block
		if fs.blockKind(block) != blockKindData {
			continue
		}
		diff := maxCntr - least[i].Cntr
		free, err := fs.freeDataPages(block)
		if err != nil {
			return err
		}
		if free > 0 || diff <= uint32(fs.cfg.StaticWearLevelLimit) {
			continue
		}
		fs.log.notice("static wear leveling: emptying block %d (wear %d, busiest %d)", block, least[i].Cntr, maxCntr)
		emptied, err := fs.emptyBlock(block)
		if err != nil {
			return err
		}
		if emptied {
			maxBlocks--
		}
	}
	return nil
}

// freeDataPages counts block's free pages.
func (fs *FS) freeDataPages(block uint16) (uint16, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	lpb := fs.cfg.Geometry.LogicalPagesPerBlock()
	var free uint16
	for page := PageAddress(0); page < lpb; page++ {
		ok, err := fs.fsbm.IsFree(Address{Block: block, Page: page})
		if err != nil {
			return 0, err
		}
		if ok {
			free++
		}
	}
	return free, nil
}

// blockUsedByFile reports whether name's map chain currently resolves
// onto any page of block.
func (fs *FS) blockUsedByFile(name string, block uint16) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, e, err := fs.entries.Find(name)
	if err != nil {
		return false, err
	}
	if !e.FirstMapAddress.IsValid() {
		return false, nil
	}
	pages, err := fs.flattenPages(e.FirstMapAddress)
	if err != nil {
		return false, err
	}
	for _, p := range pages {
		resolved, err := fs.deltas.Resolve(p)
		if err != nil {
			return false, err
		}
		if resolved.Block == block {
			return true, nil
		}
	}
	return false, nil
}

// emptyBlock relocates every plain file using block onto freshly
// allocated pages elsewhere, by copying each to a temporary name, then
// deleting the original and renaming the copy back over it. Hard-linked
// files (RefCount > 0) are skipped: relocating one sibling by copying
// would detach it from the others' shared chain, which static leveling
// has no business doing silently.
func (fs *FS) emptyBlock(block uint16) (bool, error) {
	fs.mu.Lock()
	list, err := fs.entries.List()
	fs.mu.Unlock()
	if err != nil {
		return false, err
	}

	var emptied bool
	for _, e := range list {
		if e.IsDir() || e.RefCount > 0 {
			continue
		}
		used, err := fs.blockUsedByFile(e.Name, block)
		if err != nil {
			return emptied, err
		}
		if !used {
			continue
		}
		emptied = true
		tmp := e.Name + relocationSuffix
		if err := fs.Copy(e.Name, tmp); err != nil {
			return emptied, err
		}
		if err := fs.Remove(e.Name); err != nil {
			return emptied, err
		}
		if err := fs.Rename(tmp, e.Name); err != nil {
			return emptied, err
		}
	}
	return emptied, nil
}
