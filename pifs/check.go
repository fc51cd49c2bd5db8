package pifs

// runConsistencyCheck walks every live entry's map chain and data
// pages, confirming each is marked used in the free-space bitmap, and
// (when Config.CheckIfPageIsErased is set) that every free page really
// is physically erased. It returns the number of problems found (spec
// §4.12 "Consistency check"). Grounded on
// original_source/Src/pifs_helper.c (pifs_is_page_erased) and
// pifs_merge.c's own post-merge sanity pass.
func runConsistencyCheck(fs *FS) (int, error) {
	errCount := 0
	referenced := make(map[Address]bool)

	entries, err := fs.entries.List()
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if !e.FirstMapAddress.IsValid() {
			continue
		}
		mapPages, err := fs.maps.MapPages(e.FirstMapAddress)
		if err != nil {
			return 0, err
		}
		for _, p := range mapPages {
			referenced[p] = true
			used, err := pageIsUsed(fs, p)
			if err != nil {
				return 0, err
			}
			if !used {
				fs.log.warning("check: map page %s of %q is not marked used", p, e.Name)
				errCount++
			}
		}
		runs, err := fs.maps.Entries(e.FirstMapAddress)
		if err != nil {
			return 0, err
		}
		for _, me := range runs {
			addr := me.Address
			for i := uint32(0); i < me.PageCount; i++ {
				resolved, err := fs.deltas.Resolve(addr)
				if err != nil {
					return 0, err
				}
				referenced[resolved] = true
				used, err := pageIsUsed(fs, resolved)
				if err != nil {
					return 0, err
				}
				if !used {
					fs.log.warning("check: data page %s of %q is not marked used", resolved, e.Name)
					errCount++
				}
				if i+1 < me.PageCount {
					addr, err = incAddress(fs.cfg.Geometry, addr)
					if err != nil {
						return 0, err
					}
				}
			}
		}
	}

	if fs.cfg.CheckIfPageIsErased {
		lpb := fs.cfg.Geometry.LogicalPagesPerBlock()
		for block := fs.cfg.Geometry.ReservedBlocks; block < fs.cfg.Geometry.Blocks; block++ {
			for page := PageAddress(0); page < lpb; page++ {
				addr := Address{Block: block, Page: page}
				free, err := fs.fsbm.IsFree(addr)
				if err != nil {
					return 0, err
				}
				if !free {
					continue
				}
				erased, err := pagePhysicallyErased(fs, addr)
				if err != nil {
					return 0, err
				}
				if !erased {
					fs.log.warning("check: page %s marked free but not physically erased", addr)
					errCount++
				}
			}
		}
	}

	fs.errors += errCount
	return errCount, nil
}

func pageIsUsed(fs *FS, addr Address) (bool, error) {
	free, err := fs.fsbm.IsFree(addr)
	if err != nil {
		return false, err
	}
	if free {
		return false, nil
	}
	tbr, err := fs.fsbm.IsToBeReleased(addr)
	if err != nil {
		return false, err
	}
	return !tbr, nil
}

func pagePhysicallyErased(fs *FS, addr Address) (bool, error) {
	buf := make([]byte, fs.cfg.Geometry.LogicalPageBytes)
	if err := fs.cache.Read(addr, 0, buf); err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != fs.cfg.Geometry.ErasedByte {
			return false, nil
		}
	}
	return true, nil
}
