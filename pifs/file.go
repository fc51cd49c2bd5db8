package pifs

import (
	"io"
	"os"

	"pifs/device"
)

// openFile is one entry in the bounded open-file table (spec §6's
// "Open file/dir maxima" envelope).
type openFile struct {
	name       string
	entryIndex int
	entry      Entry
	flag       int
	pos        int64
}

// OpenFile opens name under the given os.O_* flag combination,
// creating it when os.O_CREATE is set and it does not already exist
// (spec §4.5, §4.7's "file handle / IO path"). Grounded on
// original_source/Src/pifs.c (pifs_internal_open).
func (fs *FS) OpenFile(name string, flag int) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(name) == 0 || len(name) > fs.cfg.FilenameLenMax {
		return -1, newStatusError(StatusInvalidFileName, name)
	}
	if len(fs.openFiles) >= fs.cfg.OpenFileNumMax {
		return -1, newStatusError(StatusNoMoreResource, "too many open files")
	}

	idx, e, err := fs.entries.Find(name)
	if err != nil {
		return -1, err
	}
	exists := idx >= 0

	if !exists {
		if flag&os.O_CREATE == 0 {
			return -1, newStatusError(StatusFileNotFound, name)
		}
		newEntry := Entry{Name: name, FirstMapAddress: invalidAddress}
		var newIdx int
		err := fs.withMergeRetry(func() error {
			var aerr error
			newIdx, aerr = fs.entries.Append(newEntry)
			return aerr
		})
		if err != nil {
			return -1, err
		}
		idx, e = newIdx, newEntry
	} else {
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return -1, newStatusError(StatusFileAlreadyExist, name)
		}
		if e.IsDir() {
			return -1, newStatusError(StatusIsADirectory, name)
		}
		if flag&os.O_TRUNC != 0 {
			if e.RefCount > 0 {
				// Other names still share this chain; detach this one
				// onto its own (empty) chain rather than release pages
				// still referenced by the siblings.
				if _, err := fs.bumpSiblingLinks(e.FirstMapAddress, -1); err != nil {
					return -1, err
				}
				e.RefCount = 0
			} else {
				if err := fs.releaseFileMap(e.FirstMapAddress); err != nil {
					return -1, err
				}
			}
			e.FirstMapAddress = invalidAddress
			e.FileSize = 0
			newIdx, err := fs.entries.Update(idx, e)
			if err != nil {
				return -1, err
			}
			idx = newIdx
		}
	}

	pos := int64(0)
	if flag&os.O_APPEND != 0 {
		pos = int64(e.FileSize)
	}
	fh := fs.nextFH
	fs.nextFH++
	fs.openFiles[fh] = &openFile{name: name, entryIndex: idx, entry: e, flag: flag, pos: pos}
	return fh, nil
}

func (fs *FS) openHandle(fh int) (*openFile, error) {
	of, ok := fs.openFiles[fh]
	if !ok {
		return nil, newStatusError(StatusGeneral, "invalid file handle")
	}
	return of, nil
}

// ReadFile reads into p starting at the handle's current position.
func (fs *FS) ReadFile(fh int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, err := fs.openHandle(fh)
	if err != nil {
		return 0, err
	}
	if of.flag&os.O_WRONLY != 0 {
		return 0, newStatusError(StatusInvalidOpenMode, "file not open for reading")
	}
	remaining := int64(of.entry.FileSize) - of.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := fs.readAt(of.entry, of.pos, p)
	of.pos += int64(n)
	return n, err
}

func (fs *FS) flattenPages(first Address) ([]Address, error) {
	if !first.IsValid() {
		return nil, nil
	}
	entries, err := fs.maps.Entries(first)
	if err != nil {
		return nil, err
	}
	var out []Address
	for _, me := range entries {
		addr := me.Address
		for i := uint32(0); i < me.PageCount; i++ {
			out = append(out, addr)
			if i+1 < me.PageCount {
				addr, err = incAddress(fs.cfg.Geometry, addr)
				if err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func (fs *FS) readAt(e Entry, pos int64, p []byte) (int, error) {
	pageBytes := int64(fs.cfg.Geometry.LogicalPageBytes)
	pages, err := fs.flattenPages(e.FirstMapAddress)
	if err != nil {
		return 0, err
	}
	read := 0
	for read < len(p) {
		pageIndex := int(pos / pageBytes)
		if pageIndex >= len(pages) {
			break
		}
		offsetInPage := uint32(pos % pageBytes)
		chunkLen := pageBytes - int64(offsetInPage)
		if remaining := int64(len(p) - read); chunkLen > remaining {
			chunkLen = remaining
		}
		resolved, err := fs.deltas.Resolve(pages[pageIndex])
		if err != nil {
			return read, err
		}
		buf := make([]byte, chunkLen)
		if err := fs.cache.Read(resolved, offsetInPage, buf); err != nil {
			return read, err
		}
		copy(p[read:read+int(chunkLen)], buf)
		read += int(chunkLen)
		pos += chunkLen
	}
	return read, nil
}

// WriteFile writes p at the handle's current position, growing the
// file and allocating fresh pages as needed; an in-place write that is
// not bit-compatible with what is already on flash is redirected
// through a new delta entry instead (spec §4.4, §4.7).
func (fs *FS) WriteFile(fh int, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, err := fs.openHandle(fh)
	if err != nil {
		return 0, err
	}
	if of.flag&os.O_WRONLY == 0 && of.flag&os.O_RDWR == 0 {
		return 0, newStatusError(StatusInvalidOpenMode, "file not open for writing")
	}

	pageBytes := int64(fs.cfg.Geometry.LogicalPageBytes)
	written := 0
	for written < len(p) {
		pos := of.pos + int64(written)
		pageIndex := int(pos / pageBytes)
		offsetInPage := uint32(pos % pageBytes)
		chunkLen := pageBytes - int64(offsetInPage)
		if remaining := int64(len(p) - written); chunkLen > remaining {
			chunkLen = remaining
		}
		chunk := p[written : written+int(chunkLen)]
		if err := fs.writePage(of, pageIndex, offsetInPage, chunk); err != nil {
			return written, err
		}
		written += int(chunkLen)
	}
	of.pos += int64(written)
	if uint32(of.pos) > of.entry.FileSize {
		of.entry.FileSize = uint32(of.pos)
		newIdx, err := fs.entries.Update(of.entryIndex, of.entry)
		if err != nil {
			return written, err
		}
		of.entryIndex = newIdx
	}
	return written, nil
}

func (fs *FS) writePage(of *openFile, pageIndex int, offset uint32, chunk []byte) error {
	pages, err := fs.flattenPages(of.entry.FirstMapAddress)
	if err != nil {
		return err
	}
	pageBytes := fs.cfg.Geometry.LogicalPageBytes

	if pageIndex < len(pages) {
		raw := pages[pageIndex]
		resolved, err := fs.deltas.Resolve(raw)
		if err != nil {
			return err
		}
		old := make([]byte, pageBytes)
		if err := fs.cache.Read(resolved, 0, old); err != nil {
			return err
		}
		newContent := make([]byte, pageBytes)
		copy(newContent, old)
		copy(newContent[offset:], chunk)
		if device.IsProgrammable(old, newContent, fs.cfg.Geometry.ErasedByte) {
			return fs.cache.Write(resolved, offset, chunk)
		}
		newAddr, _, err := fs.allocDataRun(1)
		if err != nil {
			return err
		}
		if err := fs.cache.WriteFull(newAddr, newContent); err != nil {
			return err
		}
		if err := fs.withMergeRetry(func() error { return fs.deltas.Append(resolved, newAddr) }); err != nil {
			return err
		}
		return fs.fsbm.MarkToBeReleased(resolved, 1)
	}

	// Grow the file to cover pageIndex. Rather than allocating and
	// recording one page at a time, ask the allocator for the whole
	// stretch of still-needed pages at once and record whatever
	// contiguous run it returns as a single map entry (spec §4.9 step 3:
	// "allocate the largest possible contiguous run"); only once that
	// run is exhausted does the loop ask for another.
	for len(pages) <= pageIndex {
		need := uint16(pageIndex - len(pages) + 1)
		runAddr, runLen, err := fs.allocDataRun(need)
		if err != nil {
			return err
		}
		cur := runAddr
		for i := uint16(0); i < runLen; i++ {
			fill := make([]byte, pageBytes)
			for j := range fill {
				fill[j] = fs.cfg.Geometry.ErasedByte
			}
			if len(pages) == pageIndex {
				copy(fill[offset:], chunk)
			}
			if err := fs.cache.WriteFull(cur, fill); err != nil {
				return err
			}
			pages = append(pages, cur)
			if i+1 < runLen {
				cur, err = incAddress(fs.cfg.Geometry, cur)
				if err != nil {
					return err
				}
			}
		}
		if err := fs.appendDataRun(&of.entry, runAddr, runLen); err != nil {
			return err
		}
	}
	return nil
}

// allocDataRun finds and marks used a run of up to `desired` contiguous
// free data pages, preferring the least-weared blocks (spec §4.9 step
// 3), retrying once through a merge if the area is out of space.
func (fs *FS) allocDataRun(desired uint16) (Address, uint16, error) {
	var runAddr Address
	var runLen uint16
	err := fs.withMergeRetry(func() error {
		startBlock, err := fs.preferredAllocBlock()
		if err != nil {
			return err
		}
		a, n, aerr := fs.fsbm.FindRun(true, 1, desired, startBlock, fs.dataBlockPredicate())
		if aerr != nil {
			return aerr
		}
		if aerr := fs.fsbm.MarkUsed(a, n); aerr != nil {
			return aerr
		}
		runAddr, runLen = a, n
		return nil
	})
	return runAddr, runLen, err
}

// preferredAllocBlock biases dynamic wear-leveling by starting the
// free-run scan at a least-worn data block instead of always scanning
// from the bottom of the FS region (spec §4.9 step 3 "preferring
// least-weared blocks"). It reads the active header's LeastWeared
// summary rather than rescanning the wear list live: wear only changes
// when a block is actually erased, which happens exclusively during a
// merge (carryForwardFSBM), so the summary taken at the last merge or
// format stays accurate for every allocation in between (during a merge
// that is still the retiring header's summary). Falls back to a live
// wear-list scan only when no header is active or its summary is empty.
func (fs *FS) preferredAllocBlock() (uint16, error) {
	if fs.active != nil && fs.active.LeastWearedCount > 0 {
		for _, lw := range fs.active.LeastWeared[:fs.active.LeastWearedCount] {
			if fs.dataBlockPredicate()(lw.Block) {
				return lw.Block, nil
			}
		}
	}
	if fs.wear == nil {
		return fs.cfg.Geometry.ReservedBlocks, nil
	}
	ranked, err := fs.wear.Ranked()
	if err != nil {
		return fs.cfg.Geometry.ReservedBlocks, nil
	}
	for _, bw := range ranked {
		if fs.dataBlockPredicate()(bw.Block) {
			return bw.Block, nil
		}
	}
	return fs.cfg.Geometry.ReservedBlocks, nil
}

func (fs *FS) appendDataRun(e *Entry, addr Address, count uint16) error {
	if !e.FirstMapAddress.IsValid() {
		mapAddr, _, err := fs.allocDataRun(1)
		if err != nil {
			return err
		}
		if err := fs.maps.InitPage(mapAddr, invalidAddress); err != nil {
			return err
		}
		e.FirstMapAddress = mapAddr
	}
	allocPage := func() (Address, error) {
		a, _, err := fs.allocDataRun(1)
		return a, err
	}
	return fs.maps.AppendEntry(e.FirstMapAddress, mapEntry{Address: addr, PageCount: uint32(count)}, allocPage)
}

// SeekFile repositions the handle (spec's Open Question (a): seeking a
// read-only handle past EOF is StatusSeekNotPossible; write-mode
// handles may seek past EOF when EnableFseekBeyondFile is set, and the
// next write fills the gap with the erased byte).
func (fs *FS) SeekFile(fh int, offset int64, whence int) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	of, err := fs.openHandle(fh)
	if err != nil {
		return 0, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = of.pos + offset
	case io.SeekEnd:
		newPos = int64(of.entry.FileSize) + offset
	default:
		return 0, newStatusError(StatusGeneral, "invalid whence")
	}
	if newPos < 0 {
		return 0, newStatusError(StatusSeekNotPossible, "negative position")
	}
	writable := of.flag&(os.O_WRONLY|os.O_RDWR) != 0
	if newPos > int64(of.entry.FileSize) {
		if !writable || !fs.cfg.EnableFseekBeyondFile {
			return 0, newStatusError(StatusSeekNotPossible, "seek beyond end of file")
		}
	}
	of.pos = newPos
	return newPos, nil
}

// CloseFile drops fh from the open-file table, flushing the cache.
func (fs *FS) CloseFile(fh int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.openHandle(fh); err != nil {
		return err
	}
	delete(fs.openFiles, fh)
	return fs.cache.flush()
}

// FileSize returns name's current size without opening it.
func (fs *FS) FileSize(name string) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx, e, err := fs.entries.Find(name)
	if err != nil {
		return 0, err
	}
	if idx < 0 {
		return 0, newStatusError(StatusFileNotFound, name)
	}
	return e.FileSize, nil
}

// releaseFileMap marks every data page and map page of a file's chain
// to-be-released (used by Remove and by O_TRUNC).
func (fs *FS) releaseFileMap(first Address) error {
	if !first.IsValid() {
		return nil
	}
	entries, err := fs.maps.Entries(first)
	if err != nil {
		return err
	}
	for _, me := range entries {
		addr := me.Address
		for i := uint32(0); i < me.PageCount; i++ {
			resolved, err := fs.deltas.Resolve(addr)
			if err != nil {
				return err
			}
			if err := fs.fsbm.MarkToBeReleased(resolved, 1); err != nil {
				return err
			}
			if i+1 < me.PageCount {
				addr, err = incAddress(fs.cfg.Geometry, addr)
				if err != nil {
					return err
				}
			}
		}
	}
	pages, err := fs.maps.MapPages(first)
	if err != nil {
		return err
	}
	for _, p := range pages {
		if err := fs.fsbm.MarkToBeReleased(p, 1); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes name. If other names still share its map chain (see
// Link), only this entry is dropped and the siblings' shared reference
// count is decremented; the chain itself is marked to-be-released only
// once the last name referencing it is removed.
func (fs *FS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx, e, err := fs.entries.Find(name)
	if err != nil {
		return err
	}
	if idx < 0 {
		return newStatusError(StatusFileNotFound, name)
	}
	if e.IsDir() {
		return newStatusError(StatusIsADirectory, name)
	}
	if e.RefCount > 0 {
		if err := fs.entries.Delete(idx); err != nil {
			return err
		}
		_, err := fs.bumpSiblingLinks(e.FirstMapAddress, -1)
		return err
	}
	if err := fs.releaseFileMap(e.FirstMapAddress); err != nil {
		return err
	}
	return fs.entries.Delete(idx)
}

// Link creates linkname as a second directory entry sharing target's
// map chain, file size and user data (spec §9 "Supplemented features",
// hard link): removing either name only drops that one entry, and the
// underlying pages are released once the last linked name is removed.
// Grounded on the reuse already done for Rename/Copy in this file.
func (fs *FS) Link(target, linkname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tIdx, tEntry, err := fs.entries.Find(target)
	if err != nil {
		return err
	}
	if tIdx < 0 {
		return newStatusError(StatusFileNotFound, target)
	}
	if tEntry.IsDir() {
		return newStatusError(StatusIsADirectory, target)
	}
	if !tEntry.FirstMapAddress.IsValid() {
		// A never-written file has no map chain address to key a link
		// group on (every empty file shares the same sentinel), so
		// there is no way to tell two independent empty files apart
		// from two names for the same one. Write at least one byte
		// before linking.
		return newStatusError(StatusGeneral, "cannot link an empty file")
	}
	if _, existing, err := fs.entries.Find(linkname); err != nil {
		return err
	} else if existing.Name == linkname {
		return newStatusError(StatusFileAlreadyExist, linkname)
	}

	newCount, err := fs.bumpSiblingLinks(tEntry.FirstMapAddress, +1)
	if err != nil {
		return err
	}
	linkEntry := Entry{
		Name:            linkname,
		Attrib:          tEntry.Attrib,
		UserData:        tEntry.UserData,
		FirstMapAddress: tEntry.FirstMapAddress,
		FileSize:        tEntry.FileSize,
		RefCount:        newCount,
	}
	return fs.withMergeRetry(func() error {
		_, aerr := fs.entries.Append(linkEntry)
		return aerr
	})
}

// bumpSiblingLinks adds delta to the RefCount of every live entry
// sharing first's map chain and returns the resulting count. Every
// entry in a link group carries its own copy of the shared count, kept
// in sync here rather than stored once, since entries have no pointers
// to each other on media.
func (fs *FS) bumpSiblingLinks(first Address, delta int) (byte, error) {
	list, err := fs.entries.List()
	if err != nil {
		return 0, err
	}
	var result byte
	for _, e := range list {
		if e.FirstMapAddress != first {
			continue
		}
		idx, cur, err := fs.entries.Find(e.Name)
		if err != nil {
			return 0, err
		}
		if idx < 0 {
			continue
		}
		cur.RefCount = byte(int(cur.RefCount) + delta)
		if _, err := fs.entries.Update(idx, cur); err != nil {
			return 0, err
		}
		result = cur.RefCount
	}
	return result, nil
}

// Rename gives oldname the name newname (spec §4.7).
func (fs *FS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx, e, err := fs.entries.Find(oldname)
	if err != nil {
		return err
	}
	if idx < 0 {
		return newStatusError(StatusFileNotFound, oldname)
	}
	if _, existing, err := fs.entries.Find(newname); err != nil {
		return err
	} else if existing.Name == newname {
		return newStatusError(StatusFileAlreadyExist, newname)
	}
	e.Name = newname
	var newIdx int
	err = fs.withMergeRetry(func() error {
		var aerr error
		newIdx, aerr = fs.entries.Update(idx, e)
		return aerr
	})
	if err != nil {
		return err
	}
	for _, of := range fs.openFiles {
		if of.entryIndex == idx && of.name == oldname {
			of.entryIndex = newIdx
			of.name = newname
			of.entry = e
		}
	}
	return nil
}

// Copy duplicates src's contents into dst. Open Question (b): copying
// a file onto itself is StatusFileAlreadyExist, not a silent no-op.
func (fs *FS) Copy(src, dst string) error {
	if src == dst {
		return newStatusError(StatusFileAlreadyExist, dst)
	}
	srcFH, err := fs.OpenFile(src, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer fs.CloseFile(srcFH)
	dstFH, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return err
	}
	defer fs.CloseFile(dstFH)

	buf := make([]byte, fs.cfg.Geometry.LogicalPageBytes)
	for {
		n, err := fs.ReadFile(srcFH, buf)
		if n > 0 {
			if _, werr := fs.WriteFile(dstFH, buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// GetUserData returns the optional per-file metadata blob (spec §9;
// gated by Config.EnableUserData).
func (fs *FS) GetUserData(name string) (UserData, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.cfg.EnableUserData {
		return UserData{}, newStatusError(StatusConfiguration, "user data is disabled")
	}
	_, e, err := fs.entries.Find(name)
	if err != nil {
		return UserData{}, err
	}
	return e.UserData, nil
}

// SetUserData overwrites name's metadata blob.
func (fs *FS) SetUserData(name string, ud UserData) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.cfg.EnableUserData {
		return newStatusError(StatusConfiguration, "user data is disabled")
	}
	idx, e, err := fs.entries.Find(name)
	if err != nil {
		return err
	}
	if idx < 0 {
		return newStatusError(StatusFileNotFound, name)
	}
	e.UserData = ud
	_, err = fs.entries.Update(idx, e)
	return err
}
