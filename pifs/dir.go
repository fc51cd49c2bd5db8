package pifs

// openDir is a snapshot of the entry table taken at opendir time (spec
// §4.7's directory walker). Directories are single-level only: see
// DESIGN.md's Open Question (c) — the original implementation itself
// never shipped nested directories, so this port does not either.
type openDir struct {
	entries []Entry
	pos     int
}

// OpenDir snapshots every live entry for sequential reading.
func (fs *FS) OpenDir() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.openDirs) >= fs.cfg.OpenDirNumMax {
		return -1, newStatusError(StatusNoMoreResource, "too many open directories")
	}
	list, err := fs.entries.List()
	if err != nil {
		return -1, err
	}
	dh := fs.nextDH
	fs.nextDH++
	fs.openDirs[dh] = &openDir{entries: list}
	return dh, nil
}

// ReadDir returns the next entry, or ok=false once exhausted.
func (fs *FS) ReadDir(dh int) (entry Entry, ok bool, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	od, found := fs.openDirs[dh]
	if !found {
		return Entry{}, false, newStatusError(StatusGeneral, "invalid directory handle")
	}
	if od.pos >= len(od.entries) {
		return Entry{}, false, nil
	}
	e := od.entries[od.pos]
	od.pos++
	return e, true, nil
}

// CloseDir releases dh.
func (fs *FS) CloseDir(dh int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, found := fs.openDirs[dh]; !found {
		return newStatusError(StatusGeneral, "invalid directory handle")
	}
	delete(fs.openDirs, dh)
	return nil
}

// Mkdir creates a zero-length entry flagged AttribDir — a directory
// marker, not a real subdirectory, since nesting is out of scope.
func (fs *FS) Mkdir(name string) error {
	if !fs.cfg.EnableDirectories {
		return newStatusError(StatusConfiguration, "directories are disabled")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx, _, err := fs.entries.Find(name)
	if err != nil {
		return err
	}
	if idx >= 0 {
		return newStatusError(StatusFileAlreadyExist, name)
	}
	e := Entry{Name: name, Attrib: AttribDir, FirstMapAddress: invalidAddress}
	return fs.withMergeRetry(func() error {
		_, aerr := fs.entries.Append(e)
		return aerr
	})
}

// Rmdir removes a directory marker created by Mkdir.
func (fs *FS) Rmdir(name string) error {
	if !fs.cfg.EnableDirectories {
		return newStatusError(StatusConfiguration, "directories are disabled")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	idx, e, err := fs.entries.Find(name)
	if err != nil {
		return err
	}
	if idx < 0 {
		return newStatusError(StatusFileNotFound, name)
	}
	if !e.IsDir() {
		return newStatusError(StatusNotADirectory, name)
	}
	return fs.entries.Delete(idx)
}
