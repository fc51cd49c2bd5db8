package pifs

import "pifs/device"

// entryTable is the fixed-size directory: one entryRecord slot per
// possible file, appended into the first erased slot on create and
// retired by flipping a single DELETED bit on remove (spec §3 "Entry
// table", §4.5). Grounded on original_source/Src/pifs_entry.c
// (pifs_append_entry, pifs_find_entry, pifs_delete_entry).
type entryTable struct {
	cache      *pageCache
	geo        Geometry
	base       Address
	pages      uint16
	erasedByte byte

	// useDelta, deltas, allocPage and releasePage wire up the optional
	// "entries via delta" path (Config.EntriesUseDelta): an entry-table
	// page that can't be rewritten in place is copied whole to a freshly
	// allocated page and redirected through the same delta mechanism
	// data pages use, instead of retiring the slot and appending a new
	// one elsewhere in the table.
	useDelta    bool
	deltas      *deltaMap
	allocPage   func() (Address, error)
	releasePage func(Address) error
}

func newEntryTable(cache *pageCache, geo Geometry, base Address, pages uint16, erasedByte byte) *entryTable {
	return &entryTable{cache: cache, geo: geo, base: base, pages: pages, erasedByte: erasedByte}
}

// resolve applies the delta redirection a page address may have, when
// entries-via-delta is enabled.
func (t *entryTable) resolve(addr Address) (Address, error) {
	if !t.useDelta || t.deltas == nil {
		return addr, nil
	}
	return t.deltas.Resolve(addr)
}

func (t *entryTable) perPage() int {
	return int(t.geo.LogicalPageBytes) / entryRecordSize()
}

func (t *entryTable) slotAddr(index int) (Address, uint32) {
	perPage := t.perPage()
	pageIdx := index / perPage
	within := index % perPage
	addr, _ := addAddress(t.geo, t.base, uint32(pageIdx))
	return addr, uint32(within * entryRecordSize())
}

func (t *entryTable) slotCount() int {
	return int(t.pages) * t.perPage()
}

func (t *entryTable) readSlot(index int) (entryRecord, []byte, error) {
	addr, off := t.slotAddr(index)
	addr, err := t.resolve(addr)
	if err != nil {
		return entryRecord{}, nil, err
	}
	buf := make([]byte, entryRecordSize())
	if err := t.cache.Read(addr, off, buf); err != nil {
		return entryRecord{}, nil, err
	}
	rec, err := decodeEntryRecord(buf)
	return rec, buf, err
}

func decodeEntryRecord(buf []byte) (entryRecord, error) {
	e, err := decodeEntry(buf)
	if err != nil {
		return entryRecord{}, err
	}
	return entryToRecord(e), nil
}

func (t *entryTable) writeSlot(index int, e Entry) error {
	addr, off := t.slotAddr(index)
	addr, err := t.resolve(addr)
	if err != nil {
		return err
	}
	return t.cache.Write(addr, off, encodeEntry(e))
}

// Find scans the whole table for a non-deleted entry named name,
// returning its slot index, or -1 if not found.
func (t *entryTable) Find(name string) (int, Entry, error) {
	n := t.slotCount()
	for i := 0; i < n; i++ {
		rec, raw, err := t.readSlot(i)
		if err != nil {
			return -1, Entry{}, err
		}
		if isNameErased(rec.Name, t.erasedByte) {
			continue
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return -1, Entry{}, err
		}
		if e.IsDeleted() {
			continue
		}
		if e.Name == name {
			return i, e, nil
		}
	}
	return -1, Entry{}, nil
}

// List returns every non-deleted entry.
func (t *entryTable) List() ([]Entry, error) {
	n := t.slotCount()
	var out []Entry
	for i := 0; i < n; i++ {
		rec, raw, err := t.readSlot(i)
		if err != nil {
			return nil, err
		}
		if isNameErased(rec.Name, t.erasedByte) {
			continue
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return nil, err
		}
		if e.IsDeleted() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Append writes e into the first erased slot.
func (t *entryTable) Append(e Entry) (int, error) {
	n := t.slotCount()
	for i := 0; i < n; i++ {
		rec, _, err := t.readSlot(i)
		if err != nil {
			return -1, err
		}
		if !isNameErased(rec.Name, t.erasedByte) {
			continue
		}
		if err := t.writeSlot(i, e); err != nil {
			return -1, err
		}
		return i, nil
	}
	return -1, newStatusError(StatusEntryListFull, "entry table has no free slot")
}

// Delete flips the DELETED attribute bit of the slot at index. This is
// always bit-compatible: DELETED's bit only ever transitions from
// "unset" to "set" under the erased-is-1 polarity.
func (t *entryTable) Delete(index int) error {
	rec, raw, err := t.readSlot(index)
	if err != nil {
		return err
	}
	if isNameErased(rec.Name, t.erasedByte) {
		return newStatusError(StatusFileNotFound, "entry slot is empty")
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return err
	}
	e.Attrib |= AttribDeleted
	return t.writeSlot(index, e)
}

// Update rewrites the entry at index, in place when the new record is
// bit-compatible with what is already there (e.g. setting READONLY),
// or by retiring the old slot and appending a fresh one otherwise
// (e.g. FileSize growing after a write). It returns the slot index the
// entry now lives at.
func (t *entryTable) Update(index int, e Entry) (int, error) {
	origAddr, off := t.slotAddr(index)
	addr, err := t.resolve(origAddr)
	if err != nil {
		return -1, err
	}
	old := make([]byte, entryRecordSize())
	if err := t.cache.Read(addr, off, old); err != nil {
		return -1, err
	}
	newBuf := encodeEntry(e)
	if device.IsProgrammable(old, newBuf, t.erasedByte) {
		if err := t.cache.Write(addr, off, newBuf); err != nil {
			return -1, err
		}
		return index, nil
	}
	if t.useDelta && t.deltas != nil && t.allocPage != nil {
		if err := t.redirectSlotViaDelta(addr, off, newBuf); err == nil {
			return index, nil
		} else if StatusOf(err) != StatusDeltaMapFull && StatusOf(err) != StatusNoMoreSpace {
			return -1, err
		}
		// Delta map or data area is full: fall through to the ordinary
		// retire-and-append path below, same as with useDelta off.
	}
	if err := t.Delete(index); err != nil {
		return -1, err
	}
	return t.Append(e)
}

// redirectSlotViaDelta copies the whole logical page holding one slot
// to a freshly allocated page, patches in newSlot at off, and redirects
// the page through the delta map, so the rest of the page's slots
// (and any other already-resolved delta hop landing here) keep working
// unchanged.
func (t *entryTable) redirectSlotViaDelta(resolvedAddr Address, off uint32, newSlot []byte) error {
	pageBytes := t.geo.LogicalPageBytes
	page := make([]byte, pageBytes)
	if err := t.cache.Read(resolvedAddr, 0, page); err != nil {
		return err
	}
	copy(page[off:], newSlot)

	newAddr, err := t.allocPage()
	if err != nil {
		return err
	}
	if err := t.cache.WriteFull(newAddr, page); err != nil {
		return err
	}
	if err := t.deltas.Append(resolvedAddr, newAddr); err != nil {
		return err
	}
	if t.releasePage != nil {
		if err := t.releasePage(resolvedAddr); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns the number of free (erased) and used (non-deleted)
// slots.
func (t *entryTable) Counts() (free, used, deleted int, err error) {
	n := t.slotCount()
	for i := 0; i < n; i++ {
		rec, raw, e := t.readSlot(i)
		if e != nil {
			return 0, 0, 0, e
		}
		if isNameErased(rec.Name, t.erasedByte) {
			free++
			continue
		}
		entry, e := decodeEntry(raw)
		if e != nil {
			return 0, 0, 0, e
		}
		if entry.IsDeleted() {
			deleted++
		} else {
			used++
		}
	}
	return
}
