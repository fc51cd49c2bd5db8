package pifs

import (
	"bytes"
	"encoding/binary"
)

// deltaMap is the RAM mirror of the on-flash delta-page index (spec §3
// "Delta entry", §4.4 "Delta-page indirection"). Entries are appended
// in on-disk order; the chain is resolved by scanning for the address
// and letting the *last* match win (spec §4.4's "last-match-wins").
// Grounded on original_source/Src/pifs_delta.c
// (pifs_read_delta_info/pifs_append_delta_map_entry/pifs_write_delta).
type deltaMap struct {
	cache   *pageCache
	geo     Geometry
	base    Address
	pages   uint16
	erased  byte
	entries []deltaRecord
	loaded  bool
}

func newDeltaMap(cache *pageCache, geo Geometry, base Address, pages uint16, erasedByte byte) *deltaMap {
	return &deltaMap{cache: cache, geo: geo, base: base, pages: pages, erased: erasedByte}
}

func (d *deltaMap) slotAddr(index int) (Address, uint32) {
	entrySize := binary.Size(deltaEntryRecord{})
	perPage := deltaEntriesPerPage(d.geo.LogicalPageBytes)
	pageIdx := index / perPage
	within := index % perPage
	addr, _ := addAddress(d.geo, d.base, uint32(pageIdx))
	return addr, uint32(within * entrySize)
}

func (d *deltaMap) encodeSlot(rec deltaRecord) []byte {
	buf := new(bytes.Buffer)
	on := deltaEntryRecord{
		OrigBlock:  rec.OrigAddress.Block,
		OrigPage:   rec.OrigAddress.Page,
		DeltaBlock: rec.DeltaAddress.Block,
		DeltaPage:  rec.DeltaAddress.Page,
	}
	_ = binary.Write(buf, binary.LittleEndian, &on)
	return buf.Bytes()
}

func (d *deltaMap) decodeSlot(b []byte) deltaRecord {
	var on deltaEntryRecord
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &on)
	return deltaRecord{
		OrigAddress:  Address{Block: on.OrigBlock, Page: on.OrigPage},
		DeltaAddress: Address{Block: on.DeltaBlock, Page: on.DeltaPage},
	}
}

func (d *deltaMap) isErasedSlot(b []byte) bool {
	for _, c := range b {
		if c != d.erased {
			return false
		}
	}
	return true
}

// load scans every delta-map page once, populating the RAM mirror.
func (d *deltaMap) load() error {
	if d.loaded {
		return nil
	}
	entrySize := binary.Size(deltaEntryRecord{})
	perPage := deltaEntriesPerPage(d.geo.LogicalPageBytes)
	d.entries = d.entries[:0]
	for i := 0; i < int(d.pages)*perPage; i++ {
		addr, off := d.slotAddr(i)
		buf := make([]byte, entrySize)
		if err := d.cache.Read(addr, off, buf); err != nil {
			return err
		}
		if d.isErasedSlot(buf) {
			continue
		}
		d.entries = append(d.entries, d.decodeSlot(buf))
	}
	d.loaded = true
	return nil
}

// Resolve returns the current address the orig address indirects to,
// or orig itself if it has no delta entry (spec §4.4).
func (d *deltaMap) Resolve(orig Address) (Address, error) {
	if err := d.load(); err != nil {
		return Address{}, err
	}
	resolved := orig
	for _, e := range d.entries {
		if e.OrigAddress == orig || e.OrigAddress == resolved {
			resolved = e.DeltaAddress
		}
	}
	return resolved, nil
}

// Append records a new orig->delta mapping, both in RAM and on flash,
// using the first erased slot. Returns StatusDeltaMapFull if none
// remains; the caller is expected to trigger a merge and retry.
func (d *deltaMap) Append(orig, delta Address) error {
	if err := d.load(); err != nil {
		return err
	}
	entrySize := binary.Size(deltaEntryRecord{})
	perPage := deltaEntriesPerPage(d.geo.LogicalPageBytes)
	total := int(d.pages) * perPage
	for i := 0; i < total; i++ {
		addr, off := d.slotAddr(i)
		buf := make([]byte, entrySize)
		if err := d.cache.Read(addr, off, buf); err != nil {
			return err
		}
		if !d.isErasedSlot(buf) {
			continue
		}
		rec := deltaRecord{OrigAddress: orig, DeltaAddress: delta}
		if err := d.cache.Write(addr, off, d.encodeSlot(rec)); err != nil {
			return err
		}
		d.entries = append(d.entries, rec)
		return nil
	}
	return newStatusError(StatusDeltaMapFull, "delta map has no free slot")
}

// Count returns how many delta entries are currently recorded.
func (d *deltaMap) Count() (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	return len(d.entries), nil
}

// Reset drops the RAM mirror, used after a merge erases the old delta
// map pages and starts a fresh one.
func (d *deltaMap) Reset(base Address, pages uint16) {
	d.base = base
	d.pages = pages
	d.entries = nil
	d.loaded = false
}
