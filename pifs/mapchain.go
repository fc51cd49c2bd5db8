package pifs

import (
	"bytes"
	"encoding/binary"
)

// mapChain is one file's doubly-linked chain of map pages, each
// holding a header (prev/next page address) followed by as many
// (page-run address, page-run count) entries as fit (spec §3 "Map
// page", §4.7 "Map chain"). Grounded on original_source/Src/pifs_map.c
// (pifs_read_first_map_entry, pifs_append_map_entry,
// pifs_get_pages).
type mapChain struct {
	cache *pageCache
	geo   Geometry
}

func newMapChain(cache *pageCache, geo Geometry) *mapChain {
	return &mapChain{cache: cache, geo: geo}
}

func (m *mapChain) headerSize() int { return binary.Size(mapHeaderRecord{}) }
func (m *mapChain) entrySize() int  { return binary.Size(mapEntryRecord{}) }
func (m *mapChain) perPage() int    { return mapEntriesPerPage(m.geo.LogicalPageBytes) }

func (m *mapChain) readHeader(addr Address) (mapHeader, error) {
	buf := make([]byte, m.headerSize())
	if err := m.cache.Read(addr, 0, buf); err != nil {
		return mapHeader{}, err
	}
	var rec mapHeaderRecord
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &rec); err != nil {
		return mapHeader{}, err
	}
	return mapHeader{
		PrevMapAddress: Address{Block: rec.PrevBlock, Page: rec.PrevPage},
		NextMapAddress: Address{Block: rec.NextBlock, Page: rec.NextPage},
	}, nil
}

func (m *mapChain) writeHeader(addr Address, h mapHeader) error {
	rec := mapHeaderRecord{
		PrevBlock: h.PrevMapAddress.Block, PrevPage: h.PrevMapAddress.Page,
		NextBlock: h.NextMapAddress.Block, NextPage: h.NextMapAddress.Page,
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &rec)
	return m.cache.Write(addr, 0, buf.Bytes())
}

func (m *mapChain) entryOffset(slot int) uint32 {
	return uint32(m.headerSize() + slot*m.entrySize())
}

func (m *mapChain) readEntry(addr Address, slot int) (mapEntry, bool, error) {
	buf := make([]byte, m.entrySize())
	if err := m.cache.Read(addr, m.entryOffset(slot), buf); err != nil {
		return mapEntry{}, false, err
	}
	var rec mapEntryRecord
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &rec); err != nil {
		return mapEntry{}, false, err
	}
	if rec.Block == AddrSentinel && rec.Page == AddrSentinel {
		return mapEntry{}, false, nil
	}
	return mapEntry{Address: Address{Block: rec.Block, Page: rec.Page}, PageCount: rec.PageCount}, true, nil
}

func (m *mapChain) writeEntry(addr Address, slot int, e mapEntry) error {
	rec := mapEntryRecord{Block: e.Address.Block, Page: e.Address.Page, PageCount: e.PageCount}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &rec)
	return m.cache.Write(addr, m.entryOffset(slot), buf.Bytes())
}

// Entries returns every (address, count) run recorded starting at the
// file's first map page, walking the whole chain.
func (m *mapChain) Entries(first Address) ([]mapEntry, error) {
	var out []mapEntry
	addr := first
	for addr.IsValid() {
		for slot := 0; slot < m.perPage(); slot++ {
			e, ok, err := m.readEntry(addr, slot)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			out = append(out, e)
		}
		h, err := m.readHeader(addr)
		if err != nil {
			return nil, err
		}
		if !h.NextMapAddress.IsValid() {
			break
		}
		addr = h.NextMapAddress
	}
	return out, nil
}

// MapPages returns the address of every map page in the chain, in
// order, starting at first.
func (m *mapChain) MapPages(first Address) ([]Address, error) {
	var out []Address
	addr := first
	for addr.IsValid() {
		out = append(out, addr)
		h, err := m.readHeader(addr)
		if err != nil {
			return nil, err
		}
		if !h.NextMapAddress.IsValid() {
			break
		}
		addr = h.NextMapAddress
	}
	return out, nil
}

// lastPage returns the final map page of the chain rooted at first.
func (m *mapChain) lastPage(first Address) (Address, error) {
	pages, err := m.MapPages(first)
	if err != nil {
		return Address{}, err
	}
	if len(pages) == 0 {
		return Address{}, newStatusError(StatusInternalRange, "empty map chain")
	}
	return pages[len(pages)-1], nil
}

// firstFreeSlot returns the first unused entry slot in the map page at
// addr, or -1 if it is full.
func (m *mapChain) firstFreeSlot(addr Address) (int, error) {
	for slot := 0; slot < m.perPage(); slot++ {
		_, ok, err := m.readEntry(addr, slot)
		if err != nil {
			return -1, err
		}
		if !ok {
			return slot, nil
		}
	}
	return -1, nil
}

// InitPage writes a fresh map page header with no entries (prev/next
// left invalid, to be linked by the caller).
func (m *mapChain) InitPage(addr Address, prev Address) error {
	return m.writeHeader(addr, mapHeader{PrevMapAddress: prev, NextMapAddress: invalidAddress})
}

// linkNext sets addr's NextMapAddress header field to next.
func (m *mapChain) linkNext(addr, next Address) error {
	h, err := m.readHeader(addr)
	if err != nil {
		return err
	}
	h.NextMapAddress = next
	return m.writeHeader(addr, h)
}

// AppendEntry appends e to the chain rooted at first, allocating a new
// map page via allocPage() when the current last page is full.
func (m *mapChain) AppendEntry(first Address, e mapEntry, allocPage func() (Address, error)) error {
	last, err := m.lastPage(first)
	if err != nil {
		return err
	}
	slot, err := m.firstFreeSlot(last)
	if err != nil {
		return err
	}
	if slot < 0 {
		next, err := allocPage()
		if err != nil {
			return err
		}
		if err := m.InitPage(next, last); err != nil {
			return err
		}
		if err := m.linkNext(last, next); err != nil {
			return err
		}
		last = next
		slot = 0
	}
	return m.writeEntry(last, slot, e)
}
