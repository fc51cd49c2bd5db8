package pifs

import (
	"bytes"
	"encoding/binary"
)

// areaLayout is the fixed sub-region layout of one management area
// (spec §6 "On-media layout per management area"): header page first,
// then entry list, FSBM, delta map, wear list, each sized by addr.go's
// size functions and placed back to back.
type areaLayout struct {
	ManagementBlock Address // first page of this management area (the header)
	EntryList       Address
	EntryListPages  uint16
	FSBM            Address
	FSBMPages       uint16
	DeltaMap        Address
	DeltaMapPages   uint16
	WearList        Address
	WearListPages   uint16
}

func layoutArea(cfg Config, start Address) (areaLayout, error) {
	entryList, err := addAddress(cfg.Geometry, start, headerSizePage)
	if err != nil {
		return areaLayout{}, err
	}
	entryPages := entryListSizePage(cfg)
	fsbmAddr, err := addAddress(cfg.Geometry, entryList, uint32(entryPages))
	if err != nil {
		return areaLayout{}, err
	}
	fsbmPages := freeSpaceBitmapSizePage(cfg)
	deltaAddr, err := addAddress(cfg.Geometry, fsbmAddr, uint32(fsbmPages))
	if err != nil {
		return areaLayout{}, err
	}
	deltaPages := deltaMapSizePage(cfg)
	wearAddr, err := addAddress(cfg.Geometry, deltaAddr, uint32(deltaPages))
	if err != nil {
		return areaLayout{}, err
	}
	wearPages := wearLevelListSizePage(cfg)
	return areaLayout{
		ManagementBlock: start,
		EntryList:       entryList,
		EntryListPages:  entryPages,
		FSBM:            fsbmAddr,
		FSBMPages:       fsbmPages,
		DeltaMap:        deltaAddr,
		DeltaMapPages:   deltaPages,
		WearList:        wearAddr,
		WearListPages:   wearPages,
	}, nil
}

// headerMagic identifies a page as a pifs header at all, before the
// checksum is even consulted (spec §3/§4.6). headerVersionMajor bumps
// on any on-flash layout change this code can no longer read.
const (
	headerMagic        uint32 = 0x50494653 // "PIFS"
	headerVersionMajor uint8  = 1
	headerVersionMinor uint8  = 0
)

// leastWearedEntry is one row of the header's least-weared summary: up
// to MaxLeastWeared ascending-wear block/count pairs, the number
// actually populated bounded at runtime by Config.LeastWearedBlockNum
// (spec §4.9 "Wear-leveling"). Grounded on
// original_source/Src/pifs_wear.c's PIFS_LEAST_WEARED_BLOCK_NUM.
type leastWearedEntry struct {
	Block uint16
	Cntr  uint32
}

// header is the anchor record: a monotonically increasing counter plus
// checksum identify which of the two management areas (primary or
// secondary) is current after an unclean shutdown (spec §4.6, §4.11).
// Grounded on original_source/Src/pifs.c (pifs_header_init,
// pifs_write_header, pifs_find_latest_header).
type header struct {
	Counter          uint32
	Layout           areaLayout
	NextManagement   Address // other management area's start, for merge
	GeometryChecksum uint32

	LeastWeared      [MaxLeastWeared]leastWearedEntry
	LeastWearedCount uint8
	WearLevelCntrMax uint32
}

type headerRecord struct {
	Magic                uint32
	VersionMajor         uint8
	VersionMinor         uint8
	_                    [2]byte
	Counter              uint32
	ManagementBlock       uint16
	ManagementPage        uint16
	NextManagementBlock   uint16
	NextManagementPage    uint16
	EntryListBlock        uint16
	EntryListPage         uint16
	EntryListPages        uint16
	FSBMBlock             uint16
	FSBMPage              uint16
	FSBMPages             uint16
	DeltaMapBlock         uint16
	DeltaMapPage          uint16
	DeltaMapPages         uint16
	WearListBlock         uint16
	WearListPage          uint16
	WearListPages         uint16
	GeometryChecksum      uint32
	LeastWeared           [MaxLeastWeared]leastWearedEntry
	LeastWearedCount      uint8
	_                     [3]byte
	WearLevelCntrMax      uint32
	Checksum              uint32
}

func geometryChecksum(geo Geometry) uint32 {
	var sum uint32
	sum += uint32(geo.Blocks) * 1
	sum += uint32(geo.PagesPerBlock) * 3
	sum += geo.FlashPageBytes * 5
	sum += geo.LogicalPageBytes * 7
	sum += uint32(geo.ReservedBlocks) * 11
	sum += uint32(geo.ManagementBlocks) * 13
	sum += uint32(geo.ErasedByte) * 17
	return sum
}

func headerChecksum(rec headerRecord) uint32 {
	rec.Checksum = 0
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &rec)
	var sum uint32
	for i, b := range buf.Bytes() {
		sum += uint32(b) * uint32(i+1)
	}
	return sum
}

func headerToRecord(h header) headerRecord {
	rec := headerRecord{
		Magic:              headerMagic,
		VersionMajor:       headerVersionMajor,
		VersionMinor:       headerVersionMinor,
		Counter:            h.Counter,
		ManagementBlock:     h.Layout.ManagementBlock.Block,
		ManagementPage:      h.Layout.ManagementBlock.Page,
		NextManagementBlock: h.NextManagement.Block,
		NextManagementPage:  h.NextManagement.Page,
		EntryListBlock:      h.Layout.EntryList.Block,
		EntryListPage:       h.Layout.EntryList.Page,
		EntryListPages:      h.Layout.EntryListPages,
		FSBMBlock:           h.Layout.FSBM.Block,
		FSBMPage:            h.Layout.FSBM.Page,
		FSBMPages:           h.Layout.FSBMPages,
		DeltaMapBlock:       h.Layout.DeltaMap.Block,
		DeltaMapPage:        h.Layout.DeltaMap.Page,
		DeltaMapPages:       h.Layout.DeltaMapPages,
		WearListBlock:       h.Layout.WearList.Block,
		WearListPage:        h.Layout.WearList.Page,
		WearListPages:       h.Layout.WearListPages,
		GeometryChecksum:    h.GeometryChecksum,
		LeastWeared:         h.LeastWeared,
		LeastWearedCount:    h.LeastWearedCount,
		WearLevelCntrMax:    h.WearLevelCntrMax,
	}
	rec.Checksum = headerChecksum(rec)
	return rec
}

func recordToHeader(rec headerRecord) header {
	return header{
		Counter: rec.Counter,
		Layout: areaLayout{
			ManagementBlock: Address{Block: rec.ManagementBlock, Page: rec.ManagementPage},
			EntryList:       Address{Block: rec.EntryListBlock, Page: rec.EntryListPage},
			EntryListPages:  rec.EntryListPages,
			FSBM:            Address{Block: rec.FSBMBlock, Page: rec.FSBMPage},
			FSBMPages:       rec.FSBMPages,
			DeltaMap:        Address{Block: rec.DeltaMapBlock, Page: rec.DeltaMapPage},
			DeltaMapPages:   rec.DeltaMapPages,
			WearList:        Address{Block: rec.WearListBlock, Page: rec.WearListPage},
			WearListPages:   rec.WearListPages,
		},
		NextManagement:   Address{Block: rec.NextManagementBlock, Page: rec.NextManagementPage},
		GeometryChecksum: rec.GeometryChecksum,
		LeastWeared:      rec.LeastWeared,
		LeastWearedCount: rec.LeastWearedCount,
		WearLevelCntrMax: rec.WearLevelCntrMax,
	}
}

// validChecksum reports whether rec is a genuine pifs header: the
// right magic and a major version this code knows how to read, and a
// checksum matching its own contents (spec §4.6's mount scan: "the
// candidate with valid magic and version").
func (rec headerRecord) validChecksum() bool {
	if rec.Magic != headerMagic || rec.VersionMajor != headerVersionMajor {
		return false
	}
	want := rec.Checksum
	got := headerChecksum(rec)
	return want == got
}

func encodeHeader(h header) []byte {
	rec := headerToRecord(h)
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, &rec)
	return buf.Bytes()
}

func decodeHeaderRecord(b []byte) (headerRecord, error) {
	var rec headerRecord
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &rec); err != nil {
		return headerRecord{}, err
	}
	return rec, nil
}

// readHeaderAt loads and decodes the header page at addr, without
// validating it — callers check validChecksum() themselves.
func readHeaderAt(cache *pageCache, geo Geometry, addr Address) (headerRecord, error) {
	size := binary.Size(headerRecord{})
	buf := make([]byte, size)
	if err := cache.Read(addr, 0, buf); err != nil {
		return headerRecord{}, err
	}
	return decodeHeaderRecord(buf)
}

// writeHeaderAt programs a fresh header page. Called only against an
// erased (or about-to-be-erased-then-rewritten) management block.
func writeHeaderAt(cache *pageCache, addr Address, h header) error {
	return cache.WriteFull(addr, padTo(encodeHeader(h), int(cache.geo.LogicalPageBytes)))
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
