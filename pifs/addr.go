package pifs

import "encoding/binary"

// incAddress advances a to the next logical page, rolling over into
// the next block when the current block is exhausted (spec §4.8's
// map-chain walk and §4.3's run scan both rely on this).
func incAddress(geo Geometry, a Address) (Address, error) {
	a.Page++
	if a.Page >= geo.LogicalPagesPerBlock() {
		a.Page = 0
		a.Block++
		if a.Block >= geo.Blocks {
			return Address{}, newStatusError(StatusInternalRange, "address increment ran past last block")
		}
	}
	return a, nil
}

// addAddress advances a by n logical pages.
func addAddress(geo Geometry, a Address, n uint32) (Address, error) {
	var err error
	for i := uint32(0); i < n; i++ {
		a, err = incAddress(geo, a)
		if err != nil {
			return Address{}, err
		}
	}
	return a, nil
}

// headerSizePage is always one logical page: the header record is
// designed to fit comfortably within any valid logical page size.
const headerSizePage = 1

func entryListSizePage(cfg Config) uint16 {
	entriesPerPage := int(cfg.Geometry.LogicalPageBytes) / entryRecordSize()
	pages := (cfg.EntryNumMax + entriesPerPage - 1) / entriesPerPage
	if pages < 1 {
		pages = 1
	}
	return uint16(pages)
}

func freeSpaceBitmapSizePage(cfg Config) uint16 {
	totalPages := uint32(cfg.Geometry.FSBlocks()) * uint32(cfg.Geometry.LogicalPagesPerBlock())
	bits := totalPages * 2
	bytesNeeded := (bits + 7) / 8
	pages := (bytesNeeded + cfg.Geometry.LogicalPageBytes - 1) / cfg.Geometry.LogicalPageBytes
	if pages < 1 {
		pages = 1
	}
	return uint16(pages)
}

func deltaMapSizePage(cfg Config) uint16 {
	return uint16(cfg.DeltaMapPageNum)
}

func wearLevelListSizePage(cfg Config) uint16 {
	entrySize := binary.Size(wearLevelEntry{})
	totalBytes := int(cfg.Geometry.FSBlocks()) * entrySize
	pages := (totalBytes + int(cfg.Geometry.LogicalPageBytes) - 1) / int(cfg.Geometry.LogicalPageBytes)
	if pages < 1 {
		pages = 1
	}
	return uint16(pages)
}

// managementAreaSizePage is the total logical-page footprint of one
// management area's fixed regions (header, entry list, FSBM, delta
// map, wear list) — spec §6's "On-media layout per management area".
func managementAreaSizePage(cfg Config) uint16 {
	return headerSizePage +
		entryListSizePage(cfg) +
		freeSpaceBitmapSizePage(cfg) +
		deltaMapSizePage(cfg) +
		wearLevelListSizePage(cfg)
}
