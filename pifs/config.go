package pifs

import (
	"github.com/pkg/errors"
)

// Geometry describes the compile-time-fixed physical and logical shape
// of one filesystem instance (spec §3 "Geometry").
type Geometry struct {
	// Blocks is the total number of physical blocks the device exposes.
	Blocks uint16
	// PagesPerBlock is the flash page count per block.
	PagesPerBlock uint16
	// FlashPageBytes is the device's program granularity.
	FlashPageBytes uint32
	// LogicalPageBytes is the FS allocation unit; must be a power of
	// two multiple of FlashPageBytes.
	LogicalPageBytes uint32
	// ReservedBlocks is a prefix of blocks the FS never touches.
	ReservedBlocks uint16
	// ManagementBlocks is the block count of one management area; two
	// such areas (primary + secondary) are always reserved.
	ManagementBlocks uint16
	// ErasedByte is the polarity left by Erase (0xFF on typical NOR).
	ErasedByte byte
}

// BlockBytes is the physical size of one block.
func (g Geometry) BlockBytes() uint32 {
	return uint32(g.PagesPerBlock) * g.FlashPageBytes
}

// LogicalPagesPerBlock is the allocation granularity per block.
func (g Geometry) LogicalPagesPerBlock() uint16 {
	return uint16(g.BlockBytes() / g.LogicalPageBytes)
}

// FlashPagesPerLogicalPage is how many physical pages back one logical
// page (§4.2: the cache is the sole place that performs this split).
func (g Geometry) FlashPagesPerLogicalPage() uint16 {
	return uint16(g.LogicalPageBytes / g.FlashPageBytes)
}

// FSBlocks is the number of blocks actually managed by the FS (total
// minus the reserved prefix).
func (g Geometry) FSBlocks() uint16 {
	return g.Blocks - g.ReservedBlocks
}

func isPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// Validate checks the invariants spec §6's "Configuration envelopes"
// names: logical page size is a power of two and at least the flash
// page size, management area count is at least one, and the reserved
// prefix plus two management areas still leaves room for data.
func (g Geometry) Validate() error {
	if g.Blocks == 0 || g.PagesPerBlock == 0 || g.FlashPageBytes == 0 {
		return newStatusError(StatusConfiguration, "block/page/flash-page-size fields must be non-zero")
	}
	if g.LogicalPageBytes < g.FlashPageBytes {
		return newStatusError(StatusConfiguration, "logical page must be >= flash page size")
	}
	if !isPowerOfTwo(g.LogicalPageBytes) {
		return newStatusError(StatusConfiguration, "logical page size must be a power of two")
	}
	if g.LogicalPageBytes%g.FlashPageBytes != 0 {
		return newStatusError(StatusConfiguration, "logical page size must be a multiple of flash page size")
	}
	if g.ManagementBlocks == 0 {
		return newStatusError(StatusConfiguration, "management blocks must be >= 1")
	}
	if int(g.ReservedBlocks)+2*int(g.ManagementBlocks) >= int(g.Blocks) {
		return newStatusError(StatusConfiguration, "not enough blocks for reserved prefix plus two management areas")
	}
	return nil
}

// Config bundles Geometry with the remaining compile-time envelopes
// (spec §6 "Configuration (compile-time) envelopes"), supplemented by
// original_source/Inc/pifs_config.h's concrete knobs.
type Config struct {
	Geometry Geometry

	OpenFileNumMax  int
	OpenDirNumMax   int
	FilenameLenMax  int
	EntryNumMax     int
	DeltaMapPageNum int

	// LeastWearedBlockNum bounds the header's least-weared summary list.
	LeastWearedBlockNum int

	EnableUserData        bool
	EnableConfigInFlash   bool
	CheckIfPageIsErased   bool
	EntriesUseDelta       bool
	EnableFseekBeyondFile bool
	FseekErasedFillByte   bool
	CalcTBRInFreeSpace    bool
	EnableDirectories     bool // single-level only, see SPEC_FULL.md

	StaticWearLevelLimit   uint16
	StaticWearLevelPercent int

	PathSeparator byte
}

// MaxFilenameLen is the hard compile-time cap backing the on-disk
// entry record; Config.FilenameLenMax must not exceed it.
const MaxFilenameLen = 32

// MaxLeastWeared is the hard compile-time cap backing the header's
// least-weared summary array; Config.LeastWearedBlockNum must not
// exceed it.
const MaxLeastWeared = 8

// DefaultConfig mirrors original_source/Inc/pifs_config.h's defaults,
// scaled to a geometry suitable for tests and the CLI's throwaway use.
func DefaultConfig(geo Geometry) Config {
	return Config{
		Geometry:               geo,
		OpenFileNumMax:          4,
		OpenDirNumMax:           2,
		FilenameLenMax:          MaxFilenameLen,
		EntryNumMax:             32,
		DeltaMapPageNum:         2,
		LeastWearedBlockNum:     6,
		EnableUserData:          true,
		EnableConfigInFlash:     true,
		CheckIfPageIsErased:     true,
		EntriesUseDelta:         false,
		EnableFseekBeyondFile:   true,
		FseekErasedFillByte:     false,
		CalcTBRInFreeSpace:      false,
		EnableDirectories:       false,
		StaticWearLevelLimit:    20,
		StaticWearLevelPercent:  10,
		PathSeparator:           '/',
	}
}

// Validate checks Config's own envelopes in addition to Geometry's.
func (c Config) Validate() error {
	if err := c.Geometry.Validate(); err != nil {
		return err
	}
	if c.FilenameLenMax <= 0 || c.FilenameLenMax > MaxFilenameLen {
		return newStatusErrorf(StatusConfiguration, "filename length max must be in (0,%d]", MaxFilenameLen)
	}
	if c.LeastWearedBlockNum <= 0 || c.LeastWearedBlockNum > MaxLeastWeared {
		return newStatusErrorf(StatusConfiguration, "least-weared block count must be in (0,%d]", MaxLeastWeared)
	}
	if c.OpenFileNumMax <= 0 || c.OpenDirNumMax <= 0 {
		return newStatusError(StatusConfiguration, "open file/dir maxima must be positive")
	}
	if c.EntryNumMax <= 0 {
		return newStatusError(StatusConfiguration, "entry count max must be positive")
	}
	if c.DeltaMapPageNum <= 0 {
		return newStatusError(StatusConfiguration, "delta map page count must be positive")
	}
	entrySize := entryRecordSize()
	entriesPerPage := int(c.Geometry.LogicalPageBytes) / entrySize
	if entriesPerPage == 0 {
		return errors.New("entry record does not fit in one logical page")
	}
	return nil
}
