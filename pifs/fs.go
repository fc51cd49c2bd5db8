package pifs

import (
	"sync"

	"github.com/pkg/errors"

	"pifs/device"
)

// FS is the top-level handle: one coarse mutex serializes every
// operation (spec §5 "Concurrency model" — no background GC thread,
// reclamation happens synchronously inside the call that needed the
// space). Grounded on original_source/Src/pifs.c's pifs_fs_t plus the
// teacher's single-process-at-a-time CLI usage.
type FS struct {
	mu sync.Mutex

	dev    device.Device
	cfg    Config
	cache  *pageCache
	log    *fsLogger
	errors int

	primary   header
	secondary header
	active    *header // points at primary or secondary, whichever is current

	fsbm     *fsbm
	deltas   *deltaMap
	entries  *entryTable
	wear     *wearList
	maps     *mapChain

	openFiles map[int]*openFile
	nextFH    int
	openDirs  map[int]*openDir
	nextDH    int
}

// New wires an FS around dev without touching its contents; call
// Format on a blank device or Mount on one that already holds a
// filesystem.
func New(dev device.Device, cfg Config, level LogLevel) (*FS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fs := &FS{
		dev:       dev,
		cfg:       cfg,
		cache:     newPageCache(dev, cfg.Geometry),
		log:       newLogger(level),
		openFiles: make(map[int]*openFile),
		openDirs:  make(map[int]*openDir),
		maps:      newMapChain(nil, cfg.Geometry),
	}
	fs.maps.cache = fs.cache
	fs.secondary.Layout.ManagementBlock = invalidAddress
	return fs, nil
}

func (fs *FS) wireArea(h *header) {
	fs.fsbm = newFSBM(fs.cache, fs.cfg.Geometry, h.Layout.FSBM)
	fs.deltas = newDeltaMap(fs.cache, fs.cfg.Geometry, h.Layout.DeltaMap, h.Layout.DeltaMapPages, fs.cfg.Geometry.ErasedByte)
	fs.entries = newEntryTable(fs.cache, fs.cfg.Geometry, h.Layout.EntryList, h.Layout.EntryListPages, fs.cfg.Geometry.ErasedByte)
	fs.wear = newWearList(fs.cache, fs.cfg.Geometry, h.Layout.WearList)

	fs.entries.useDelta = fs.cfg.EntriesUseDelta
	fs.entries.deltas = fs.deltas
	fs.entries.allocPage = func() (Address, error) {
		a, _, err := fs.allocDataRun(1)
		return a, err
	}
	fs.entries.releasePage = func(a Address) error {
		return fs.fsbm.MarkToBeReleased(a, 1)
	}
}

// Format erases the whole device and writes a brand-new primary
// management area at the start of the FS region (spec §4.1 "Format").
func (fs *FS) Format() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.dev.Init(); err != nil {
		return errors.Wrap(err, "device init")
	}
	for b := uint16(0); b < fs.cfg.Geometry.Blocks; b++ {
		if err := fs.dev.Erase(b); err != nil {
			return errors.Wrapf(err, "erasing block %d", b)
		}
	}
	fs.cache.valid = false

	start := Address{Block: fs.cfg.Geometry.ReservedBlocks, Page: 0}
	layout, err := layoutArea(fs.cfg, start)
	if err != nil {
		return err
	}
	secondStart := Address{Block: start.Block + fs.cfg.Geometry.ManagementBlocks, Page: 0}
	h := header{
		Counter:          1,
		Layout:           layout,
		NextManagement:   secondStart,
		GeometryChecksum: geometryChecksum(fs.cfg.Geometry),
	}
	fs.wireArea(&h)

	if err := fs.markManagementAreaUsed(layout); err != nil {
		return err
	}
	if err := fs.initWearList(); err != nil {
		return err
	}
	h.LeastWeared, h.LeastWearedCount, h.WearLevelCntrMax, err = fs.buildWearSummary()
	if err != nil {
		return err
	}
	if err := writeHeaderAt(fs.cache, layout.ManagementBlock, h); err != nil {
		return err
	}
	fs.primary = h
	fs.active = &fs.primary
	return fs.cache.flush()
}

// buildWearSummary reads back the just-written wear list and produces
// the header's least-weared-blocks summary (spec §4.9): up to
// MaxLeastWeared blocks in ascending wear order, plus the single highest
// wear value seen, for dynamic/static leveling to bias off of without
// a full rescan.
func (fs *FS) buildWearSummary() ([MaxLeastWeared]leastWearedEntry, uint8, uint32, error) {
	var out [MaxLeastWeared]leastWearedEntry
	ranked, err := fs.wear.Ranked()
	if err != nil {
		return out, 0, 0, err
	}
	least, err := fs.wear.LeastWeared(fs.cfg.LeastWearedBlockNum)
	if err != nil {
		return out, 0, 0, err
	}
	for i, bw := range least {
		out[i] = leastWearedEntry{Block: bw.Block, Cntr: bw.Wear}
	}
	var max uint32
	for _, bw := range ranked {
		if bw.Wear > max {
			max = bw.Wear
		}
	}
	return out, uint8(len(least)), max, nil
}

// initWearList zeroes every block's wear entry; without this step a
// freshly erased wear list would decode as Cntr=0xFFFF, Bits=0xFF
// (the erased byte pattern) instead of zero wear.
func (fs *FS) initWearList() error {
	for i := uint16(0); i < fs.cfg.Geometry.FSBlocks(); i++ {
		block := fs.cfg.Geometry.ReservedBlocks + i
		if err := fs.wear.write(block, wearLevelEntry{}); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) markManagementAreaUsed(layout areaLayout) error {
	if err := fs.fsbm.MarkUsed(layout.ManagementBlock, headerSizePage); err != nil {
		return err
	}
	if err := fs.fsbm.MarkUsed(layout.EntryList, layout.EntryListPages); err != nil {
		return err
	}
	if err := fs.fsbm.MarkUsed(layout.FSBM, layout.FSBMPages); err != nil {
		return err
	}
	if err := fs.fsbm.MarkUsed(layout.DeltaMap, layout.DeltaMapPages); err != nil {
		return err
	}
	if err := fs.fsbm.MarkUsed(layout.WearList, layout.WearListPages); err != nil {
		return err
	}
	return nil
}

// Mount scans every management block's first logical page for a valid
// header (spec §4.6: "the one with the largest counter is
// authoritative") and activates whichever has the highest counter.
// Format and merge only ever place a management area at one of the
// two fixed slots geometry allows, so the scan checks both rather than
// trusting either candidate's own NextManagement pointer — after a
// completed merge the previously-active slot is erased and its
// pointer along with it, but the slot address itself is still
// deterministic from geometry alone.
func (fs *FS) Mount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.dev.Init(); err != nil {
		return errors.Wrap(err, "device init")
	}

	slotA := Address{Block: fs.cfg.Geometry.ReservedBlocks, Page: 0}
	slotB := Address{Block: slotA.Block + fs.cfg.Geometry.ManagementBlocks, Page: 0}

	var best *headerRecord
	for _, slot := range []Address{slotA, slotB} {
		rec, err := readHeaderAt(fs.cache, fs.cfg.Geometry, slot)
		if err != nil {
			return errors.Wrapf(err, "reading header at block %d", slot.Block)
		}
		if !rec.validChecksum() {
			continue
		}
		if best == nil || rec.Counter > best.Counter {
			r := rec
			best = &r
		}
	}
	if best == nil {
		return newStatusError(StatusFlashInit, "no valid header found, device is not formatted")
	}
	h := recordToHeader(*best)
	if fs.cfg.EnableConfigInFlash && h.GeometryChecksum != geometryChecksum(fs.cfg.Geometry) {
		return newStatusError(StatusConfiguration, "geometry checksum in flash does not match this build's configuration")
	}
	fs.primary = h
	fs.active = &fs.primary
	fs.wireArea(fs.active)
	return nil
}

// Close flushes the cache and releases open handles.
func (fs *FS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.openFiles = make(map[int]*openFile)
	fs.openDirs = make(map[int]*openDir)
	return fs.cache.flush()
}

// Flush forces the write-back cache to the device.
func (fs *FS) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.cache.flush()
}

// Check runs the consistency checker (spec §4.12) and returns the
// number of inconsistencies found.
func (fs *FS) Check() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return runConsistencyCheck(fs)
}

// FreeSpace reports free and to-be-released page counts, split
// between management and data blocks (spec §8 telemetry scenarios).
func (fs *FS) FreeSpace() (mgmtFree, dataFree, mgmtTBR, dataTBR uint32, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.fsbm.CountFreeAndTBR(fs.blockKind)
}

func (fs *FS) blockKind(block uint16) blockKind {
	if block < fs.cfg.Geometry.ReservedBlocks {
		return blockKindReserved
	}
	if fs.inArea(block, fs.primary.Layout) {
		return blockKindPrimaryManagement
	}
	if next := fs.primary.NextManagement; next.IsValid() && inMgmtArea(block, next.Block, fs.cfg.Geometry.ManagementBlocks) {
		return blockKindSecondaryManagement
	}
	return blockKindData
}

func (fs *FS) inArea(block uint16, layout areaLayout) bool {
	mgmtBlocks := fs.cfg.Geometry.ManagementBlocks
	start := layout.ManagementBlock.Block
	return block >= start && block < start+mgmtBlocks
}

// dataBlockPredicate admits any block outside both management areas.
func (fs *FS) dataBlockPredicate() blockPredicate {
	return func(block uint16) bool {
		return fs.blockKind(block) == blockKindData
	}
}
