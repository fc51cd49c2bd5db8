package pifs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"

	"pifs/device"
)

// Scenario 2: create a.dat with 512 bytes of 0..255,0..255, seek to
// start, overwrite the first 512 bytes with 255..0 descending. The
// overwrite must go through a delta entry rather than an erase.
func TestDeltaOverwriteScenario(t *testing.T) {
	fs, _ := newFormattedFS(t)

	original := make([]byte, 512)
	for i := range original {
		original[i] = byte(i % 256)
	}
	writeWholeFile(t, fs, "a.dat", original)

	fh, err := fs.OpenFile("a.dat", os.O_WRONLY)
	if err != nil {
		t.Fatalf("OpenFile for overwrite: %v", err)
	}
	if _, err := fs.SeekFile(fh, 0, io.SeekStart); err != nil {
		t.Fatalf("SeekFile: %v", err)
	}
	overwrite := make([]byte, 512)
	for i := range overwrite {
		overwrite[i] = byte(255 - i%256)
	}
	if _, err := fs.WriteFile(fh, overwrite); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}
	if err := fs.CloseFile(fh); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	n, err := fs.deltas.Count()
	if err != nil {
		t.Fatalf("deltas.Count: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected the overwrite to create at least one delta entry")
	}

	got := readWholeFile(t, fs, "a.dat")
	if !bytes.Equal(got, overwrite) {
		t.Fatalf("read back stale data after delta overwrite")
	}
}

// Scenario 3: create 16 distinct files, remove one, remount, confirm
// the removed file is gone, the other 15 survive, and a merge frees
// its pages.
func TestSixteenFilesRemoveOneScenario(t *testing.T) {
	fs, dev := newFormattedFS(t)

	names := make([]string, 16)
	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("f%d", i)
		names[i] = name
		data := bytes.Repeat([]byte{byte(i)}, 256)
		writeWholeFile(t, fs, name, data)
	}

	if err := fs.Remove("f7"); err != nil {
		t.Fatalf("Remove(f7): %v", err)
	}
	_, dataFreeBefore, _, _, err := fs.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs2 := remount(t, dev, testConfig())
	if _, err := fs2.FileSize("f7"); StatusOf(err) != StatusFileNotFound {
		t.Fatalf("f7 should be gone after remount, err=%v", err)
	}
	for i, name := range names {
		if name == "f7" {
			continue
		}
		got := readWholeFile(t, fs2, name)
		want := bytes.Repeat([]byte{byte(i)}, 256)
		if !bytes.Equal(got, want) {
			t.Fatalf("%s content changed across remount", name)
		}
	}

	if err := fs2.merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}
	_, dataFreeAfter, _, _, err := fs2.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace after merge: %v", err)
	}
	if dataFreeAfter < dataFreeBefore+1 {
		t.Fatalf("merge did not reclaim f7's page: before=%d after=%d", dataFreeBefore, dataFreeAfter)
	}
}

// Scenario 4: fill the data region to exhaustion, then confirm the
// filesystem reports NO_MORE_SPACE (or ENTRY_LIST_FULL) rather than
// corrupting state, and that the consistency check still passes.
func TestFillToExhaustionScenario(t *testing.T) {
	geo := Geometry{
		Blocks:           8,
		PagesPerBlock:    4,
		FlashPageBytes:   256,
		LogicalPageBytes: 256,
		ReservedBlocks:   0,
		ManagementBlocks: 2,
		ErasedByte:       0xFF,
	}
	cfg := DefaultConfig(geo)
	cfg.EntryNumMax = 8
	cfg.OpenFileNumMax = 2
	cfg.OpenDirNumMax = 1
	cfg.DeltaMapPageNum = 1
	cfg.LeastWearedBlockNum = 4

	dev, err := device.NewMemory(deviceGeometry(geo))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	fs, err := New(dev, cfg, LogSilent)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}

	var lastErr error
	for i := 0; ; i++ {
		name := fmt.Sprintf("pad%d", i)
		fh, err := fs.OpenFile(name, os.O_WRONLY|os.O_CREATE)
		if err != nil {
			lastErr = err
			break
		}
		if _, err := fs.WriteFile(fh, bytes.Repeat([]byte{0xAA}, 256)); err != nil {
			lastErr = err
			fs.CloseFile(fh)
			break
		}
		if err := fs.CloseFile(fh); err != nil {
			lastErr = err
			break
		}
	}
	if StatusOf(lastErr) != StatusNoMoreSpace && StatusOf(lastErr) != StatusEntryListFull {
		t.Fatalf("expected exhaustion to surface as NO_MORE_SPACE or ENTRY_LIST_FULL, got %v", lastErr)
	}

	// The filesystem must still be internally consistent.
	if n, err := fs.Check(); err != nil || n != 0 {
		t.Fatalf("Check after exhaustion: n=%d err=%v", n, err)
	}
}

// Scenario 5: a 3*LOGICAL_PAGE_BYTES+17 file, seek(END,-17), read 17
// bytes, compare against the tail of the generated sequence.
func TestBigFileSeekFromEndScenario(t *testing.T) {
	fs, _ := newFormattedFS(t)

	size := 3*256 + 17
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 256)
	}
	writeWholeFile(t, fs, "big", data)

	fh, err := fs.OpenFile("big", os.O_RDONLY)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer fs.CloseFile(fh)
	if _, err := fs.SeekFile(fh, -17, io.SeekEnd); err != nil {
		t.Fatalf("SeekFile(END,-17): %v", err)
	}
	tail := make([]byte, 17)
	n, err := fs.ReadFile(fh, tail)
	if err != nil && err != io.EOF {
		t.Fatalf("ReadFile tail: %v", err)
	}
	if n != 17 {
		t.Fatalf("read %d bytes, want 17", n)
	}
	want := data[size-17:]
	if !bytes.Equal(tail, want) {
		t.Fatalf("tail mismatch: got %v want %v", tail, want)
	}
}

// Scenario 6: repeatedly create and delete the same file name, driving
// many merges, and confirm wear stays tracked and bounded rather than
// concentrating without limit on a single block.
func TestChurnWearBoundScenario(t *testing.T) {
	fs, _ := newFormattedFS(t)

	for i := 0; i < 1000; i++ {
		fh, err := fs.OpenFile("churn", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			t.Fatalf("iteration %d: OpenFile: %v", i, err)
		}
		if _, err := fs.WriteFile(fh, []byte("churn payload")); err != nil {
			t.Fatalf("iteration %d: WriteFile: %v", i, err)
		}
		if err := fs.CloseFile(fh); err != nil {
			t.Fatalf("iteration %d: CloseFile: %v", i, err)
		}
		if err := fs.Remove("churn"); err != nil {
			t.Fatalf("iteration %d: Remove: %v", i, err)
		}
	}

	ranked, err := fs.wear.Ranked()
	if err != nil {
		t.Fatalf("wear.Ranked: %v", err)
	}
	least, most := ranked[0], ranked[len(ranked)-1]
	t.Logf("least-weared block %d wear=%d, most-weared block %d wear=%d", least.Block, least.Wear, most.Block, most.Wear)

	if NeedsStaticLeveling(fs.cfg, least.Wear, most.Wear, 0) {
		t.Logf("static leveling would be recommended for this spread")
	}

	// Even without an automatic leveling pass, churn confined to one
	// file name must not run any single block's wear unboundedly past
	// the number of merges that churn could plausibly have caused.
	if most.Wear > 1000 {
		t.Fatalf("most-weared block wear %d exceeds the number of churn iterations", most.Wear)
	}
}
