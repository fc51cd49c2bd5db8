package pifs

import (
	"bytes"
	"io"
	"os"
	"testing"

	"pifs/device"
)

// testGeometry is small enough to keep tests fast while still needing
// more than one block for data, matching spec §8's "logical page =
// 256 bytes, enough free space" scenario assumption.
func testGeometry() Geometry {
	return Geometry{
		Blocks:           24,
		PagesPerBlock:    8,
		FlashPageBytes:   256,
		LogicalPageBytes: 256,
		ReservedBlocks:   0,
		ManagementBlocks: 2,
		ErasedByte:       0xFF,
	}
}

func testConfig() Config {
	cfg := DefaultConfig(testGeometry())
	cfg.EntryNumMax = 32
	cfg.OpenFileNumMax = 8
	return cfg
}

func deviceGeometry(geo Geometry) device.Geometry {
	return device.Geometry{
		Blocks:        geo.Blocks,
		PagesPerBlock: geo.PagesPerBlock,
		PageBytes:     geo.FlashPageBytes,
		ErasedByte:    geo.ErasedByte,
	}
}

func newFormattedFS(t *testing.T) (*FS, device.Device) {
	t.Helper()
	dev, err := device.NewMemory(deviceGeometry(testGeometry()))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	fs, err := New(dev, testConfig(), LogSilent)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs, dev
}

func remount(t *testing.T, dev device.Device, cfg Config) *FS {
	t.Helper()
	fs, err := New(dev, cfg, LogSilent)
	if err != nil {
		t.Fatalf("New on remount: %v", err)
	}
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func writeWholeFile(t *testing.T, fs *FS, name string, data []byte) {
	t.Helper()
	fh, err := fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		t.Fatalf("OpenFile(%s) for write: %v", name, err)
	}
	if _, err := fs.WriteFile(fh, data); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
	if err := fs.CloseFile(fh); err != nil {
		t.Fatalf("CloseFile(%s): %v", name, err)
	}
}

func readWholeFile(t *testing.T, fs *FS, name string) []byte {
	t.Helper()
	fh, err := fs.OpenFile(name, os.O_RDONLY)
	if err != nil {
		t.Fatalf("OpenFile(%s) for read: %v", name, err)
	}
	defer fs.CloseFile(fh)
	var out bytes.Buffer
	buf := make([]byte, 64)
	for {
		n, err := fs.ReadFile(fh, buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFile(%s): %v", name, err)
		}
	}
	return out.Bytes()
}

// Scenario 1: fopen("a.dat","w") -> write 13 bytes -> fclose -> remount
// -> filesize and fread both match.
func TestHelloPiFSRoundTrip(t *testing.T) {
	fs, dev := newFormattedFS(t)
	content := []byte("Hello, PiFS!!")
	if len(content) != 13 {
		t.Fatalf("test fixture is %d bytes, want 13", len(content))
	}
	writeWholeFile(t, fs, "a.dat", content)
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs2 := remount(t, dev, testConfig())
	size, err := fs2.FileSize("a.dat")
	if err != nil {
		t.Fatalf("FileSize: %v", err)
	}
	if size != 13 {
		t.Fatalf("filesize = %d, want 13", size)
	}
	got := readWholeFile(t, fs2, "a.dat")
	if !bytes.Equal(got, content) {
		t.Fatalf("read back %q, want %q", got, content)
	}
}

// Round-trip property: for any D within capacity, write then read
// yields the same bytes back.
func TestWriteReadRoundTrip(t *testing.T) {
	fs, _ := newFormattedFS(t)
	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i * 7)
	}
	writeWholeFile(t, fs, "blob.bin", data)
	got := readWholeFile(t, fs, "blob.bin")
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestRenamePreservesSizeAndDropsOldName(t *testing.T) {
	fs, _ := newFormattedFS(t)
	writeWholeFile(t, fs, "old.txt", []byte("some content"))
	before, err := fs.FileSize("old.txt")
	if err != nil {
		t.Fatalf("FileSize before rename: %v", err)
	}
	if err := fs.Rename("old.txt", "new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	after, err := fs.FileSize("new.txt")
	if err != nil {
		t.Fatalf("FileSize after rename: %v", err)
	}
	if after != before {
		t.Fatalf("filesize changed across rename: before=%d after=%d", before, after)
	}
	if _, err := fs.FileSize("old.txt"); StatusOf(err) != StatusFileNotFound {
		t.Fatalf("old name still resolves: err=%v", err)
	}
}

func TestRemoveThenFreeSpaceRecoveredAfterMerge(t *testing.T) {
	fs, _ := newFormattedFS(t)
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	writeWholeFile(t, fs, "doomed.bin", data)

	_, dataFreeBefore, _, _, err := fs.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace: %v", err)
	}

	if err := fs.Remove("doomed.bin"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := fs.FileSize("doomed.bin"); StatusOf(err) != StatusFileNotFound {
		t.Fatalf("removed file still found: err=%v", err)
	}

	// TBR space is not free until a merge actually reclaims it.
	if err := fs.merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}
	_, dataFreeAfter, _, _, err := fs.FreeSpace()
	if err != nil {
		t.Fatalf("FreeSpace after merge: %v", err)
	}
	if dataFreeAfter <= dataFreeBefore {
		t.Fatalf("free data pages did not increase after merge: before=%d after=%d", dataFreeBefore, dataFreeAfter)
	}
}

func TestOpenNonexistentWithoutCreateFails(t *testing.T) {
	fs, _ := newFormattedFS(t)
	if _, err := fs.OpenFile("nope.txt", os.O_RDONLY); StatusOf(err) != StatusFileNotFound {
		t.Fatalf("expected StatusFileNotFound, got %v", err)
	}
}

func TestCreateExclOverExistingFails(t *testing.T) {
	fs, _ := newFormattedFS(t)
	writeWholeFile(t, fs, "dup.txt", []byte("x"))
	if _, err := fs.OpenFile("dup.txt", os.O_CREATE|os.O_EXCL|os.O_WRONLY); StatusOf(err) != StatusFileAlreadyExist {
		t.Fatalf("expected StatusFileAlreadyExist, got %v", err)
	}
}

// Invariant: after any complete public call, the consistency checker
// finds zero inconsistencies.
func TestConsistencyCheckCleanAfterOrdinaryOps(t *testing.T) {
	fs, _ := newFormattedFS(t)
	writeWholeFile(t, fs, "one.txt", []byte("alpha"))
	writeWholeFile(t, fs, "two.txt", []byte("beta"))
	if err := fs.Remove("one.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	n, err := fs.Check()
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n != 0 {
		t.Fatalf("Check found %d inconsistencies, want 0", n)
	}
}

func TestDirectoryListingSkipsDeleted(t *testing.T) {
	fs, _ := newFormattedFS(t)
	writeWholeFile(t, fs, "keep.txt", []byte("k"))
	writeWholeFile(t, fs, "gone.txt", []byte("g"))
	if err := fs.Remove("gone.txt"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	dh, err := fs.OpenDir()
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer fs.CloseDir(dh)
	var names []string
	for {
		e, ok, err := fs.ReadDir(dh)
		if err != nil {
			t.Fatalf("ReadDir: %v", err)
		}
		if !ok {
			break
		}
		names = append(names, e.Name)
	}
	if len(names) != 1 || names[0] != "keep.txt" {
		t.Fatalf("directory listing = %v, want [keep.txt]", names)
	}
}
