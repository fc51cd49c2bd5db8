package pifs

import (
	"bytes"
	"testing"
)

// A completed merge erases the previously-active management area, so
// a fresh Mount must find the surviving header by scanning both fixed
// management slots rather than trusting the erased one's own
// NextManagement pointer (spec §4.6, §4.11 step 12's steady-state
// crash-consistency property).
func TestMountSucceedsAfterMergeErasesPrimarySlot(t *testing.T) {
	fs, dev := newFormattedFS(t)
	data := []byte("content that must survive a merge and a remount")
	writeWholeFile(t, fs, "a.dat", data)

	if err := fs.merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fs2 := remount(t, dev, testConfig())
	got := readWholeFile(t, fs2, "a.dat")
	if !bytes.Equal(got, data) {
		t.Fatalf("content after merge+remount = %q, want %q", got, data)
	}

	// A second merge swaps the active area back to the original slot;
	// mounting again must still find it.
	if err := fs2.merge(); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if err := fs2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fs3 := remount(t, dev, testConfig())
	got = readWholeFile(t, fs3, "a.dat")
	if !bytes.Equal(got, data) {
		t.Fatalf("content after second merge+remount = %q, want %q", got, data)
	}
}

// A header with a wrong magic or version is never treated as a valid
// mount candidate, even if its checksum happens to match (spec §4.6:
// "valid magic and version").
func TestHeaderRecordRejectsWrongMagicOrVersion(t *testing.T) {
	h := header{Counter: 1, GeometryChecksum: 42}
	rec := headerToRecord(h)
	if !rec.validChecksum() {
		t.Fatalf("freshly encoded header record should validate")
	}

	bad := rec
	bad.Magic ^= 0xFF
	if bad.validChecksum() {
		t.Fatalf("a record with a corrupted magic must not validate")
	}

	bad = rec
	bad.VersionMajor++
	if bad.validChecksum() {
		t.Fatalf("a record with a mismatched major version must not validate")
	}
}
