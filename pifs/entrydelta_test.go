package pifs

import (
	"bytes"
	"testing"

	"pifs/device"
)

// With Config.EntriesUseDelta on, an entry rewrite that isn't
// bit-compatible in place goes through the delta map instead of
// retire-and-append, and the file still reads back correctly.
func TestEntriesUseDeltaRedirectsRewrites(t *testing.T) {
	geo := testGeometry()
	dev, err := device.NewMemory(deviceGeometry(geo))
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	cfg := testConfig()
	cfg.EntriesUseDelta = true
	fs, err := New(dev, cfg, LogSilent)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fs.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}

	data := []byte("entries via delta")
	writeWholeFile(t, fs, "a.txt", data)

	count, err := fs.deltas.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected at least one delta entry from the entry-table rewrite, got 0")
	}

	got := readWholeFile(t, fs, "a.txt")
	if !bytes.Equal(got, data) {
		t.Fatalf("content = %q, want %q", got, data)
	}
	if n, err := fs.Check(); err != nil || n != 0 {
		t.Fatalf("Check: n=%d err=%v", n, err)
	}
}
