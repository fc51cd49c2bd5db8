package pifs

import (
	"bytes"
	"os"
	"testing"
)

// Two linked names read the same content, and removing one leaves the
// other intact (spec §9 "Supplemented features", hard link).
func TestLinkSharesContentAndSurvivesOneRemoval(t *testing.T) {
	fs, _ := newFormattedFS(t)
	data := []byte("shared content")
	writeWholeFile(t, fs, "orig.txt", data)

	if err := fs.Link("orig.txt", "alias.txt"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	got := readWholeFile(t, fs, "alias.txt")
	if !bytes.Equal(got, data) {
		t.Fatalf("alias.txt content = %q, want %q", got, data)
	}

	if err := fs.Remove("orig.txt"); err != nil {
		t.Fatalf("Remove orig.txt: %v", err)
	}
	got = readWholeFile(t, fs, "alias.txt")
	if !bytes.Equal(got, data) {
		t.Fatalf("alias.txt content after removing orig.txt = %q, want %q", got, data)
	}
	if _, err := fs.FileSize("orig.txt"); StatusOf(err) != StatusFileNotFound {
		t.Fatalf("orig.txt should be gone, got err=%v", err)
	}

	if err := fs.Remove("alias.txt"); err != nil {
		t.Fatalf("Remove alias.txt: %v", err)
	}
	if n, err := fs.Check(); err != nil || n != 0 {
		t.Fatalf("Check after both links removed: n=%d err=%v", n, err)
	}
}

// Linking onto an existing name fails, and linking a missing target
// fails, without disturbing either namespace.
func TestLinkErrors(t *testing.T) {
	fs, _ := newFormattedFS(t)
	writeWholeFile(t, fs, "a.txt", []byte("a"))
	writeWholeFile(t, fs, "b.txt", []byte("b"))

	if err := fs.Link("missing.txt", "c.txt"); StatusOf(err) != StatusFileNotFound {
		t.Fatalf("linking a missing target: got %v, want StatusFileNotFound", err)
	}
	if err := fs.Link("a.txt", "b.txt"); StatusOf(err) != StatusFileAlreadyExist {
		t.Fatalf("linking onto an existing name: got %v, want StatusFileAlreadyExist", err)
	}

	fh, err := fs.OpenFile("empty.txt", os.O_CREATE|os.O_WRONLY)
	if err != nil {
		t.Fatalf("OpenFile empty.txt: %v", err)
	}
	if err := fs.CloseFile(fh); err != nil {
		t.Fatalf("CloseFile empty.txt: %v", err)
	}
	if err := fs.Link("empty.txt", "empty-alias.txt"); err == nil {
		t.Fatalf("linking a never-written file should fail, there is no chain address to key the link on")
	}
}

// Truncating one linked name must not corrupt the content still
// referenced by the other.
func TestTruncateLinkedFileDetachesChain(t *testing.T) {
	fs, _ := newFormattedFS(t)
	data := []byte("original bytes")
	writeWholeFile(t, fs, "orig.txt", data)
	if err := fs.Link("orig.txt", "alias.txt"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	fh, err := fs.OpenFile("orig.txt", os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		t.Fatalf("OpenFile O_TRUNC: %v", err)
	}
	if _, err := fs.WriteFile(fh, []byte("new")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fs.CloseFile(fh); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	got := readWholeFile(t, fs, "alias.txt")
	if !bytes.Equal(got, data) {
		t.Fatalf("alias.txt content after truncating orig.txt = %q, want unchanged %q", got, data)
	}
	got2 := readWholeFile(t, fs, "orig.txt")
	if !bytes.Equal(got2, []byte("new")) {
		t.Fatalf("orig.txt content after truncate+write = %q, want %q", got2, "new")
	}
}

// Linked names survive a merge without the chain diverging (spec
// §4.11): each sibling's content must still match after reclamation.
func TestLinkSurvivesMerge(t *testing.T) {
	fs, _ := newFormattedFS(t)
	data := []byte("merge me")
	writeWholeFile(t, fs, "orig.txt", data)
	if err := fs.Link("orig.txt", "alias.txt"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if err := fs.merge(); err != nil {
		t.Fatalf("merge: %v", err)
	}

	for _, name := range []string{"orig.txt", "alias.txt"} {
		got := readWholeFile(t, fs, name)
		if !bytes.Equal(got, data) {
			t.Fatalf("%s content after merge = %q, want %q", name, got, data)
		}
	}

	if err := fs.Remove("orig.txt"); err != nil {
		t.Fatalf("Remove orig.txt: %v", err)
	}
	got := readWholeFile(t, fs, "alias.txt")
	if !bytes.Equal(got, data) {
		t.Fatalf("alias.txt after merge+remove sibling = %q, want %q", got, data)
	}
}
