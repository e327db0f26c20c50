package recent

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func TestEditAddsNewestFirst(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "mysuffix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a := filepath.Join(root, "a.mysuffix")
	b := filepath.Join(root, "b.mysuffix")
	touch(t, a)
	touch(t, b)

	if err := l.Edit(a, ""); err != nil {
		t.Fatalf("Edit a: %v", err)
	}
	if err := l.Edit(b, ""); err != nil {
		t.Fatalf("Edit b: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 2 || entries[0] != b || entries[1] != a {
		t.Fatalf("entries = %v, want [%s %s]", entries, b, a)
	}
}

func TestEditRemovesEntry(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "mysuffix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a := filepath.Join(root, "a.mysuffix")
	touch(t, a)

	if err := l.Edit(a, ""); err != nil {
		t.Fatalf("Edit add: %v", err)
	}
	if err := l.Edit("", a); err != nil {
		t.Fatalf("Edit remove: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %v, want empty", entries)
	}
}

func TestEditDropsStaleEntries(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "mysuffix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	stale := filepath.Join(root, "gone.mysuffix")
	touch(t, stale)
	if err := l.Edit(stale, ""); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := os.Remove(stale); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	fresh := filepath.Join(root, "fresh.mysuffix")
	touch(t, fresh)
	if err := l.Edit(fresh, ""); err != nil {
		t.Fatalf("Edit fresh: %v", err)
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0] != fresh {
		t.Fatalf("entries = %v, want [%s]", entries, fresh)
	}
}

func TestEditCapsAtMaxEntries(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "mysuffix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var last string
	for i := 0; i < MaxEntries+10; i++ {
		p := filepath.Join(root, "p"+strconv.Itoa(i)+".mysuffix")
		touch(t, p)
		if err := l.Edit(p, ""); err != nil {
			t.Fatalf("Edit %d: %v", i, err)
		}
		last = p
	}

	entries, err := l.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != MaxEntries {
		t.Fatalf("len(entries) = %d, want %d", len(entries), MaxEntries)
	}
	if entries[0] != last {
		t.Fatalf("entries[0] = %q, want %q", entries[0], last)
	}
}

func TestIndexOfReturnsOneBasedPosition(t *testing.T) {
	root := t.TempDir()
	l, err := Open(root, "mysuffix")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a := filepath.Join(root, "a.mysuffix")
	b := filepath.Join(root, "b.mysuffix")
	touch(t, a)
	touch(t, b)
	if err := l.Edit(a, ""); err != nil {
		t.Fatalf("Edit a: %v", err)
	}
	if err := l.Edit(b, ""); err != nil {
		t.Fatalf("Edit b: %v", err)
	}

	idx, err := l.IndexOf(a)
	if err != nil {
		t.Fatalf("IndexOf: %v", err)
	}
	if idx != 2 {
		t.Fatalf("IndexOf(a) = %d, want 2", idx)
	}

	idx, err = l.IndexOf(filepath.Join(root, "missing.mysuffix"))
	if err != nil {
		t.Fatalf("IndexOf missing: %v", err)
	}
	if idx != 0 {
		t.Fatalf("IndexOf(missing) = %d, want 0", idx)
	}
}
