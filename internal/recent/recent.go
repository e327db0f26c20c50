// Package recent maintains the per-suffix recent-projects list: an
// ordered, newest-first list of absolute project paths, capped at 128
// entries, with non-existent entries silently dropped on every edit. This
// mirrors original_source/src/sjef/sjef.cpp's Project::recent_edit/recent_find:
// a Locker on the list's parent directory plus a process-wide mutex guard
// the read-modify-write-temp-then-rename cycle, per spec.md §4.G's "recent
// list" key invariant.
package recent

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"

	"github.com/sjef-go/sjef/internal/lock"
	"github.com/sjef-go/sjef/internal/sjeferr"
)

// MaxEntries is the cap on the recent-projects list, per spec.md §4.G.
const MaxEntries = 128

// editMutex serializes recent-list edits within this process, mirroring
// the original's process-wide s_recent_edit_mutex; the per-directory
// Locker in internal/lock still guards against other processes.
var editMutex sync.Mutex

// List is the recent-projects file for one suffix, rooted at
// <configRoot>/<suffix>/projects.
type List struct {
	dir  string
	path string
}

// Open returns a List backed by <configRoot>/<suffix>/projects, creating
// the directory if necessary.
func Open(configRoot, suffix string) (*List, error) {
	dir := filepath.Join(configRoot, suffix)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrLockIO, "create recent-projects directory "+dir, err)
	}
	return &List{dir: dir, path: filepath.Join(dir, "projects")}, nil
}

// Edit adds add (if non-empty) to the front of the list and removes
// remove (if non-empty), pruning any entry whose path no longer exists and
// truncating to MaxEntries, then atomically replaces the file.
func (l *List) Edit(add, remove string) error {
	editMutex.Lock()
	defer editMutex.Unlock()

	locker, err := lock.For(l.dir, "recent")
	if err != nil {
		return err
	}
	bolt, err := locker.Bolt(l)
	if err != nil {
		return err
	}
	defer bolt.Release()

	existing, err := readLines(l.path)
	if err != nil {
		return err
	}

	var out []string
	if add != "" {
		out = append(out, add)
	}
	for _, line := range existing {
		if len(out) >= MaxEntries {
			break
		}
		if line == remove || line == add {
			continue
		}
		if _, err := os.Stat(line); err != nil {
			continue
		}
		out = append(out, line)
	}

	return writeLinesAtomic(l.path, out)
}

// Entries returns the current list, newest first, pruned of entries that
// no longer exist on disk (without rewriting the file).
func (l *List) Entries() ([]string, error) {
	lines, err := readLines(l.path)
	if err != nil {
		return nil, err
	}
	out := lines[:0:0]
	for _, line := range lines {
		if _, err := os.Stat(line); err == nil {
			out = append(out, line)
		}
	}
	return out, nil
}

// IndexOf returns the 1-based position of path in the list (mirroring the
// original's recent_find, where 0 means "not present"), or 0 if absent.
func (l *List) IndexOf(path string) (int, error) {
	entries, err := l.Entries()
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if e == path {
			return i + 1, nil
		}
	}
	return 0, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrLockIO, "read recent-projects file "+path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrLockIO, "scan recent-projects file "+path, err)
	}
	return lines, nil
}

func writeLinesAtomic(path string, lines []string) error {
	tmp := path + "-"
	f, err := os.Create(tmp)
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrLockIO, "create temp recent-projects file "+tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			return sjeferr.Wrap(sjeferr.ErrLockIO, "write recent-projects file "+tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return sjeferr.Wrap(sjeferr.ErrLockIO, "flush recent-projects file "+tmp, err)
	}
	if err := f.Close(); err != nil {
		return sjeferr.Wrap(sjeferr.ErrLockIO, "close temp recent-projects file "+tmp, err)
	}
	return os.Rename(tmp, path)
}
