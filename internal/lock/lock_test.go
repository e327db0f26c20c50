package lock

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestForInternsByAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.sjef")

	a, err := For(path, "")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	b, err := For(path, "")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if a != b {
		t.Fatalf("expected the same Locker instance for the same path")
	}
}

func TestBoltReentrant(t *testing.T) {
	dir := t.TempDir()
	l, err := For(filepath.Join(dir, "project.sjef"), "")
	if err != nil {
		t.Fatalf("For: %v", err)
	}

	owner := "owner-token"
	outer, err := l.Bolt(owner)
	if err != nil {
		t.Fatalf("Bolt: %v", err)
	}
	inner, err := l.Bolt(owner)
	if err != nil {
		t.Fatalf("re-entrant Bolt: %v", err)
	}
	if err := inner.Release(); err != nil {
		t.Fatalf("Release (inner): %v", err)
	}
	if err := outer.Release(); err != nil {
		t.Fatalf("Release (outer): %v", err)
	}
}

func TestBoltExcludesOtherOwners(t *testing.T) {
	dir := t.TempDir()
	l, err := For(filepath.Join(dir, "project.sjef"), "")
	if err != nil {
		t.Fatalf("For: %v", err)
	}

	bolt, err := l.Bolt("owner-a")
	if err != nil {
		t.Fatalf("Bolt: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		b, err := l.Bolt("owner-b")
		if err != nil {
			return
		}
		close(acquired)
		b.Release()
	}()

	select {
	case <-acquired:
		t.Fatalf("owner-b acquired the bolt while owner-a still held it")
	case <-time.After(100 * time.Millisecond):
	}

	if err := bolt.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("owner-b never acquired the bolt after owner-a released it")
	}
}

func TestKillMutexIsSingleton(t *testing.T) {
	a := KillMutex()
	b := KillMutex()
	if a != b {
		t.Fatalf("expected KillMutex to return the same *sync.Mutex")
	}
	var wg sync.WaitGroup
	wg.Add(1)
	a.Lock()
	go func() {
		defer wg.Done()
		b.Lock()
		b.Unlock()
	}()
	a.Unlock()
	wg.Wait()
}
