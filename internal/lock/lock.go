// Package lock provides re-entrant, owner-aware, cross-process exclusive
// locking on a file path. A Locker is interned process-globally per
// absolute path, so every Project referring to the same lock file shares
// one Locker instance — mirroring the way the teacher's internal/cache
// package keeps one shared, mutex-guarded map behind a constructor function
// rather than handing callers independent state.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

// Locker guards exclusive access to one lock file. It is both
// thread-exclusive (an internal mutex) and process-exclusive (an OS
// advisory file lock acquired with flock(2)).
type Locker struct {
	path string
	file *os.File
	fd   int

	mu sync.Mutex

	stateMu sync.Mutex
	owner   any
	depth   int
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Locker{}
)

// For resolves the shared Locker for path, creating the backing lock file
// if necessary. If path names a directory, the effective lock target is
// "<dir>/.lock" (or "<dir>/<stem>.lock" when stemHint is non-empty). The
// lock file is created if absent and is never deleted or modified by the
// Locker.
func For(path string, stemHint string) (*Locker, error) {
	target, err := lockFileFor(path, stemHint)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[target]; ok {
		return existing, nil
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, sjeferr.Wrap(sjeferr.ErrLockIO, "create lock directory "+dir, err)
		}
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrLockIO, "open lock file "+target, err)
	}

	l := &Locker{path: target, file: f, fd: int(f.Fd())}
	registry[target] = l
	return l, nil
}

func lockFileFor(path string, stemHint string) (string, error) {
	info, err := os.Stat(path)
	isDir := err == nil && info.IsDir()
	if err != nil && !os.IsNotExist(err) {
		return "", sjeferr.Wrap(sjeferr.ErrLockIO, "stat "+path, err)
	}

	target := path
	if isDir {
		name := ".lock"
		if stemHint != "" {
			name = stemHint + ".lock"
		}
		target = filepath.Join(path, name)
	}

	abs, err := filepath.Abs(target)
	if err != nil {
		return "", sjeferr.Wrap(sjeferr.ErrLockIO, "resolve absolute path for "+target, err)
	}
	return abs, nil
}

// Bolt is a scoped acquisition of a Locker. Release it on every exit path
// (typically via defer).
type Bolt struct {
	locker *Locker
}

// Bolt acquires the lock on behalf of owner. If owner already holds the
// lock, the acquisition is re-entrant: it succeeds immediately and
// increments a depth counter. Any other owner blocks until the current
// holder releases completely.
//
// owner identifies the logical holder across re-entrant calls. Go has no
// cheap, stable goroutine-id in the standard library, so callers pass a
// stable token (typically the *Project pointer) rather than relying on an
// implicit thread identity the way the original C++ implementation keyed
// re-entrancy off std::thread::id.
func (l *Locker) Bolt(owner any) (*Bolt, error) {
	l.stateMu.Lock()
	if l.depth > 0 && l.owner == owner {
		l.depth++
		l.stateMu.Unlock()
		return &Bolt{locker: l}, nil
	}
	l.stateMu.Unlock()

	l.mu.Lock()

	if err := unix.Flock(l.fd, unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		return nil, sjeferr.Wrap(sjeferr.ErrLockIO, "flock "+l.path, err)
	}

	l.stateMu.Lock()
	l.owner = owner
	l.depth = 1
	l.stateMu.Unlock()

	return &Bolt{locker: l}, nil
}

// Release returns the bolt. Only the outermost release actually drops the
// OS-level lock.
func (b *Bolt) Release() error {
	if b == nil || b.locker == nil {
		return nil
	}
	l := b.locker
	b.locker = nil

	l.stateMu.Lock()
	l.depth--
	if l.depth < 0 {
		l.stateMu.Unlock()
		return fmt.Errorf("lock: Release called too many times on %s", l.path)
	}
	outermost := l.depth == 0
	if outermost {
		l.owner = nil
	}
	l.stateMu.Unlock()

	if !outermost {
		return nil
	}

	err := unix.Flock(l.fd, unix.LOCK_UN)
	l.mu.Unlock()
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrLockIO, "unlock "+l.path, err)
	}
	return nil
}

// Path returns the absolute path of the underlying lock file.
func (l *Locker) Path() string { return l.path }

// killMu is the process-global mutex serializing Job.Kill against
// concurrent status observation, per spec.md §4.F/§5. It lives beside the
// Locker registry because both are true process-wide singletons.
var killMu sync.Mutex

// KillMutex returns the process-global kill mutex shared by every Job.
func KillMutex() *sync.Mutex { return &killMu }
