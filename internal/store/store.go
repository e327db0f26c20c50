// Package store implements the Property Store: a concurrently-accessed,
// XML-backed key/value map with the cache-invalidation and last-writer
// protocol described in spec.md §4.C. It is modeled on the teacher's
// internal/db.Store (internal/db/store.go): one backing resource opened or
// created at construction, exposed through a narrow typed API, with the
// XML DOM in internal/plist playing the role the teacher gives SQLite.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sjef-go/sjef/internal/lock"
	"github.com/sjef-go/sjef/internal/plist"
	"github.com/sjef-go/sjef/internal/sjeferr"
)

const sentinelSuffix = ".writing_object"

// writerID identifies this process instance as a plist writer. Per
// spec.md §9's Open Question, the original's pointer-based identity has no
// portable Go analogue, so identity is pid:instance-counter instead.
var instanceCounter int64

func newWriterID() string {
	n := atomic.AddInt64(&instanceCounter, 1)
	return fmt.Sprintf("%d:%d", os.Getpid(), n)
}

// Store is the Property Store for one project's Info.plist.
type Store struct {
	path         string // Info.plist
	sentinelPath string // .Info.plist.writing_object
	locker       *lock.Locker
	owner        any
	writerID     string

	mu       sync.Mutex
	cached   *plist.Document
	cachedAt int64 // unix nanoseconds of the mtime this cache reflects
}

// Open binds a Store to path (the Info.plist file), creating an empty
// document if it does not already exist.
func Open(path string, owner any) (*Store, error) {
	locker, err := lock.For(filepath.Dir(path), "")
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:         path,
		sentinelPath: filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+sentinelSuffix),
		locker:       locker,
		owner:        owner,
		writerID:     newWriterID(),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		bolt, err := s.locker.Bolt(s.owner)
		if err != nil {
			return nil, err
		}
		defer bolt.Release()
		if err := s.writeLocked(plist.New()); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Get returns the value for key, or "" if absent.
func (s *Store) Get(key string) (string, error) {
	m, err := s.GetMany([]string{key})
	if err != nil {
		return "", err
	}
	return m[key], nil
}

// GetMany returns entries only for the keys that are present.
func (s *Store) GetMany(keys []string) (map[string]string, error) {
	bolt, err := s.locker.Bolt(s.owner)
	if err != nil {
		return nil, err
	}
	defer bolt.Release()

	doc, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	return doc.GetMany(keys), nil
}

// Names returns every key in insertion order.
func (s *Store) Names() ([]string, error) {
	bolt, err := s.locker.Bolt(s.owner)
	if err != nil {
		return nil, err
	}
	defer bolt.Release()

	doc, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	return doc.Names(), nil
}

// Set writes a single key/value pair atomically.
func (s *Store) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany writes a whole map atomically, with a single save of the backing
// file.
func (s *Store) SetMany(values map[string]string) error {
	bolt, err := s.locker.Bolt(s.owner)
	if err != nil {
		return err
	}
	defer bolt.Release()

	doc, err := s.currentLocked()
	if err != nil {
		return err
	}
	doc.SetMany(values)
	return s.writeLocked(doc)
}

// Delete removes a single key.
func (s *Store) Delete(key string) error {
	return s.DeleteMany([]string{key})
}

// DeleteMany removes every key in keys.
func (s *Store) DeleteMany(keys []string) error {
	bolt, err := s.locker.Bolt(s.owner)
	if err != nil {
		return err
	}
	defer bolt.Release()

	doc, err := s.currentLocked()
	if err != nil {
		return err
	}
	doc.DeleteMany(keys)
	return s.writeLocked(doc)
}

// currentLocked implements the cache-invalidation protocol of spec.md §4.C.
// Must be called with the Locker bolted.
func (s *Store) currentLocked() (*plist.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrPropertyStore, "stat "+s.path, err)
	}
	mtime := info.ModTime().UnixNano()

	needsReload := s.cached == nil
	if !needsReload {
		switch {
		case mtime > s.cachedAt:
			needsReload = true
		case mtime == s.cachedAt && !s.lastWriterIsMe():
			// Two writers landed in the same mtime quantum: back-date our
			// cache by one tick so the next check reloads unconditionally.
			s.cachedAt--
		}
	}

	if needsReload {
		doc, err := plist.Load(s.path)
		if err != nil {
			return nil, sjeferr.Wrap(sjeferr.ErrPropertyStore, "load "+s.path, err)
		}
		s.cached = doc
		s.cachedAt = mtime
	}

	return s.cached, nil
}

func (s *Store) lastWriterIsMe() bool {
	data, err := os.ReadFile(s.sentinelPath)
	if err != nil {
		return false
	}
	return string(data) == s.writerID
}

// writeLocked saves doc to disk, updates the writer sentinel, and refreshes
// the cache. Must be called with the Locker bolted.
func (s *Store) writeLocked(doc *plist.Document) error {
	if err := doc.Save(s.path); err != nil {
		return sjeferr.Wrap(sjeferr.ErrPropertyStore, "save "+s.path, err)
	}
	if err := os.WriteFile(s.sentinelPath, []byte(s.writerID), 0o644); err != nil {
		return sjeferr.Wrap(sjeferr.ErrPropertyStore, "write sentinel "+s.sentinelPath, err)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return sjeferr.Wrap(sjeferr.ErrPropertyStore, "stat after save "+s.path, err)
	}

	s.mu.Lock()
	s.cached = doc
	s.cachedAt = info.ModTime().UnixNano()
	s.mu.Unlock()

	return nil
}
