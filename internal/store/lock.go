// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"sync"
)

// errFlockUnavailable is returned by acquireFlock on platforms without
// flock(2). Store operations then fall back to an in-process lock.
var errFlockUnavailable = errors.New("flock not available on this platform")

type (
	// Lock is a held store lock. Release is safe to call more than once.
	Lock struct {
		once    sync.Once
		release func()
	}

	// storeLock keeps the collector and writers apart. Writers hold it
	// shared and the collector exclusive. With flock the lock file is shared
	// by every process using the store.
	storeLock struct {
		path string
		mu   sync.RWMutex
	}
)

// Release drops the lock.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

func (l *storeLock) acquire(exclusive bool) (*Lock, error) {
	f, err := acquireFlock(l.path, exclusive)
	switch {
	case err == nil:
		return &Lock{release: func() { releaseFlock(f) }}, nil
	case !errors.Is(err, errFlockUnavailable):
		return nil, err
	case exclusive:
		l.mu.Lock()
		return &Lock{release: l.mu.Unlock}, nil
	default:
		l.mu.RLock()
		return &Lock{release: l.mu.RUnlock}, nil
	}
}

// LockShared keeps the collector of any process away from the store until
// the returned lock is released. A bundling run holds it from evaluation
// until its output is rooted, since outputs are unreachable before then.
// Without flock only single store operations are guarded.
func (s *Store) LockShared() (*Lock, error) {
	if !flockSupported {
		return &Lock{}, nil
	}
	return s.lock.acquire(false)
}
