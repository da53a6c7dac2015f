package service

import "sync"

// streamLocks serialises counter mutations per stream. Entries are reference
// counted and removed once no caller holds or waits for them.
type streamLocks struct {
	mu    sync.Mutex
	locks map[uint]*streamLock
}

type streamLock struct {
	mu   sync.Mutex
	refs int
}

func newStreamLocks() *streamLocks {
	return &streamLocks{locks: make(map[uint]*streamLock)}
}

// Lock acquires the stream's mutex and returns its release function.
func (l *streamLocks) Lock(streamID uint) func() {
	l.mu.Lock()
	entry, ok := l.locks[streamID]
	if !ok {
		entry = &streamLock{}
		l.locks[streamID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, streamID)
		}
		l.mu.Unlock()
	}
}

func (l *streamLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
