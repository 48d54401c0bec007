package voice

import (
	"sync"
)

// lockRegistry hands out one mutex per session id so all operations on a
// session serialize while sessions stay independent. Entries are reference
// counted and removed once the last holder releases, keeping the map bounded
// by in-flight requests rather than by session history.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until the session lock is held and returns the release
// function.
func (r *lockRegistry) Acquire(sessionID string) func() {
	r.mu.Lock()
	entry, ok := r.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		r.locks[sessionID] = entry
	}
	entry.refs++
	r.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		r.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(r.locks, sessionID)
		}
		r.mu.Unlock()
	}
}
