package processor

import "sync"

// sessionLocks hands out one mutex per session id. Turn processing for a
// session is read-modify-write over its dialogue state, so two turns for the
// same session must never interleave; turns for different sessions proceed
// in parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the lock for a session, creating it on first use. Entries are
// tiny and bounded by the set of sessions seen since startup, so no eviction
// is attempted.
func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[sessionID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[sessionID] = m
	return m
}
