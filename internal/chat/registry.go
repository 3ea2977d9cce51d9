package chat

import (
	"sync"

	"github.com/samber/lo"
)

// Registry is the set of live sessions used for fan-out.
// Sessions leave it when they terminate.
type Registry struct {
	sessions map[*Session]struct{}
	mu       sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[*Session]struct{}),
	}
}

// Add registers s and arranges for its removal on termination.
// It reports false when s is already closed.
func (r *Registry) Add(s *Session) bool {
	// Holding the session lock orders this against Terminate, so a session
	// can never be left registered after it closed.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == StateClosed {
		return false
	}

	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()

	s.onTerminate = func() { r.Remove(s) }
	return true
}

// Remove unregisters s. Removing an absent session is a no-op.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s)
}

// Contains reports whether s is registered.
func (r *Registry) Contains(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[s]
	return ok
}

// Len returns number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveLen returns number of sessions taking part in fan-out.
func (r *Registry) ActiveLen() int {
	return len(r.Snapshot(nil))
}

// Snapshot returns the active sessions other than exclude at this instant.
// Callers do their I/O on the copy, outside the lock.
func (r *Registry) Snapshot(exclude *Session) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Keys(r.sessions), func(s *Session, _ int) bool {
		return s != exclude && s.Active()
	})
}

// All returns every registered session regardless of state.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.sessions)
}
