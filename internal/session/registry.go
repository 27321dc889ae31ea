package session

import "sync/atomic"

// Registry is a single-slot liveness check for deferred callback delivery.
// A session publishes itself on Open and clears itself during Close; tasks
// queued on the dispatch queue re-check IsValid at execution time and no-op
// when the owning session has begun teardown in the meantime.
//
// This is advisory, not a lock: it does not stop teardown from proceeding
// concurrently with a check, it only stops stale state being used after the
// check fails. Each test can construct its own Registry rather than sharing
// process state.
type Registry struct {
	current atomic.Pointer[Session]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Publish stores s as the currently live session. Last writer wins; there
// is one slot and no history.
func (r *Registry) Publish(s *Session) {
	r.current.Store(s)
}

// Clear removes s from the slot if it is still the published session. A
// newer session's publication is left untouched.
func (r *Registry) Clear(s *Session) {
	r.current.CompareAndSwap(s, nil)
}

// IsValid reports whether s is still the published session and still has a
// callback sink attached.
func (r *Registry) IsValid(s *Session) bool {
	if s == nil || r.current.Load() != s {
		return false
	}
	return s.getCallback() != nil
}
