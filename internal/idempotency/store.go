// Package idempotency tracks message IDs that have been admitted but not
// yet released, so the broker can reject a re-admission of the same ID.
package idempotency

import "sync"

// Store is a concurrent set of in-flight message IDs.
//
// Permanent controls whether a successful consumer release actually
// forgets the ID (the default, time-in-flight behavior) or
// is a no-op, keeping the ID rejected forever until an explicit Clear
// (a permanent-dedupe profile some deployments want).
type Store struct {
	mu        sync.Mutex
	seen      map[string]struct{}
	Permanent bool
}

// NewStore creates an empty Store.
func NewStore(permanent bool) *Store {
	return &Store{
		seen:      make(map[string]struct{}),
		Permanent: permanent,
	}
}

// AlreadyProcessed reports whether id was already present, inserting it on
// first sight. Calling this twice in a row without an intervening
// RemoveProcessed returns false then true.
func (s *Store) AlreadyProcessed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	return false
}

// RemoveProcessed allows id to be re-admitted later. A no-op when the store
// runs in permanent mode.
func (s *Store) RemoveProcessed(id string) {
	if s.Permanent {
		return
	}
	s.mu.Lock()
	delete(s.seen, id)
	s.mu.Unlock()
}

// Clear empties the store, used by the broker's scope=all reset.
func (s *Store) Clear() {
	s.mu.Lock()
	s.seen = make(map[string]struct{})
	s.mu.Unlock()
}

// Len returns the number of currently tracked IDs, for diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
