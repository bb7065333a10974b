package oxy

import "sync"

// Scope is a concurrency-safe string-keyed map backing the three data
// scopes on a request (shared, group, global). Many branches of one
// call tree read and write the same Scope concurrently; no external
// locking is expected of callers.
type Scope struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewScope creates an empty Scope.
func NewScope() *Scope {
	return &Scope{m: make(map[string]any)}
}

// ScopeFrom creates a Scope seeded with a copy of m. A nil map yields
// an empty Scope; scopes are never nil when accessed.
func ScopeFrom(m map[string]any) *Scope {
	s := NewScope()
	for k, v := range m {
		s.m[k] = v
	}
	return s
}

// Get returns the value for key and whether it was present.
func (s *Scope) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores value under key.
func (s *Scope) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// SetIfAbsent stores value under key only when the key is not yet
// present. Reports whether the value was stored.
func (s *Scope) SetIfAbsent(key string, value any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = value
	return true
}

// Delete removes key.
func (s *Scope) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Len returns the number of entries.
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Snapshot returns a shallow copy of the underlying map. Used when
// serializing a scope into a trace record and when copying shared data
// into a child request (copy-not-alias at the call boundary).
func (s *Scope) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// Clone returns a new Scope with a shallow copy of the entries.
func (s *Scope) Clone() *Scope {
	return ScopeFrom(s.Snapshot())
}

// Merge copies every entry of m into the scope, overwriting existing
// keys.
func (s *Scope) Merge(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range m {
		s.m[k] = v
	}
}

// MergeIfAbsent copies entries of m into the scope without overwriting
// existing keys.
func (s *Scope) MergeIfAbsent(m map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range m {
		if _, ok := s.m[k]; !ok {
			s.m[k] = v
		}
	}
}
