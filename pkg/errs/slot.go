package errs

import "sync"

// Slot is a first-writer-wins error cell, as required for the request
// context's error info (§3, §5, invariant 8 in §8): the first non-None
// Set call sticks; later calls are ignored while the stored code stays
// non-None.
type Slot struct {
	mu   sync.Mutex
	info *Info
}

// Set stores info unless a non-None error is already recorded. Returns
// true only if this call stored info.
func (s *Slot) Set(info *Info) bool {
	if info.IsNone() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil && !s.info.IsNone() {
		return false
	}
	s.info = info
	return true
}

// Get returns the currently stored error, or nil if none has been set.
func (s *Slot) Get() *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// HasError reports whether a non-None error is stored.
func (s *Slot) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info != nil && !s.info.IsNone()
}
