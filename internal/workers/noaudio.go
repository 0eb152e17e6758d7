package workers

import "sync"

// NoAudioPaths is the process-wide set of files known to have no audio
// stream. Audio starts for these paths are skipped. Safe for concurrent use.
type NoAudioPaths struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

// NewNoAudioPaths creates an empty set.
func NewNoAudioPaths() *NoAudioPaths {
	return &NoAudioPaths{paths: make(map[string]struct{})}
}

// Add records path as silent.
func (s *NoAudioPaths) Add(path string) {
	s.mu.Lock()
	s.paths[path] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether path is known to be silent.
func (s *NoAudioPaths) Contains(path string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paths[path]
	return ok
}

// Len returns the number of recorded paths.
func (s *NoAudioPaths) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paths)
}
