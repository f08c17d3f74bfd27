package engine

import "sync"

const defaultMaxSeen = 1000

// seenSet remembers processed message keys in insertion order. Once it
// grows past max, the oldest half is forgotten.
type seenSet struct {
	mu    sync.Mutex
	max   int
	keys  map[string]struct{}
	order []string
}

func newSeenSet(max int) *seenSet {
	if max < 2 {
		max = defaultMaxSeen
	}
	return &seenSet{max: max, keys: make(map[string]struct{}, max)}
}

// Add reports false if key was already present.
func (s *seenSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.max {
		drop := len(s.order) / 2
		for _, k := range s.order[:drop] {
			delete(s.keys, k)
		}
		s.order = append(s.order[:0], s.order[drop:]...)
	}
	return true
}

func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
