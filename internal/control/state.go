// Package control handles the owner's remote commands and holds the
// engine's pause switch.
package control

import (
	"sync"
	"time"
)

// State is the process-wide pause switch. Only the Handler mutates it.
type State struct {
	mu       sync.Mutex
	paused   bool
	pausedAt time.Time
	now      func() time.Time
}

func NewState(now func() time.Time) *State {
	if now == nil {
		now = time.Now
	}
	return &State{now: now}
}

// Pause reports false if already paused.
func (s *State) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return false
	}
	s.paused = true
	s.pausedAt = s.now()
	return true
}

// Resume reports false if not paused, otherwise how long the pause lasted.
func (s *State) Resume() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return false, 0
	}
	d := s.now().Sub(s.pausedAt)
	s.paused = false
	s.pausedAt = time.Time{}
	return true, d
}

func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Snapshot returns the paused flag and when it was set (zero if running).
func (s *State) Snapshot() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, s.pausedAt
}
