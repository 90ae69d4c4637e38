// Package auth tracks which users have proven themselves to the relay.
//
// Sessions live for the process lifetime only; there is no logout and no
// persistence across restarts.
package auth

import "sync"

// Sessions is the set of authenticated user ids.
// Safe for concurrent use from the dispatch loop and deferred flush tasks.
type Sessions struct {
	mu    sync.RWMutex
	users map[int64]struct{}
}

func NewSessions() *Sessions {
	return &Sessions{users: map[int64]struct{}{}}
}

func (s *Sessions) Add(userID int64) {
	s.mu.Lock()
	s.users[userID] = struct{}{}
	s.mu.Unlock()
}

func (s *Sessions) Authenticated(userID int64) bool {
	s.mu.RLock()
	_, ok := s.users[userID]
	s.mu.RUnlock()
	return ok
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
