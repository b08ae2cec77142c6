package core

import (
	"fmt"
	"sync"
)

// SessionLimiter enforces a maximum number of concurrently running
// orchestration sessions, providing backpressure at the façade.
type SessionLimiter struct {
	max    int
	active int
	mu     sync.Mutex
}

// NewSessionLimiter creates a limiter for the given maximum. If max == 0,
// unlimited sessions are allowed.
func NewSessionLimiter(max int) *SessionLimiter {
	return &SessionLimiter{max: max}
}

// Acquire reserves a session slot, returning an error when the limit is
// reached.
func (sl *SessionLimiter) Acquire() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.max > 0 && sl.active >= sl.max {
		return fmt.Errorf("exceeded max concurrent sessions: %d", sl.max)
	}
	sl.active++

	return nil
}

// Release frees a previously acquired slot.
func (sl *SessionLimiter) Release() {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.active > 0 {
		sl.active--
	}
}

// Active returns the current number of running sessions.
func (sl *SessionLimiter) Active() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	return sl.active
}
