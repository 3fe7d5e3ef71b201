package model

import (
	"sync"
	"sync/atomic"
)

var semaphoreKeys atomic.Uint64

// Semaphore is a one-bit platform semaphore. Signal and Reset may be called
// from any goroutine; the scheduler observes signals through the notify
// callbacks registered with WaitAsync, which fire exactly once per
// registration.
type Semaphore struct {
	key  uint64
	name string

	mu       sync.Mutex
	signaled bool
	waiters  []func(key uint64)
}

// NewSemaphore creates an unsignaled semaphore with a process-unique key.
func NewSemaphore(name string) *Semaphore {
	return &Semaphore{
		key:  semaphoreKeys.Add(1),
		name: name,
	}
}

// Key returns the unique key identifying the semaphore in port packets.
func (s *Semaphore) Key() uint64 {
	return s.key
}

// Name returns the human-readable name given at creation.
func (s *Semaphore) Name() string {
	return s.name
}

// Signaled reports whether the semaphore is currently signaled.
func (s *Semaphore) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

// Signal raises the semaphore and notifies every registered waiter. The
// semaphore stays signaled until Reset.
func (s *Semaphore) Signal() {
	s.mu.Lock()
	s.signaled = true
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, notify := range waiters {
		notify(s.key)
	}
}

// Reset lowers the semaphore. Registered waiters stay registered.
func (s *Semaphore) Reset() {
	s.mu.Lock()
	s.signaled = false
	s.mu.Unlock()
}

// WaitAsync registers a one-shot notification for the next signal. If the
// semaphore is already signaled the callback fires before WaitAsync returns.
func (s *Semaphore) WaitAsync(notify func(key uint64)) {
	s.mu.Lock()
	if s.signaled {
		s.mu.Unlock()
		notify(s.key)
		return
	}
	s.waiters = append(s.waiters, notify)
	s.mu.Unlock()
}
