package controler

import (
	"sync"
	"time"
)

// StreamStatus records the outcome of the last decisions stream poll for the health check.
type StreamStatus struct {
	mu          sync.RWMutex
	lastSuccess time.Time
	lastError   error
	polled      bool
}

func NewStreamStatus() *StreamStatus {
	return &StreamStatus{}
}

func (s *StreamStatus) Success(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled = true
	s.lastSuccess = at
	s.lastError = nil
}

func (s *StreamStatus) Failure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polled = true
	s.lastError = err
}

// Healthy is false until a first poll succeeded, and after any failed poll.
func (s *StreamStatus) Healthy() (bool, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.polled && s.lastError == nil, s.lastSuccess, s.lastError
}
