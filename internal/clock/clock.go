package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time, including the monotonic reading.
func (Real) Now() time.Time { return time.Now() }

// Mock is a Clock whose time only moves when told to. Safe for concurrent use.
type Mock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewMock returns a Mock fixed at t.
func NewMock(t time.Time) *Mock {
	return &Mock{t: t}
}

// Now returns the mocked time.
func (m *Mock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = m.t.Add(d)
}
