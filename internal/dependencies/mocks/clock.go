package mocks

import (
	"sync"
	"time"

	"github.com/Seednode/teamshuffle/internal/dependencies/clock"
)

// MockClock is a mock implementation of Clock for testing.
//
// Timers returned by After fire immediately; the requested delays are
// recorded so tests can assert on backoff schedules.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	delays      []time.Duration
}

// Ensure MockClock implements Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a MockClock set to the given time
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

// Now returns the mocked current time
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

// After records d, advances the clock by d and returns a fired channel
func (c *MockClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delays = append(c.delays, d)
	c.currentTime = c.currentTime.Add(d)

	ch := make(chan time.Time, 1)
	ch <- c.currentTime
	return ch
}

// Delays returns a copy of every delay passed to After so far
func (c *MockClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Advance moves the clock forward by the given duration
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = c.currentTime.Add(d)
}
