package clock

import (
	"sync"
	"time"
)

// Clock provides the current time. Governance logic never reads the wall
// clock directly so that proposal deadlines, cooldowns and delegation expiry
// are reproducible in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// New returns a Clock backed by the system time.
func New() Clock {
	return systemClock{}
}

// Mock is a Clock whose time only moves when told to.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock starting at the given time.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the mock clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
