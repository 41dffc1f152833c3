package clock

import (
	"sync"
	"time"
)

// Real reads the system clock in the server's local time zone
type Real struct{}

// Now returns the current local time
func (Real) Now() time.Time {
	return time.Now()
}

// Fake is a settable clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the fake time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// MonthStart returns local midnight on the first day of t's month
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
