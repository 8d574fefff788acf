package timeutil

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

// Now returns the current UTC time from the package clock.
func Now() time.Time {
	mu.RLock()
	f := nowFunc
	mu.RUnlock()
	return f().UTC()
}

// SetClock replaces the package clock and returns a func restoring the previous one.
func SetClock(f func() time.Time) func() {
	mu.Lock()
	prev := nowFunc
	nowFunc = f
	mu.Unlock()
	return func() {
		mu.Lock()
		nowFunc = prev
		mu.Unlock()
	}
}
