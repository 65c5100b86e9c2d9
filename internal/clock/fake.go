package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock for tests.
type Fake struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     uint32
	waiters []waiter
}

type waiter struct {
	at uint32
	ch chan time.Time
}

// NewFake creates a Fake clock starting at the given tick.
func NewFake(start uint32) *Fake {
	f := &Fake{now: start}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Now returns the current fake tick.
func (f *Fake) Now() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a waiter at now+d. A deadline that is already due
// fires immediately, so a waiter registered after Advance has run is
// never lost.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := f.now + uint32(d/time.Millisecond)
	if Diff(at, f.now) <= 0 {
		ch <- time.Time{}
		return ch
	}
	f.waiters = append(f.waiters, waiter{at: at, ch: ch})
	f.cond.Broadcast()
	return ch
}

// Advance moves the clock forward and fires every waiter that has come
// due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += uint32(d / time.Millisecond)
	remaining := f.waiters[:0]
	for _, w := range f.waiters {
		if Diff(w.at, f.now) <= 0 {
			w.ch <- time.Time{}
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining
}

// BlockUntil blocks until at least n waiters are pending. Tests use it
// to know a goroutine has reached its timed wait before advancing the
// clock.
func (f *Fake) BlockUntil(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.waiters) < n {
		f.cond.Wait()
	}
}

// Waiters returns the number of pending waiters.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
