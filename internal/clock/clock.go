// Package clock provides the monotonic millisecond time base shared by
// the exposure scheduler and the heating loop.
//
// Ticks are 32-bit and wrap; comparisons must go through Diff rather
// than plain subtraction.
package clock

import "time"

// Clock is a monotonic millisecond tick source with cancellable waits.
type Clock interface {
	// Now returns the current tick in milliseconds. Wraps at 2^32.
	Now() uint32

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Diff returns the signed distance a-b in milliseconds, correct across
// tick wraparound.
func Diff(a, b uint32) int32 {
	return int32(a - b)
}

// System is the real clock, counting from process start.
type System struct {
	start time.Time
}

// NewSystem creates a System clock anchored at the current time.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Now returns milliseconds since the clock was created, truncated to
// 32 bits. Go's time package is monotonic, so this never jumps on
// wall-clock changes.
func (s *System) Now() uint32 {
	return uint32(time.Since(s.start) / time.Millisecond)
}

// After returns a channel that fires after d.
func (s *System) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
