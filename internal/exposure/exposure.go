// Package exposure runs timed enlarger exposures: at most one live
// countdown per relay pin, with an optional latency-compensated
// synchronized start, and a fail-safe shutoff on every exit path.
package exposure

import (
	"errors"
	"time"
)

const (
	// SyncDelay is the fixed network round-trip compensation. A
	// scheduled exposure turns the relay on SyncDelay after the start
	// call, giving the client a predictable activation moment
	// independent of request-handling jitter.
	SyncDelay = 150 * time.Millisecond

	// MaxDuration caps a single exposure.
	MaxDuration = 3600 * time.Second
)

// ErrDurationRange is returned for a non-positive duration or one over
// MaxDuration.
var ErrDurationRange = errors.New("exposure: duration out of range")

// ErrReservedPin is returned when a Start targets a pin owned by
// another controller (the heating loop).
var ErrReservedPin = errors.New("exposure: pin reserved for another controller")

// State is the lifecycle state of an exposure task.
type State string

const (
	StateScheduled State = "SCHEDULED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateCancelled State = "CANCELLED"
)

// ScheduleInfo is returned by Start. StartAt is a clock tick and only
// meaningful when Scheduled is true.
type ScheduleInfo struct {
	Pin         int
	Duration    time.Duration
	Scheduled   bool
	StartAt     uint32
	SyncDelayMS int64
}

// Status is a point-in-time view of one pin's task. Exactly one of
// Running and Scheduled is true.
type Status struct {
	Pin         int
	Running     bool
	Scheduled   bool
	StartAt     uint32 // tick the relay will turn on (scheduled only)
	ElapsedMS   uint32 // running only
	RemainingMS uint32 // running only
	DurationMS  uint32
}

// EventType identifies an exposure lifecycle event.
type EventType string

const (
	EventStarted   EventType = "EXPOSURE_STARTED"
	EventCompleted EventType = "EXPOSURE_COMPLETED"
	EventCancelled EventType = "EXPOSURE_CANCELLED"
)

// Event is an exposure lifecycle notification.
type Event struct {
	Pin        int
	Name       string
	Type       EventType
	At         uint32 // clock tick
	DurationMS uint32
}

// EventSink receives exposure events. Implementations must return
// quickly; they are called from the task goroutine during relay
// transitions and cleanup.
type EventSink interface {
	ExposureEvent(Event)
}
