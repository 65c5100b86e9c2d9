package mqtt

import (
	"sync"

	"github.com/atriantas/enlarger-server/internal/exposure"
	"github.com/atriantas/enlarger-server/internal/heating"
)

// FakePublisher records published events for test assertions. Safe for
// concurrent use: exposure tasks and the heating loop publish from
// their own goroutines.
type FakePublisher struct {
	mu sync.Mutex

	// ExposureEvents contains all exposure events published.
	ExposureEvents []exposure.Event

	// HeatingEvents contains all heating events published.
	HeatingEvents []heating.Event

	// SystemEvents contains all system events published.
	SystemEvents []SystemEvent

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishExposure records the exposure event.
func (f *FakePublisher) PublishExposure(event exposure.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.ExposureEvents = append(f.ExposureEvents, event)
	return nil
}

// PublishHeating records the heating event.
func (f *FakePublisher) PublishHeating(event heating.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.HeatingEvents = append(f.HeatingEvents, event)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.SystemEvents = append(f.SystemEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// ExposureCount returns the number of recorded exposure events.
func (f *FakePublisher) ExposureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ExposureEvents)
}
