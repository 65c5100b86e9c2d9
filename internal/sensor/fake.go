package sensor

import (
	"context"
	"errors"
	"sync"
)

// Sample is a single scripted reading: a temperature or an error.
type Sample struct {
	Temp float64
	Err  error
}

// Fake is a test double that returns scripted readings. Each call to
// Read consumes the next sample; when samples are exhausted the last
// one repeats.
type Fake struct {
	mu        sync.Mutex
	samples   []Sample
	index     int
	reads     int
	connected bool
}

// NewFake creates a connected Fake with the given samples.
func NewFake(samples []Sample) *Fake {
	return &Fake{samples: samples, connected: true}
}

// Read returns the next scripted sample.
func (f *Fake) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++

	if len(f.samples) == 0 {
		return 0, errors.New("no samples configured")
	}
	s := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return s.Temp, s.Err
}

// Connected returns the configured connection state.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected overrides the connection state.
func (f *Fake) SetConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

// ReadCount returns how many times Read was called.
func (f *Fake) ReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}
