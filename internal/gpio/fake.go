package gpio

import "sync"

// FakeDriver is a test double that records pin writes. Unlike the real
// driver it is exercised from several goroutines at once (exposure
// tasks, the heating loop, test assertions), so it carries its own lock.
type FakeDriver struct {
	mu sync.Mutex

	// states holds the last written logical state per pin.
	states map[int]bool

	// history holds every logical state written per pin, in order.
	history map[int][]bool

	// writeErrs maps pins to errors their writes should fail with.
	writeErrs map[int]error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		states:    make(map[int]bool),
		history:   make(map[int][]bool),
		writeErrs: make(map[int]error),
	}
}

// Write records the logical state for the pin.
func (f *FakeDriver) Write(pin int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErrs[pin]; err != nil {
		return err
	}
	f.states[pin] = on
	f.history[pin] = append(f.history[pin], on)
	return nil
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// FailWrites makes subsequent writes to pin return err. Pass nil to
// restore normal behavior.
func (f *FakeDriver) FailWrites(pin int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.writeErrs, pin)
		return
	}
	f.writeErrs[pin] = err
}

// State returns the last written logical state of pin.
func (f *FakeDriver) State(pin int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[pin]
}

// History returns a copy of every state written to pin, in order.
func (f *FakeDriver) History(pin int) []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.history[pin]))
	copy(out, f.history[pin])
	return out
}

// WriteCount returns how many writes pin has received.
func (f *FakeDriver) WriteCount(pin int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history[pin])
}
