// Package relay implements the relay bank: the single shared mutable
// hardware resource of the daemon. The exposure scheduler and the
// heating loop both mutate it; nothing else touches the GPIO driver.
package relay

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/atriantas/enlarger-server/internal/gpio"
)

// ErrInvalidPin is returned for pins not configured in the bank.
var ErrInvalidPin = errors.New("relay: invalid pin")

// DefaultPins maps the reference relay board pins to their functions.
var DefaultPins = map[int]string{
	gpio.PinEnlarger:   "Enlarger",
	gpio.PinSafelight:  "Safelight",
	gpio.PinHeating:    "Heating Element",
	gpio.PinWhiteLight: "White Light",
}

// State is one relay's name and last commanded logical state.
type State struct {
	Name string
	On   bool
}

type output struct {
	name string
	on   bool
}

// Bank is a fixed, named set of relay outputs over a gpio.Driver.
// It reports *commanded* state: Get returns what was last written, not
// a hardware readback. The lock is held only across a single register
// write; no blocking I/O ever happens under it.
type Bank struct {
	drv gpio.Driver

	mu      sync.Mutex
	outputs map[int]*output
}

// New creates a Bank and forces every configured pin OFF before
// returning, so no relay can stay energized from a previous run.
func New(drv gpio.Driver, pins map[int]string) (*Bank, error) {
	b := &Bank{
		drv:     drv,
		outputs: make(map[int]*output, len(pins)),
	}
	for pin, name := range pins {
		b.outputs[pin] = &output{name: name}
	}
	for _, pin := range b.Pins() {
		if err := drv.Write(pin, false); err != nil {
			return nil, fmt.Errorf("force pin %d off at boot: %w", pin, err)
		}
	}
	return b, nil
}

// Set writes the logical state of a pin and caches it. The cached
// state is only updated when the hardware write succeeds.
func (b *Bank) Set(pin int, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, ok := b.outputs[pin]
	if !ok {
		return ErrInvalidPin
	}
	if err := b.drv.Write(pin, on); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	out.on = on
	return nil
}

// Get returns the cached commanded state of a pin.
func (b *Bank) Get(pin int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out, ok := b.outputs[pin]
	if !ok {
		return false, ErrInvalidPin
	}
	return out.on, nil
}

// Valid reports whether pin is configured in the bank.
func (b *Bank) Valid(pin int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.outputs[pin]
	return ok
}

// Name returns the display name of a pin, or "Unknown".
func (b *Bank) Name(pin int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if out, ok := b.outputs[pin]; ok {
		return out.name
	}
	return "Unknown"
}

// Pins returns the configured pins in ascending order.
func (b *Bank) Pins() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	pins := make([]int, 0, len(b.outputs))
	for pin := range b.outputs {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	return pins
}

// States returns a snapshot of every relay's commanded state.
func (b *Bank) States() map[int]State {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int]State, len(b.outputs))
	for pin, o := range b.outputs {
		out[pin] = State{Name: o.name, On: o.on}
	}
	return out
}

// AllOff turns every relay OFF, best-effort: a failed write on one pin
// must not prevent turning off the remaining relays.
func (b *Bank) AllOff() {
	for _, pin := range b.Pins() {
		if err := b.Set(pin, false); err != nil {
			log.Printf("relay: all off: %v", err)
		}
	}
}

// AllOn turns every relay ON, best-effort.
func (b *Bank) AllOn() {
	for _, pin := range b.Pins() {
		if err := b.Set(pin, true); err != nil {
			log.Printf("relay: all on: %v", err)
		}
	}
}
