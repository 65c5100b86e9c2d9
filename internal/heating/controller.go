// Package heating implements the chemical-bath heating loop: a
// background hysteresis controller that drives one relay from a
// temperature probe, failing safe (relay OFF) on every sensor fault.
package heating

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/atriantas/enlarger-server/internal/clock"
	"github.com/atriantas/enlarger-server/internal/relay"
	"github.com/atriantas/enlarger-server/internal/sensor"
)

const (
	// Hysteresis is the dead-band below target within which the relay
	// holds its state, preventing chatter.
	Hysteresis = 0.5

	// PollInterval is the cadence of sensor reads while enabled.
	PollInterval = 15 * time.Second

	// disabledInterval is how often the loop re-checks while disabled.
	// While disabled it must not touch the sensor or the relay.
	disabledInterval = time.Second

	// Target bounds in °C, the working range of photo chemistry.
	MinTarget = 15
	MaxTarget = 50

	// DefaultTarget is a typical developer bath temperature.
	DefaultTarget = 20.0
)

// ErrTargetRange is returned for targets outside [MinTarget, MaxTarget].
var ErrTargetRange = errors.New("heating: target out of range")

// EventType identifies a heating event.
type EventType string

const (
	EventHeatOn      EventType = "HEAT_ON"
	EventHeatOff     EventType = "HEAT_OFF"
	EventSensorFault EventType = "SENSOR_FAULT"
)

// Event is a heating relay transition or sensor fault notification.
type Event struct {
	Type        EventType
	Temperature float64 // valid for HEAT_ON/HEAT_OFF
	Target      float64
}

// EventSink receives heating events. Implementations must return
// quickly; they are called from the control loop.
type EventSink interface {
	HeatingEvent(Event)
}

// Status is the externally visible heating state. Temperature is nil
// when nothing has been read since boot, enable, or the last disable.
type Status struct {
	Temperature *float64
	Target      float64
	RelayOn     bool
	Connected   bool
	Enabled     bool
}

// Controller runs the hysteresis loop. One instance exists per
// process; toggling enabled gates the loop without recreating it.
type Controller struct {
	bank *relay.Bank
	clk  clock.Clock
	src  sensor.Source
	sink EventSink
	pin  int

	mu       sync.Mutex
	enabled  bool
	target   float64
	lastTemp float64
	haveTemp bool
	lastErr  error
}

// New creates a disabled Controller for the given relay pin.
func New(bank *relay.Bank, clk clock.Clock, src sensor.Source, sink EventSink, pin int) *Controller {
	return &Controller{
		bank:   bank,
		clk:    clk,
		src:    src,
		sink:   sink,
		pin:    pin,
		target: DefaultTarget,
	}
}

// Run is the control loop. It returns when ctx is cancelled, forcing
// the relay OFF on the way out.
func (c *Controller) Run(ctx context.Context) error {
	defer c.forceOff("shutdown")

	for {
		if !c.IsEnabled() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clk.After(disabledInterval):
			}
			continue
		}

		temp, err := c.src.Read(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.applyFault(err)
		} else {
			c.apply(temp)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clk.After(PollInterval):
		}
	}
}

// apply records the reading and drives the relay through the
// hysteresis dead-band. A disable that happened while the read was in
// flight wins: the reading is discarded.
func (c *Controller) apply(temp float64) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.lastTemp = temp
	c.haveTemp = true
	c.lastErr = nil
	target := c.target
	c.mu.Unlock()

	on, err := c.bank.Get(c.pin)
	if err != nil {
		log.Printf("heating: read relay state: %v", err)
		return
	}
	next := nextRelayState(on, temp, target)
	if next == on {
		return
	}
	if err := c.bank.Set(c.pin, next); err != nil {
		log.Printf("heating: relay write failed: %v", err)
		return
	}

	event := EventHeatOff
	if next {
		event = EventHeatOn
	}
	log.Printf("heating: %.2f°C target %.2f°C relay %s", temp, target, event)
	c.emit(Event{Type: event, Temperature: temp, Target: target})
}

// applyFault handles a failed read. An unreadable sensor must never
// mean "keep heating". As in apply, a disable that happened while the
// read was in flight wins: no relay write, no event.
func (c *Controller) applyFault(err error) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.mu.Unlock()

	log.Printf("heating: sensor read failed: %v", err)
	c.forceOff("sensor fault")
	c.emit(Event{Type: EventSensorFault, Target: c.Target()})
}

// nextRelayState applies the hysteresis dead-band: ON below
// target-Hysteresis, OFF at or above target, hold in between.
func nextRelayState(on bool, temp, target float64) bool {
	switch {
	case !on && temp < target-Hysteresis:
		return true
	case on && temp >= target:
		return false
	}
	return on
}

// SetEnabled gates the loop. Disabling is a safety action: the relay
// goes OFF now, synchronously, and the cached temperature is cleared —
// not at the next poll.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	if !enabled {
		c.haveTemp = false
		c.lastErr = nil
	}
	c.mu.Unlock()

	if enabled {
		log.Printf("heating: enabled")
		return
	}
	log.Printf("heating: disabled")
	c.forceOff("disabled")
}

// IsEnabled reports whether the loop is driving the relay.
func (c *Controller) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetTarget updates the target temperature, effective from the next
// poll.
func (c *Controller) SetTarget(target float64) error {
	if target < MinTarget || target > MaxTarget {
		return ErrTargetRange
	}
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()
	log.Printf("heating: target set to %.2f°C", target)
	return nil
}

// Target returns the current target temperature.
func (c *Controller) Target() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Status returns a snapshot of the heating state.
func (c *Controller) Status() Status {
	on, err := c.bank.Get(c.pin)
	if err != nil {
		on = false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Target:    c.target,
		RelayOn:   on,
		Connected: c.src.Connected() && c.lastErr == nil,
		Enabled:   c.enabled,
	}
	if c.haveTemp {
		temp := c.lastTemp
		st.Temperature = &temp
	}
	return st
}

// Pin returns the relay pin this controller owns.
func (c *Controller) Pin() int {
	return c.pin
}

// forceOff drives the heating relay OFF unconditionally, emitting a
// transition event only if it was on.
func (c *Controller) forceOff(reason string) {
	on, err := c.bank.Get(c.pin)
	if err != nil {
		log.Printf("heating: read relay state: %v", err)
		return
	}
	if err := c.bank.Set(c.pin, false); err != nil {
		log.Printf("heating: force off (%s) failed: %v", reason, err)
		return
	}
	if on {
		log.Printf("heating: relay forced off (%s)", reason)
		c.emit(Event{Type: EventHeatOff, Target: c.Target()})
	}
}

func (c *Controller) emit(e Event) {
	if c.sink != nil {
		c.sink.HeatingEvent(e)
	}
}
