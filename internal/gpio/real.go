//go:build linux

package gpio

import (
	"fmt"
	"sort"

	"github.com/warthog618/go-gpiocdev"
)

// RealDriver drives relay outputs through the Linux GPIO character device.
type RealDriver struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealDriver requests the given pins as outputs, driven electrical
// HIGH (relay OFF for active-low boards) before this function returns.
// No relay can be energized by the act of opening the driver.
func NewRealDriver(pins ...int) (*RealDriver, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	d := &RealDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line, len(pins)),
	}

	sort.Ints(pins)
	for _, pin := range pins {
		// Initial value 1 = electrical HIGH = relay OFF.
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request pin %d: %w", pin, err)
		}
		d.lines[pin] = line
	}

	return d, nil
}

// Write sets the logical state of a pin. Active-low: ON writes 0.
func (d *RealDriver) Write(pin int, on bool) error {
	line, ok := d.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not requested", pin)
	}
	value := 1
	if on {
		value = 0
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every pin OFF and releases GPIO resources. Best-effort:
// a failure on one line must not prevent releasing the others.
func (d *RealDriver) Close() error {
	var errs []error

	for pin, line := range d.lines {
		if err := line.SetValue(1); err != nil {
			errs = append(errs, fmt.Errorf("park pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
