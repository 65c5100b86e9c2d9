// Package sensor reads chemical-bath temperature with hardware
// abstraction. The real implementation talks to a DS18B20 probe via
// the kernel w1 (1-Wire) sysfs interface; the fake returns scripted
// readings for tests.
package sensor

import "context"

// Source produces single temperature readings.
type Source interface {
	// Read returns one temperature in °C. A hardware conversion takes
	// on the order of 750ms; implementations must honor ctx so a
	// shutdown is not held up by a read in flight.
	Read(ctx context.Context) (float64, error)

	// Connected reports whether a probe was found on the bus.
	Connected() bool
}
