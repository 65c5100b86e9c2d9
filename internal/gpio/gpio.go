// Package gpio provides relay output driving with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Driver drives digital output pins.
type Driver interface {
	// Write sets the logical state of a pin. The relay board is
	// active-low: logical ON is driven as electrical LOW. The inversion
	// happens inside the driver; callers only see logical state.
	Write(pin int, on bool) error

	// Close releases GPIO resources, leaving every pin OFF.
	Close() error
}

// Relay pin assignments (BCM numbering) for the reference relay board.
const (
	PinEnlarger   = 14 // Enlarger lamp
	PinSafelight  = 15 // Safelight
	PinHeating    = 16 // Heating element
	PinWhiteLight = 17 // White light
)
