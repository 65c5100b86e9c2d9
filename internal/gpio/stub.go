//go:build !linux

package gpio

import "errors"

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(pins ...int) (*RealDriver, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Write is not implemented on non-Linux platforms.
func (d *RealDriver) Write(pin int, on bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
