package sensor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// w1Dir is where the kernel w1-gpio driver exposes 1-Wire slaves.
const w1Dir = "/sys/bus/w1/devices"

// DS18B20 reads a DS18B20 probe through sysfs. The kernel performs the
// ~750ms temperature conversion while the file read blocks, so Read
// runs the read in a goroutine and selects against ctx.
type DS18B20 struct {
	devicePath string
}

// NewDS18B20 discovers the first DS18B20-family device (28-*) on the
// bus. With no probe present, Connected reports false and Read fails;
// the heating loop treats that as a sensor fault and holds the relay
// OFF.
func NewDS18B20() *DS18B20 {
	matches, err := filepath.Glob(filepath.Join(w1Dir, "28-*", "temperature"))
	if err != nil || len(matches) == 0 {
		return &DS18B20{}
	}
	return &DS18B20{devicePath: matches[0]}
}

// Connected reports whether a probe was found at startup.
func (d *DS18B20) Connected() bool {
	return d.devicePath != ""
}

// Read performs one conversion and returns the temperature in °C.
func (d *DS18B20) Read(ctx context.Context) (float64, error) {
	if d.devicePath == "" {
		return 0, errors.New("sensor: no DS18B20 probe found")
	}

	type result struct {
		temp float64
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := os.ReadFile(d.devicePath)
		if err != nil {
			ch <- result{err: fmt.Errorf("read probe: %w", err)}
			return
		}
		// The file holds millidegrees, e.g. "21437\n".
		milli, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			ch <- result{err: fmt.Errorf("parse probe reading %q: %w", strings.TrimSpace(string(raw)), err)}
			return
		}
		ch <- result{temp: float64(milli) / 1000}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		return r.temp, r.err
	}
}
