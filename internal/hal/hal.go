package hal

import (
	"errors"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendSim    = "sim"
	BackendPeriph = "periph"
)

// ExpanderPins is the number of pins on an MCP23017 bank (ports A and B).
const ExpanderPins = 16

var (
	// ErrPinNotFound is returned when a named GPIO line does not exist.
	ErrPinNotFound = errors.New("hal: pin not found")

	// ErrPinOutOfRange is returned when an expander pin index is invalid.
	ErrPinOutOfRange = errors.New("hal: expander pin out of range")

	// ErrClosed is returned when a driver is used after Close.
	ErrClosed = errors.New("hal: driver closed")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("hal: unknown backend")
)

// Level is the logic level of an output line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// String returns "HIGH" or "LOW".
func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Output is a single digital output line.
type Output interface {
	// Set drives the line to the given level.
	Set(level Level) error

	// Level returns the last level successfully written.
	Level() Level
}

// Expander is a bank of digital lines behind an I/O expander chip.
type Expander interface {
	// Pin returns output n of the bank, configuring it as an output.
	Pin(n int) (Output, error)

	// Close releases the chip.
	Close() error
}

// Driver hands out outputs and expander banks.
type Driver interface {
	// Output returns the native GPIO line with the given name.
	Output(name string) (Output, error)

	// Expander opens the expander at addr on the named I2C bus.
	// An empty bus name selects the first available bus.
	Expander(bus string, addr uint16) (Expander, error)

	// Close releases all hardware handed out by the driver.
	Close() error
}

// Open returns the driver for the named backend.
func Open(backend string) (Driver, error) {
	switch strings.ToLower(backend) {
	case "", BackendSim:
		return NewSim(), nil
	case BackendPeriph:
		return NewPeriph()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
