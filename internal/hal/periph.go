package hal

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/mcp23xxx"
	"periph.io/x/host/v3"
)

// Periph drives real hardware through periph.io. Native lines are looked up
// by their board name (e.g. "P8_10", "GPIO17"); expanders are MCP23017 chips
// on an I2C bus.
type Periph struct {
	mu        sync.Mutex
	buses     map[string]i2c.BusCloser
	expanders []*mcp23xxx.Dev
	closed    bool
}

// NewPeriph initialises the periph host drivers.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("initialising periph host: %w", err)
	}
	return &Periph{buses: make(map[string]i2c.BusCloser)}, nil
}

// Output returns the named GPIO line, driven low.
func (p *Periph) Output(name string) (Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	out := &periphOutput{pin: pin}
	if err := out.Set(Low); err != nil {
		return nil, err
	}
	return out, nil
}

// Expander opens an MCP23017 at addr. Buses are opened once and shared.
func (p *Periph) Expander(bus string, addr uint16) (Expander, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}

	b, ok := p.buses[bus]
	if !ok {
		var err error
		b, err = i2creg.Open(bus)
		if err != nil {
			return nil, fmt.Errorf("opening i2c bus %q: %w", bus, err)
		}
		p.buses[bus] = b
	}

	dev, err := mcp23xxx.NewI2C(b, mcp23xxx.MCP23017, addr)
	if err != nil {
		return nil, fmt.Errorf("opening mcp23017 at 0x%02x: %w", addr, err)
	}
	p.expanders = append(p.expanders, dev)
	return &periphExpander{dev: dev}, nil
}

// Close releases every expander and bus.
func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for _, dev := range p.expanders {
		if err := dev.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for name, b := range p.buses {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing i2c bus %q: %w", name, err)
		}
	}
	return firstErr
}

type periphExpander struct {
	dev *mcp23xxx.Dev
}

// Pin maps n onto the chip's two 8-bit ports: 0-7 are port A, 8-15 port B.
func (e *periphExpander) Pin(n int) (Output, error) {
	if n < 0 || n >= ExpanderPins {
		return nil, fmt.Errorf("%w: %d", ErrPinOutOfRange, n)
	}
	out := &periphOutput{pin: e.dev.Pins[n/8][n%8]}
	if err := out.Set(Low); err != nil {
		return nil, err
	}
	return out, nil
}

// Close is a no-op; the chip is released by Periph.Close.
func (e *periphExpander) Close() error { return nil }

type periphOutput struct {
	pin gpio.PinOut

	mu    sync.Mutex
	level Level
}

func (o *periphOutput) Set(level Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.pin.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("driving %s: %w", o.pin, err)
	}
	o.level = level
	return nil
}

func (o *periphOutput) Level() Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.level
}
