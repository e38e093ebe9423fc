package device

import (
	"fmt"

	"github.com/nerrad567/hwsim/internal/hal"
)

// Spec describes one device to build.
type Spec struct {
	Alias string
	Kind  Kind

	// LED: either Pin (a native GPIO line) or Expander + ExpanderPin.
	Pin         string
	Expander    string
	ExpanderPin int

	// Temperature: initial unit, "C" when empty.
	Unit string

	// Power: target voltage.
	Voltage float64

	// Expander: I2C bus name (empty for the default bus), chip address and
	// the pins configured as outputs at startup.
	Bus     string
	Address uint16
	Outputs []int
}

// Build creates devices from specs in declaration order, wiring each to
// drv. Expanders are opened first so LEDs declared before their expander
// can still reference it.
func Build(specs []Spec, drv hal.Driver, defaults Options) ([]Device, error) {
	expanders := make(map[string]*Expander)
	for _, s := range specs {
		if s.Kind != KindExpander {
			continue
		}
		bank, err := drv.Expander(s.Bus, s.Address)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", s.Alias, err)
		}
		exp := NewExpander(s.Alias, bank)
		for _, n := range s.Outputs {
			if _, err := exp.Pin(n); err != nil {
				return nil, fmt.Errorf("device %s: %w", s.Alias, err)
			}
		}
		expanders[s.Alias] = exp
	}

	devices := make([]Device, 0, len(specs))
	for _, s := range specs {
		d, err := build(s, drv, defaults, expanders)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", s.Alias, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func build(s Spec, drv hal.Driver, defaults Options, expanders map[string]*Expander) (Device, error) {
	if s.Alias == "" {
		return nil, fmt.Errorf("%w: alias is required", ErrInvalidDevice)
	}

	switch s.Kind {
	case KindLED:
		var (
			out hal.Output
			err error
		)
		switch {
		case s.Expander != "":
			exp, ok := expanders[s.Expander]
			if !ok {
				return nil, fmt.Errorf("%w: unknown expander %q", ErrInvalidDevice, s.Expander)
			}
			out, err = exp.Pin(s.ExpanderPin)
		case s.Pin != "":
			out, err = drv.Output(s.Pin)
		default:
			return nil, fmt.Errorf("%w: led needs a pin or an expander", ErrInvalidDevice)
		}
		if err != nil {
			return nil, err
		}
		return NewLED(s.Alias, out, defaults), nil

	case KindTemperature:
		t := NewTemperature(s.Alias, nil)
		if s.Unit != "" {
			if err := t.SetConfig(s.Unit, Options{}); err != nil {
				return nil, err
			}
		}
		return t, nil

	case KindPower:
		if s.Voltage <= 0 {
			return nil, fmt.Errorf("%w: power voltage must be positive", ErrInvalidDevice)
		}
		return NewPower(s.Alias, s.Voltage, nil), nil

	case KindExpander:
		return expanders[s.Alias], nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, s.Kind)
	}
}
