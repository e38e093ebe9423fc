package device

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Simulated temperature range in degrees Celsius.
const (
	MinCelsius = -100
	MaxCelsius = 200
)

// Units accepted by a Temperature device.
const (
	UnitCelsius    = "C"
	UnitFahrenheit = "F"
)

// Temperature is a simulated temperature sensor.
type Temperature struct {
	base
	sample func() int
	unit   string
	last   int
}

// NewTemperature creates a sensor reporting in Celsius. sample produces the
// raw Celsius reading; nil selects a uniform pseudo-random value in
// [MinCelsius, MaxCelsius].
func NewTemperature(alias string, sample func() int) *Temperature {
	if sample == nil {
		sample = randomCelsius
	}
	return &Temperature{
		base:   base{alias: alias, kind: KindTemperature, status: StatusOff},
		sample: sample,
		unit:   UnitCelsius,
		last:   sample(),
	}
}

func randomCelsius() int {
	return MinCelsius + rand.IntN(MaxCelsius-MinCelsius+1)
}

// Data takes a new reading and converts it to the configured unit.
func (t *Temperature) Data() (Reading, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = t.sample()
	return convertCelsius(t.last, t.unit), nil
}

// Last returns the most recent raw reading in Celsius.
func (t *Temperature) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Config returns the unit flag, "C" or "F".
func (t *Temperature) Config() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unit
}

// SetConfig changes the unit used by future reads. The stored reading is
// not converted.
func (t *Temperature) SetConfig(value string, _ Options) error {
	unit := strings.ToUpper(strings.TrimSpace(value))
	if unit != UnitCelsius && unit != UnitFahrenheit {
		return fmt.Errorf("%w: temperature unit must be C or F, got %q", ErrInvalidConfig, value)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.unit = unit
	return nil
}

// convertCelsius renders a Celsius reading in unit. Fahrenheit is c*1.8+32.
func convertCelsius(c int, unit string) Reading {
	if unit == UnitFahrenheit {
		f := float64(c)*1.8 + 32
		return Reading{
			Value:   f,
			Unit:    UnitFahrenheit,
			Text:    strconv.FormatFloat(f, 'f', -1, 64) + " " + UnitFahrenheit,
			Numeric: true,
		}
	}
	return Reading{
		Value:   float64(c),
		Unit:    UnitCelsius,
		Text:    strconv.Itoa(c) + " " + UnitCelsius,
		Numeric: true,
	}
}
