package device

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// PowerJitter is the maximum deviation of a simulated reading from the target voltage.
const PowerJitter = 0.2

// Power is a simulated voltage regulator.
type Power struct {
	base
	target  float64
	uniform func() float64
}

// NewPower creates a regulator with the given target voltage. uniform must
// return values in [0, 1); nil selects math/rand.
func NewPower(alias string, target float64, uniform func() float64) *Power {
	if uniform == nil {
		uniform = rand.Float64
	}
	return &Power{
		base:    base{alias: alias, kind: KindPower, status: StatusOff},
		target:  target,
		uniform: uniform,
	}
}

// Data returns a voltage sampled uniformly within PowerJitter of the target.
func (p *Power) Data() (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := p.target - PowerJitter + p.uniform()*2*PowerJitter
	return Reading{
		Value:   v,
		Unit:    "V",
		Text:    strconv.FormatFloat(v, 'f', 3, 64) + "V",
		Numeric: true,
	}, nil
}

// Config returns the target voltage with a unit suffix, e.g. "5V".
func (p *Power) Config() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strconv.FormatFloat(p.target, 'f', -1, 64) + "V"
}

// SetConfig sets the target voltage. A trailing "V" is accepted.
func (p *Power) SetConfig(value string, _ Options) error {
	raw := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(value), "V"), "v")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return fmt.Errorf("%w: voltage must be a positive number, got %q", ErrInvalidConfig, value)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = v
	return nil
}
