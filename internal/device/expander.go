package device

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/hwsim/internal/hal"
)

// Expander is a GPIO-expander bank. Its configuration is the list of pins
// set up as outputs; expander-backed LEDs obtain their line through Pin.
type Expander struct {
	base
	bank    hal.Expander
	outputs map[int]hal.Output
}

// NewExpander wraps an opened expander bank. The bank is reported ON.
func NewExpander(alias string, bank hal.Expander) *Expander {
	return &Expander{
		base:    base{alias: alias, kind: KindExpander, status: StatusOn},
		bank:    bank,
		outputs: make(map[int]hal.Output),
	}
}

// Pin configures pin n as an output and returns its line.
func (e *Expander) Pin(n int) (hal.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pinLocked(n)
}

func (e *Expander) pinLocked(n int) (hal.Output, error) {
	if out, ok := e.outputs[n]; ok {
		return out, nil
	}
	out, err := e.bank.Pin(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %s pin %d: %w", ErrHardware, e.alias, n, err)
	}
	e.outputs[n] = out
	return out, nil
}

// Data lists the level of every output pin, e.g. "0:HIGH,1:LOW".
func (e *Expander) Data() (Reading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pins := e.sortedLocked()
	parts := make([]string, 0, len(pins))
	for _, n := range pins {
		parts = append(parts, fmt.Sprintf("%d:%s", n, e.outputs[n].Level()))
	}
	return Reading{Text: strings.Join(parts, ",")}, nil
}

// Config returns the output pins as a comma-separated list.
func (e *Expander) Config() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	pins := e.sortedLocked()
	parts := make([]string, 0, len(pins))
	for _, n := range pins {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, ",")
}

// SetConfig configures each listed pin as an output. Pins already
// configured stay configured.
func (e *Expander) SetConfig(value string, _ Options) error {
	pins, err := parsePins(value)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range pins {
		if _, err := e.pinLocked(n); err != nil {
			return err
		}
	}
	return nil
}

func (e *Expander) sortedLocked() []int {
	pins := make([]int, 0, len(e.outputs))
	for n := range e.outputs {
		pins = append(pins, n)
	}
	slices.Sort(pins)
	return pins
}

func parsePins(value string) ([]int, error) {
	var pins []int
	for _, field := range strings.Split(value, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n < 0 || n >= hal.ExpanderPins {
			return nil, fmt.Errorf("%w: expander pin %q", ErrInvalidConfig, field)
		}
		pins = append(pins, n)
	}
	if len(pins) == 0 {
		return nil, fmt.Errorf("%w: no expander pins in %q", ErrInvalidConfig, value)
	}
	return pins, nil
}
