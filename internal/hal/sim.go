package hal

import (
	"fmt"
	"sync"
)

// Sim is an in-memory Driver. Every line it hands out is a *SimPin that
// records its writes, so callers can assert on hardware activity without
// any hardware present.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Sim struct {
	mu     sync.Mutex
	pins   map[string]*SimPin
	closed bool
}

// NewSim creates an empty simulated driver.
func NewSim() *Sim {
	return &Sim{pins: make(map[string]*SimPin)}
}

// Output returns the simulated line with the given name, creating it on
// first use. The same name always yields the same line.
func (s *Sim) Output(name string) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	return s.pinLocked(name), nil
}

// Expander returns a simulated 16-pin expander bank.
func (s *Sim) Expander(bus string, addr uint16) (Expander, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	return &simExpander{sim: s, bus: bus, addr: addr}, nil
}

// Pin returns the line with the given name for inspection.
// Expander pins are named by ExpanderPinName.
func (s *Sim) Pin(name string) *SimPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinLocked(name)
}

// Close marks the driver closed. Lines already handed out keep working.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Sim) pinLocked(name string) *SimPin {
	p, ok := s.pins[name]
	if !ok {
		p = &SimPin{name: name}
		s.pins[name] = p
	}
	return p
}

// ExpanderPinName is the name under which Sim registers expander pin n.
func ExpanderPinName(bus string, addr uint16, n int) string {
	if bus == "" {
		bus = "i2c"
	}
	return fmt.Sprintf("%s@0x%02x/%d", bus, addr, n)
}

type simExpander struct {
	sim  *Sim
	bus  string
	addr uint16
}

func (e *simExpander) Pin(n int) (Output, error) {
	if n < 0 || n >= ExpanderPins {
		return nil, fmt.Errorf("%w: %d", ErrPinOutOfRange, n)
	}
	return e.sim.Output(ExpanderPinName(e.bus, e.addr, n))
}

func (e *simExpander) Close() error { return nil }

// SimPin is a recorded output line.
type SimPin struct {
	name string

	mu      sync.Mutex
	level   Level
	writes  int
	toggles int
	fail    error
}

// Set records the write. If FailWith has armed an error it is returned and
// the level is left unchanged.
func (p *SimPin) Set(level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		return fmt.Errorf("writing %s: %w", p.name, p.fail)
	}
	if level != p.level {
		p.toggles++
	}
	p.level = level
	p.writes++
	return nil
}

// Level returns the current level.
func (p *SimPin) Level() Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns the number of successful writes.
func (p *SimPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Toggles returns the number of writes that changed the level.
func (p *SimPin) Toggles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toggles
}

// FailWith makes every subsequent Set return err. Pass nil to clear.
func (p *SimPin) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}
