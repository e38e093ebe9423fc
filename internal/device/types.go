package device

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/hwsim/internal/process"
)

// Kind identifies a device variant.
type Kind string

const (
	KindLED         Kind = "led"
	KindTemperature Kind = "temperature"
	KindPower       Kind = "power"
	KindExpander    Kind = "expander"
)

// AllKinds lists every supported variant.
var AllKinds = []Kind{KindLED, KindTemperature, KindPower, KindExpander}

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Status is the ON/OFF state of a device, or BLINK while an LED blinks.
type Status string

const (
	StatusOn    Status = "ON"
	StatusOff   Status = "OFF"
	StatusBlink Status = "BLINK"
)

// Reading is a live value produced by Device.Data.
type Reading struct {
	// Value is the numeric value, meaningful only when Numeric is true.
	Value float64

	// Unit is the unit of Value ("C", "F", "V"), empty for textual readings.
	Unit string

	// Text is the human-readable form returned to clients.
	Text string

	// Numeric is true for sensor readings that can be exported as telemetry.
	Numeric bool
}

// String returns the human-readable form of the reading.
func (r Reading) String() string {
	return r.Text
}

// MinRate is the shortest blink interval a request may ask for.
const MinRate = 10 * time.Millisecond

// Options carries the caller-supplied parameters of a background operation.
// Zero fields fall back to the device defaults.
type Options struct {
	Timeout time.Duration
	Rate    time.Duration
}

func (o Options) withDefaults(d Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Rate <= 0 {
		o.Rate = d.Rate
	}
	return o
}

// Device is the capability set shared by every simulated peripheral.
//
// The variant set is closed: only types in this package implement Device.
type Device interface {
	// Alias is the unique external name of the device.
	Alias() string

	// Kind is the device variant.
	Kind() Kind

	// Address is the bus address assigned by the registry, empty until assigned.
	Address() string

	Status() Status
	SetStatus(Status)

	// Data returns a live reading.
	Data() (Reading, error)

	// Config returns the current configuration in its reply form.
	Config() string

	// SetConfig applies a configuration value. opts is used only by LEDs
	// when the value starts a blink.
	SetConfig(value string, opts Options) error

	assign(address string)
}

// ConfigStarter is implemented by devices whose configuration value can
// start a background operation. StartConfig behaves like SetConfig and also
// returns the operation's result channel, which is nil unless the value
// started a new operation.
type ConfigStarter interface {
	StartConfig(value string, opts Options) (<-chan process.Result, error)
}

// ProcessRunner is implemented by devices that run background operations.
type ProcessRunner interface {
	StartProcess(name string, opts Options) (process.Outcome, <-chan process.Result, error)
	StopProcess(name string) process.Outcome
	IsRunning(name string) bool
	ProcessStats() process.Stats

	// Halt stops any running operation and waits for it to exit.
	Halt()
}

// base holds the fields common to every variant.
type base struct {
	alias string
	kind  Kind

	mu      sync.Mutex
	address string
	status  Status
}

func (b *base) Alias() string { return b.alias }
func (b *base) Kind() Kind    { return b.kind }

func (b *base) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) SetStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// assign sets the address once; later calls are ignored.
func (b *base) assign(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.address == "" {
		b.address = address
	}
}
