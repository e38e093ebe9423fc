package device

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/nerrad567/hwsim/internal/process"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry owns the fixed device set for the lifetime of the process.
//
// It is populated in two steps, AssignAddresses then BuildAliasIndex, both
// before any request is dispatched. After BuildAliasIndex nothing mutates the
// registry, so lookups take no lock.
type Registry struct {
	devices  []Device
	pool     []string
	byAlias  map[string]Device
	index    map[string]string // alias → address; nil until BuildAliasIndex
	assigned bool
	logger   Logger
}

// NewRegistry creates a registry over devices, in declaration order, and the
// ordered address pool.
//
// Returns:
//   - *Registry: registry with no addresses assigned yet
//   - error: ErrDuplicateAlias or ErrDuplicateAddress
func NewRegistry(devices []Device, pool []string) (*Registry, error) {
	byAlias := make(map[string]Device, len(devices))
	for _, d := range devices {
		if _, dup := byAlias[d.Alias()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAlias, d.Alias())
		}
		byAlias[d.Alias()] = d
	}

	seen := make(map[string]struct{}, len(pool))
	for _, addr := range pool {
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
		}
		seen[addr] = struct{}{}
	}

	return &Registry{
		devices: slices.Clone(devices),
		pool:    slices.Clone(pool),
		byAlias: byAlias,
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the registry and for the process managers
// of its devices.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
	for _, d := range r.devices {
		if l, ok := d.(interface{ SetLogger(process.Logger) }); ok {
			l.SetLogger(logger)
		}
	}
}

// AssignAddresses gives each device the pool entry at its position. Devices
// beyond the end of the pool stay unaddressed and are reported in an
// ErrAddressPoolExhausted error; they are never routable.
func (r *Registry) AssignAddresses() error {
	if r.assigned {
		return ErrAlreadyAssigned
	}
	r.assigned = true

	var unaddressed []string
	for i, d := range r.devices {
		if i >= len(r.pool) {
			unaddressed = append(unaddressed, d.Alias())
			continue
		}
		d.assign(r.pool[i])
		r.logger.Debug("address assigned", "alias", d.Alias(), "address", d.Address())
	}

	if len(unaddressed) > 0 {
		return fmt.Errorf("%w: %d devices, %d addresses, unaddressed: %s",
			ErrAddressPoolExhausted, len(r.devices), len(r.pool), strings.Join(unaddressed, ", "))
	}
	return nil
}

// BuildAliasIndex builds the alias → address map from the assigned
// addresses. It must run after AssignAddresses and only once.
func (r *Registry) BuildAliasIndex() error {
	if !r.assigned {
		return ErrNotAddressed
	}
	if r.index != nil {
		return ErrIndexBuilt
	}

	index := make(map[string]string, len(r.devices))
	for _, d := range r.devices {
		if addr := d.Address(); addr != "" {
			index[d.Alias()] = addr
		}
	}
	r.index = index

	r.logger.Info("alias index built", "devices", len(index))
	return nil
}

// Resolve returns the addressed device with the given alias.
func (r *Registry) Resolve(alias string) (Device, error) {
	if r.index == nil {
		return nil, ErrIndexNotBuilt
	}
	if _, ok := r.index[alias]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, alias)
	}
	return r.byAlias[alias], nil
}

// ResolveGroup returns, in declaration order, every addressed device for
// which match returns true.
func (r *Registry) ResolveGroup(match func(Device) bool) []Device {
	var group []Device
	for _, d := range r.devices {
		if _, ok := r.index[d.Alias()]; ok && match(d) {
			group = append(group, d)
		}
	}
	return group
}

// OfKind matches devices of kind k.
func OfKind(k Kind) func(Device) bool {
	return func(d Device) bool { return d.Kind() == k }
}

// Lookup returns a copy of the alias → address map.
func (r *Registry) Lookup() map[string]string {
	return maps.Clone(r.index)
}

// Devices returns all devices in declaration order, addressed or not.
func (r *Registry) Devices() []Device {
	return slices.Clone(r.devices)
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.devices)
}

// HaltAll stops every running background operation and waits for each to
// exit. Used at shutdown.
func (r *Registry) HaltAll() {
	for _, d := range r.devices {
		if pr, ok := d.(ProcessRunner); ok {
			pr.Halt()
		}
	}
}
