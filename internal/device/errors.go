package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when an alias is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDuplicateAlias is returned when two devices share an alias.
	ErrDuplicateAlias = errors.New("device: duplicate alias")

	// ErrDuplicateAddress is returned when the address pool repeats an entry.
	ErrDuplicateAddress = errors.New("device: duplicate address in pool")

	// ErrAddressPoolExhausted is returned when there are more devices than addresses.
	ErrAddressPoolExhausted = errors.New("device: address pool exhausted")

	// ErrAlreadyAssigned is returned when addresses are assigned a second time.
	ErrAlreadyAssigned = errors.New("device: addresses already assigned")

	// ErrNotAddressed is returned when the alias index is built before address assignment.
	ErrNotAddressed = errors.New("device: addresses not assigned")

	// ErrIndexBuilt is returned when the alias index is built a second time.
	ErrIndexBuilt = errors.New("device: alias index already built")

	// ErrIndexNotBuilt is returned when resolving before the alias index exists.
	ErrIndexNotBuilt = errors.New("device: alias index not built")

	// ErrInvalidDevice is returned when a device specification is invalid.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidKind is returned when a kind value is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidConfig is returned when a configuration value is rejected.
	ErrInvalidConfig = errors.New("device: invalid config")

	// ErrUnknownProcess is returned when a device has no operation of that name.
	ErrUnknownProcess = errors.New("device: unknown process")

	// ErrHardware wraps failures reported by the hardware-access capability.
	ErrHardware = errors.New("device: hardware failure")
)
