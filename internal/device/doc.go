// Package device provides the simulated peripherals and the Device Registry.
//
// Every simulated peripheral implements Device. The set of variants is closed:
//
//   - LED: drives one output line (native GPIO or expander pin) and can run
//     the BLINK background operation
//   - Temperature: produces a fresh reading in [-100, 200] °C on every read,
//     reported in Celsius or Fahrenheit
//   - Power: reports a voltage sampled within ±0.2 V of its target
//   - Expander: an MCP23017 bank whose pins back expander-driven LEDs
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Device Registry                        │
//	│                                                               │
//	│  ┌────────────────┐   ┌────────────────┐   ┌──────────────┐   │
//	│  │    Registry    │   │    Devices     │   │    Build     │   │
//	│  │ (registry.go)  │──▶│ (led.go, ...)  │◀──│  (build.go)  │   │
//	│  │                │   │                │   │              │   │
//	│  │ • Addresses    │   │ • Status       │   │ • Specs →    │   │
//	│  │ • Alias index  │   │ • Data/Config  │   │   devices    │   │
//	│  │ • Resolve      │   │ • Per-device mu│   │ • HAL wiring │   │
//	│  └────────────────┘   └────────────────┘   └──────────────┘   │
//	│                               │                               │
//	└───────────────────────────────│───────────────────────────────┘
//	                                ▼
//	                     ┌──────────────────────┐
//	                     │  hal.Output / Driver  │
//	                     └──────────────────────┘
//
// # Lifecycle
//
// The registry is populated once at startup:
//
//	devices, err := device.Build(specs, driver, device.Options{Timeout: time.Minute, Rate: 5 * time.Second})
//	reg, err := device.NewRegistry(devices, []string{"0X01", "0X02", "0X03"})
//	if err := reg.AssignAddresses(); err != nil {
//	    return err // more devices than addresses
//	}
//	if err := reg.BuildAliasIndex(); err != nil {
//	    return err
//	}
//
// After BuildAliasIndex the registry is read-only and lookups need no lock.
//
// # Thread Safety
//
// Each device guards its own status and output with its own mutex. There is
// no lock spanning devices.
package device
