// Package hal provides the hardware-access capability injected into devices.
//
// Devices never touch GPIO registers or I2C buses directly. They drive an
// Output obtained from a Driver, which is either:
//
//   - Sim: an in-memory backend that records every write (the default, and
//     the test double used throughout the repository)
//   - Periph: native GPIO lines and MCP23017 expander pins via periph.io
//
// # Usage
//
//	drv, err := hal.Open("sim")
//	if err != nil {
//	    return err
//	}
//	defer drv.Close()
//
//	led, err := drv.Output("P8_10")
//	if err != nil {
//	    return err
//	}
//	led.Set(hal.High)
package hal
