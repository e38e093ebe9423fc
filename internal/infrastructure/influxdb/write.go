package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/hwsim/internal/device"
)

// MeasurementReadings is the measurement every sensor reading is written to.
const MeasurementReadings = "device_readings"

// WriteReading queues one numeric READ result. Non-numeric readings and
// writes after Close are ignored.
//
// The point is tagged with the device alias, its bus address and the
// reading's unit, so Celsius and Fahrenheit samples of the same sensor stay
// separable:
//
//	device_readings,alias=TEMP,address=0X02,unit=C value=21
func (c *Client) WriteReading(alias, address string, r device.Reading) {
	if !r.Numeric || !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(readingPoint(alias, address, r, time.Now()))

	c.mu.Lock()
	c.written++
	c.mu.Unlock()
}

func readingPoint(alias, address string, r device.Reading, at time.Time) *write.Point {
	tags := map[string]string{
		"alias":   alias,
		"address": address,
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}
	return write.NewPoint(MeasurementReadings, tags, map[string]any{"value": r.Value}, at)
}
