package influxdb_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/infrastructure/config"
	"github.com/nerrad567/hwsim/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "hwsim-dev-token",
		Org:           "hwsim",
		Bucket:        "readings",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test if InfluxDB is not running.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run InfluxDB tests")
	}
	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Skipf("InfluxDB not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteReading_NotConnectedIsNoop(t *testing.T) {
	var c influxdb.Client

	c.WriteReading("TEMP", "0X02", device.Reading{Value: 20, Unit: "C", Numeric: true})

	if c.Written() != 0 {
		t.Errorf("Written() = %d, want 0", c.Written())
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose_Nil(t *testing.T) {
	var c influxdb.Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	c.Flush()
}

func TestWriteReading_Integration(t *testing.T) {
	client := connectOrSkip(t)

	client.WriteReading("TEMP", "0X02", device.Reading{Value: 21, Unit: "C", Text: "21 C", Numeric: true})
	client.WriteReading("LED_BLUE", "0X01", device.Reading{Text: "ON"})
	client.Flush()

	if client.Written() != 1 {
		t.Errorf("Written() = %d, want 1 (textual readings are skipped)", client.Written())
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
