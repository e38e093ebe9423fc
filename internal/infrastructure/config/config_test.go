package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  identity: "bench-unit"
  port: 6000
devices:
  address_pool: ["0X10", "0X11", "0X12"]
  list:
    - alias: LED_A
      kind: led
      pin: GPIO17
    - alias: EXP
      kind: expander
      address: 0x21
      outputs: [3]
    - alias: LED_B
      kind: led
      expander: EXP
      expander_pin: 3
blink:
  timeout: 10
  rate: 0.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Identity != "bench-unit" {
		t.Errorf("Server.Identity = %q, want %q", cfg.Server.Identity, "bench-unit")
	}
	if cfg.ListenAddress() != "0.0.0.0:6000" {
		t.Errorf("ListenAddress() = %q, want %q", cfg.ListenAddress(), "0.0.0.0:6000")
	}
	if len(cfg.Devices.List) != 3 {
		t.Fatalf("len(Devices.List) = %d, want 3", len(cfg.Devices.List))
	}
	if got := cfg.Devices.List[1].Address; got != 0x21 {
		t.Errorf("expander address = %#x, want 0x21", got)
	}
	if got := cfg.BlinkRate(); got != 500*time.Millisecond {
		t.Errorf("BlinkRate() = %v, want 500ms", got)
	}
	if got := cfg.BlinkTimeout(); got != 10*time.Second {
		t.Errorf("BlinkTimeout() = %v, want 10s", got)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555", cfg.Server.Port)
	}
	if len(cfg.Devices.List) != 7 {
		t.Errorf("len(Devices.List) = %d, want 7", len(cfg.Devices.List))
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
server:
  codec: "xml"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for unknown codec, got nil")
	}
	if !strings.Contains(err.Error(), "server.codec") {
		t.Errorf("error = %v, want mention of server.codec", err)
	}
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	t.Setenv("HWSIM_SERVER_PORT", "five")

	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for non-numeric HWSIM_SERVER_PORT, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "zero send queue",
			mutate:  func(c *Config) { c.Server.SendQueueSize = 0 },
			wantErr: "server.send_queue_size",
		},
		{
			name:    "zero write timeout",
			mutate:  func(c *Config) { c.Server.WriteTimeout = 0 },
			wantErr: "server.write_timeout",
		},
		{
			name:    "duplicate alias",
			mutate:  func(c *Config) { c.Devices.List[1].Alias = "LED_BLUE" },
			wantErr: "duplicate alias",
		},
		{
			name: "duplicate pool address",
			mutate: func(c *Config) {
				c.Devices.AddressPool = []string{"0X01", "0X01"}
			},
			wantErr: "duplicate address",
		},
		{
			name:    "empty pool",
			mutate:  func(c *Config) { c.Devices.AddressPool = nil },
			wantErr: "address_pool",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Config) { c.Devices.List[0].Kind = "laser" },
			wantErr: "unknown kind",
		},
		{
			name:    "led without pin",
			mutate:  func(c *Config) { c.Devices.List[0].Pin = "" },
			wantErr: "exactly one of pin or expander",
		},
		{
			name:    "led with unknown expander",
			mutate:  func(c *Config) { c.Devices.List[3].Expander = "NOPE" },
			wantErr: "unknown expander",
		},
		{
			name:    "bad temperature unit",
			mutate:  func(c *Config) { c.Devices.List[1].Unit = "K" },
			wantErr: "C or F",
		},
		{
			name:    "non-positive voltage",
			mutate:  func(c *Config) { c.Devices.List[2].Voltage = 0 },
			wantErr: "voltage",
		},
		{
			name: "broadcast alias collides with device",
			mutate: func(c *Config) {
				c.Devices.Broadcast = map[string]string{"TEMP": KindLED}
			},
			wantErr: "also a device alias",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero blink rate",
			mutate:  func(c *Config) { c.Blink.Rate = 0 },
			wantErr: "blink.rate",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Hardware.Backend = "fpga" },
			wantErr: "hardware.backend",
		},
		{
			name: "websocket shares router port",
			mutate: func(c *Config) {
				c.WebSocket.Enabled = true
				c.WebSocket.Port = c.Server.Port
			},
			wantErr: "websocket.port",
		},
		{
			name: "database enabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
		{
			name: "influxdb enabled without bucket",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Bucket = ""
			},
			wantErr: "influxdb.org and influxdb.bucket",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Blink.Timeout = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"server.port", "blink.timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %v, missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		WebSocket: WebSocketConfig{
			Timeouts: HTTPTimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}

	cfg.Server.WriteTimeout = 5
	if got := cfg.ReplyWriteTimeout().Seconds(); got != 5 {
		t.Errorf("ReplyWriteTimeout() = %v, want 5", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("HWSIM_SERVER_IDENTITY", "rig-7")
	t.Setenv("HWSIM_SERVER_PORT", "7000")
	t.Setenv("HWSIM_SERVER_CODEC", "cbor")
	t.Setenv("HWSIM_HARDWARE_BACKEND", "periph")
	t.Setenv("HWSIM_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HWSIM_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HWSIM_MQTT_USERNAME", "testuser")
	t.Setenv("HWSIM_MQTT_PASSWORD", "testpass")
	t.Setenv("HWSIM_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HWSIM_LOG_LEVEL", "debug")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Server.Identity", cfg.Server.Identity, "rig-7"},
		{"Server.Port", cfg.Server.Port, 7000},
		{"Server.Codec", cfg.Server.Codec, "cbor"},
		{"Hardware.Backend", cfg.Hardware.Backend, "periph"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Identity == "" {
		t.Error("Default should have non-empty Server.Identity")
	}

	if len(cfg.Devices.AddressPool) < len(cfg.Devices.List) {
		t.Errorf("default pool has %d addresses for %d devices", len(cfg.Devices.AddressPool), len(cfg.Devices.List))
	}

	if cfg.Devices.Broadcast["LED_MULTI"] != KindLED {
		t.Errorf("default broadcast LED_MULTI = %q, want %q", cfg.Devices.Broadcast["LED_MULTI"], KindLED)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
