package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Device kinds accepted in devices.list.
const (
	KindLED         = "led"
	KindTemperature = "temperature"
	KindPower       = "power"
	KindExpander    = "expander"
)

// Config is the root configuration structure for hwsim.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Devices   DevicesConfig   `yaml:"devices"`
	Blink     BlinkConfig     `yaml:"blink"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the TCP router settings.
type ServerConfig struct {
	// Identity names this server in banners and discovery records.
	Identity string `yaml:"identity"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// Codec is the payload encoding: "json" or "cbor".
	Codec string `yaml:"codec"`

	// MaxFrameSize bounds a single frame on the TCP socket, in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`

	// QueueSize is the capacity of the inbound request queue shared by all transports.
	QueueSize int `yaml:"queue_size"`

	// SendQueueSize is the number of replies buffered per TCP client. A
	// client whose buffer overflows is disconnected.
	SendQueueSize int `yaml:"send_queue_size"`

	// WriteTimeout bounds each reply write to a TCP client (seconds).
	WriteTimeout int `yaml:"write_timeout"`
}

// DevicesConfig declares the simulated devices and their address pool.
type DevicesConfig struct {
	// AddressPool is handed out to devices in declaration order.
	AddressPool []string `yaml:"address_pool"`

	// Broadcast maps reserved aliases to the device kind they address.
	Broadcast map[string]string `yaml:"broadcast"`

	List []DeviceConfig `yaml:"list"`
}

// DeviceConfig declares one device.
type DeviceConfig struct {
	Alias string `yaml:"alias"`
	Kind  string `yaml:"kind"`

	// LED: a native GPIO line name, or an expander alias and pin.
	Pin         string `yaml:"pin,omitempty"`
	Expander    string `yaml:"expander,omitempty"`
	ExpanderPin int    `yaml:"expander_pin,omitempty"`

	// Temperature: initial unit, "C" or "F".
	Unit string `yaml:"unit,omitempty"`

	// Power: target voltage.
	Voltage float64 `yaml:"voltage,omitempty"`

	// Expander: I2C bus, chip address and output pins.
	Bus     string `yaml:"bus,omitempty"`
	Address uint16 `yaml:"address,omitempty"`
	Outputs []int  `yaml:"outputs,omitempty"`
}

// BlinkConfig holds the defaults for BLINK when a request omits TIMEOUT or RATE.
type BlinkConfig struct {
	// Timeout in seconds.
	Timeout float64 `yaml:"timeout"`

	// Rate is the half-period in seconds.
	Rate float64 `yaml:"rate"`
}

// HardwareConfig selects the GPIO backend.
type HardwareConfig struct {
	// Backend is "sim" (in-memory) or "periph" (real GPIO and I2C).
	Backend string `yaml:"backend"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// WebSocketConfig contains the HTTP/WebSocket listener settings.
type WebSocketConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	MaxMessageSize int               `yaml:"max_message_size"`
	PingInterval   int               `yaml:"ping_interval"`
	PongTimeout    int               `yaml:"pong_timeout"`
	Timeouts       HTTPTimeoutConfig `yaml:"timeouts"`
}

// HTTPTimeoutConfig contains HTTP timeout settings in seconds.
type HTTPTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// DatabaseConfig contains SQLite settings for the audit trail.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// DiscoveryConfig contains mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Instance defaults to server.identity when empty.
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HWSIM_SECTION_KEY
// For example: HWSIM_SERVER_PORT, HWSIM_HARDWARE_BACKEND
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the stock board layout: a native blue LED,
// a temperature sensor, a regulator and three LEDs on an MCP23017 at 0x20.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Identity:      "Server FEMII-ZYNQ",
			Host:          "0.0.0.0",
			Port:          5555,
			Codec:         "json",
			MaxFrameSize:  65536,
			QueueSize:     64,
			SendQueueSize: 64,
			WriteTimeout:  5,
		},
		Devices: DevicesConfig{
			AddressPool: []string{"0X01", "0X02", "0X03", "0X04", "0X05", "0X06", "0X20"},
			Broadcast:   map[string]string{"LED_MULTI": KindLED},
			List: []DeviceConfig{
				{Alias: "LED_BLUE", Kind: KindLED, Pin: "P8_10"},
				{Alias: "TEMP", Kind: KindTemperature, Unit: "C"},
				{Alias: "POWER", Kind: KindPower, Voltage: 5},
				{Alias: "LED_RED", Kind: KindLED, Expander: "MCP", ExpanderPin: 0},
				{Alias: "LED_YELLOW", Kind: KindLED, Expander: "MCP", ExpanderPin: 1},
				{Alias: "LED_GREEN", Kind: KindLED, Expander: "MCP", ExpanderPin: 2},
				{Alias: "MCP", Kind: KindExpander, Address: 0x20, Outputs: []int{0, 1, 2}},
			},
		},
		Blink: BlinkConfig{
			Timeout: 60,
			Rate:    5,
		},
		Hardware: HardwareConfig{
			Backend: "sim",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hwsim",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		WebSocket: WebSocketConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			Timeouts: HTTPTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/hwsim.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "hwsim",
			Bucket:        "readings",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Discovery: DiscoveryConfig{
			Service: "_hwsim._tcp",
			Domain:  "local.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HWSIM_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Server
	if v := os.Getenv("HWSIM_SERVER_IDENTITY"); v != "" {
		cfg.Server.Identity = v
	}
	if v := os.Getenv("HWSIM_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HWSIM_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("HWSIM_SERVER_CODEC"); v != "" {
		cfg.Server.Codec = v
	}

	// Hardware
	if v := os.Getenv("HWSIM_HARDWARE_BACKEND"); v != "" {
		cfg.Hardware.Backend = v
	}

	// Database
	if v := os.Getenv("HWSIM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HWSIM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HWSIM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HWSIM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HWSIM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("HWSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.Codec != "json" && c.Server.Codec != "cbor" {
		errs = append(errs, fmt.Sprintf("server.codec must be json or cbor, got %q", c.Server.Codec))
	}
	if c.Server.MaxFrameSize < 1 {
		errs = append(errs, "server.max_frame_size must be positive")
	}
	if c.Server.QueueSize < 1 {
		errs = append(errs, "server.queue_size must be positive")
	}
	if c.Server.SendQueueSize < 1 {
		errs = append(errs, "server.send_queue_size must be positive")
	}
	if c.Server.WriteTimeout < 1 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	errs = append(errs, c.validateDevices()...)

	if c.Blink.Timeout <= 0 {
		errs = append(errs, "blink.timeout must be positive")
	}
	if c.Blink.Rate <= 0 {
		errs = append(errs, "blink.rate must be positive")
	}

	if c.Hardware.Backend != "sim" && c.Hardware.Backend != "periph" {
		errs = append(errs, fmt.Sprintf("hardware.backend must be sim or periph, got %q", c.Hardware.Backend))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.WebSocket.Enabled && (c.WebSocket.Port < 1 || c.WebSocket.Port > 65535) {
		errs = append(errs, "websocket.port must be between 1 and 65535")
	}
	if c.WebSocket.Enabled && c.WebSocket.Port == c.Server.Port {
		errs = append(errs, "websocket.port must differ from server.port")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required when discovery is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string

	if len(c.Devices.AddressPool) == 0 {
		errs = append(errs, "devices.address_pool must not be empty")
	}
	seenAddr := make(map[string]bool, len(c.Devices.AddressPool))
	for _, a := range c.Devices.AddressPool {
		if seenAddr[a] {
			errs = append(errs, fmt.Sprintf("devices.address_pool: duplicate address %q", a))
		}
		seenAddr[a] = true
	}

	expanders := make(map[string]bool)
	for _, d := range c.Devices.List {
		if d.Kind == KindExpander {
			expanders[d.Alias] = true
		}
	}

	seen := make(map[string]bool, len(c.Devices.List))
	for i, d := range c.Devices.List {
		field := fmt.Sprintf("devices.list[%d]", i)
		if d.Alias == "" {
			errs = append(errs, field+".alias is required")
			continue
		}
		if seen[d.Alias] {
			errs = append(errs, fmt.Sprintf("%s: duplicate alias %q", field, d.Alias))
		}
		seen[d.Alias] = true

		switch d.Kind {
		case KindLED:
			if (d.Pin == "") == (d.Expander == "") {
				errs = append(errs, fmt.Sprintf("%s: led %s needs exactly one of pin or expander", field, d.Alias))
			} else if d.Expander != "" && !expanders[d.Expander] {
				errs = append(errs, fmt.Sprintf("%s: led %s references unknown expander %q", field, d.Alias, d.Expander))
			}
		case KindTemperature:
			if d.Unit != "" && d.Unit != "C" && d.Unit != "F" {
				errs = append(errs, fmt.Sprintf("%s: temperature unit must be C or F", field))
			}
		case KindPower:
			if d.Voltage <= 0 {
				errs = append(errs, fmt.Sprintf("%s: power voltage must be positive", field))
			}
		case KindExpander:
			if d.Address == 0 {
				errs = append(errs, fmt.Sprintf("%s: expander address is required", field))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q", field, d.Kind))
		}
	}

	for alias, kind := range c.Devices.Broadcast {
		if seen[alias] {
			errs = append(errs, fmt.Sprintf("devices.broadcast: %q is also a device alias", alias))
		}
		switch kind {
		case KindLED, KindTemperature, KindPower, KindExpander:
		default:
			errs = append(errs, fmt.Sprintf("devices.broadcast: %q has unknown kind %q", alias, kind))
		}
	}

	return errs
}

// BlinkTimeout returns the default BLINK timeout as a Duration.
func (c *Config) BlinkTimeout() time.Duration {
	return seconds(c.Blink.Timeout)
}

// BlinkRate returns the default BLINK half-period as a Duration.
func (c *Config) BlinkRate() time.Duration {
	return seconds(c.Blink.Rate)
}

// ListenAddress returns host:port for the TCP router.
// ReplyWriteTimeout returns the TCP reply write timeout as a Duration.
func (c *Config) ReplyWriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeout) * time.Second
}

func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetReadTimeout returns the HTTP read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.WebSocket.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.WebSocket.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the HTTP idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.WebSocket.Timeouts.Idle) * time.Second
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
