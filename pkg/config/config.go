// Package config loads and validates the gateway configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mastergate/mastergate-go/pkg/power"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "500ms" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the gateway configuration.
type Config struct {
	Master MasterConfig `yaml:"master"`
	Power  PowerConfig  `yaml:"power"`
	Eeprom EepromConfig `yaml:"eeprom"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Log    LogConfig    `yaml:"log"`

	// StateFile is where the gateway persists runtime state such as
	// extension record allocations.
	StateFile string `yaml:"state_file"`
}

// MasterConfig configures the Master bus.
type MasterConfig struct {
	// Device is the serial device path, e.g. /dev/ttyO5.
	Device string `yaml:"device"`

	// Baud is the serial speed. Zero means 115200.
	Baud int `yaml:"baud"`

	// Timeout is the per-attempt response timeout.
	Timeout Duration `yaml:"timeout"`

	// Attempts is the total number of sends per command.
	Attempts int `yaml:"attempts"`

	// EventBuffer is the per-subscriber event buffer size.
	EventBuffer int `yaml:"event_buffer"`

	// ClockSyncInterval is how often the Master's wall clock is set.
	// Zero disables clock syncing.
	ClockSyncInterval Duration `yaml:"clock_sync_interval"`
}

// PowerConfig configures the power metering bus. An empty Device
// disables the power bus entirely.
type PowerConfig struct {
	Device   string   `yaml:"device"`
	Baud     int      `yaml:"baud"`
	Timeout  Duration `yaml:"timeout"`
	Attempts int      `yaml:"attempts"`

	// Modules lists the power module addresses on the bus.
	Modules []uint8 `yaml:"modules"`

	// NightStart and NightEnd bound the night tariff, as "hh:mm".
	NightStart string `yaml:"night_start"`
	NightEnd   string `yaml:"night_end"`

	// SyncInterval is how often time and tariff are pushed to the
	// modules.
	SyncInterval Duration `yaml:"sync_interval"`
}

// EepromConfig declares the configuration memory geometry.
type EepromConfig struct {
	// Banks is the number of EEPROM banks, at most 256.
	Banks int `yaml:"banks"`

	// BankSize is the bank size in bytes, at most 256.
	BankSize int `yaml:"bank_size"`

	// ExtensionStart is the first bank reserved for extension records.
	ExtensionStart int `yaml:"extension_start"`

	// ExtensionBanks is the number of reserved extension banks. Zero
	// disables the extension layer.
	ExtensionBanks int `yaml:"extension_banks"`
}

// MQTTConfig configures the event bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Trace is the path of the CBOR protocol trace file. Empty
	// disables tracing.
	Trace string `yaml:"trace"`

	// Debug enables debug-level console logging.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration defaults. Parse applies them
// before unmarshalling, so absent keys keep these values.
func Default() Config {
	return Config{
		Master: MasterConfig{
			Baud:              115200,
			Timeout:           Duration(500 * time.Millisecond),
			Attempts:          3,
			EventBuffer:       32,
			ClockSyncInterval: Duration(time.Hour),
		},
		Power: PowerConfig{
			Baud:         115200,
			Timeout:      Duration(500 * time.Millisecond),
			Attempts:     3,
			NightStart:   "22:00",
			NightEnd:     "06:00",
			SyncInterval: Duration(time.Minute),
		},
		Eeprom: EepromConfig{
			Banks:          256,
			BankSize:       256,
			ExtensionStart: 200,
			ExtensionBanks: 56,
		},
		MQTT: MQTTConfig{
			ClientID:    "mastergate",
			TopicPrefix: "mastergate",
		},
		StateFile: "/var/lib/mastergate/state.json",
	}
}

// Parse unmarshals configuration YAML over the defaults and validates
// the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Master.Device == "" {
		return fmt.Errorf("master.device is required")
	}
	if c.Master.Attempts <= 0 {
		return fmt.Errorf("master.attempts must be positive")
	}
	if c.Master.Timeout <= 0 {
		return fmt.Errorf("master.timeout must be positive")
	}

	if c.Eeprom.Banks <= 0 || c.Eeprom.Banks > 256 {
		return fmt.Errorf("eeprom.banks must be 1..256, got %d", c.Eeprom.Banks)
	}
	if c.Eeprom.BankSize <= 0 || c.Eeprom.BankSize > 256 {
		return fmt.Errorf("eeprom.bank_size must be 1..256, got %d", c.Eeprom.BankSize)
	}
	if c.Eeprom.ExtensionBanks > 0 {
		if c.Eeprom.ExtensionStart < 0 ||
			c.Eeprom.ExtensionStart+c.Eeprom.ExtensionBanks > c.Eeprom.Banks {
			return fmt.Errorf("eeprom extension banks %d..%d outside device with %d banks",
				c.Eeprom.ExtensionStart,
				c.Eeprom.ExtensionStart+c.Eeprom.ExtensionBanks-1,
				c.Eeprom.Banks)
		}
	}

	if c.Power.Device != "" {
		if c.Power.Attempts <= 0 {
			return fmt.Errorf("power.attempts must be positive")
		}
		if c.Power.Timeout <= 0 {
			return fmt.Errorf("power.timeout must be positive")
		}
		if _, err := power.ParseSchedule(c.Power.NightStart, c.Power.NightEnd); err != nil {
			return fmt.Errorf("power tariff schedule: %w", err)
		}
	}

	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required when a broker is set")
	}
	return nil
}

// Schedule returns the parsed tariff schedule. Call Validate first.
func (c *Config) Schedule() power.Schedule {
	s, _ := power.ParseSchedule(c.Power.NightStart, c.Power.NightEnd)
	return s
}
