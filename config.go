package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uwbtools/tdoatag/internal/radio"
)

// Config is the service configuration, loaded from YAML with defaults for
// every field.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// SerialPort is the UWB module's serial device. Ignored in dev mode.
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`

	// DBPath is the sqlite session log. Empty disables persistence.
	DBPath string `yaml:"db_path"`

	// Height2D, when set, fixes the tag's operating height in meters and
	// enables planar positioning.
	Height2D *float64 `yaml:"height_2d"`

	// AnchorCapacity bounds how many anchors are tracked at once. Zero
	// keeps the default.
	AnchorCapacity int `yaml:"anchor_capacity"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional measurement publisher. An empty broker
// disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Listen:     ":8080",
		SerialPort: "/dev/ttyACM0",
		BaudRate:   radio.DefaultBaudRate,
		DBPath:     "tdoatag.db",
		MQTT: MQTTConfig{
			Topic:    "tdoatag/measurements",
			ClientID: "tdoatag",
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
