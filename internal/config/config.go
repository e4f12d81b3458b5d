// Package config loads the daemon configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	yaml "go.yaml.in/yaml/v3"

	"github.com/sweeney/irrigationd/internal/gpio"
	"github.com/sweeney/irrigationd/internal/logx"
)

// DefaultPath is where the daemon looks for its config when --config is not given.
const DefaultPath = "/etc/irrigationd/config.yaml"

// Config is the on-disk configuration.
type Config struct {
	Log      LogConfig  `yaml:"log"`
	Timezone string     `yaml:"timezone"`
	GPIO     GPIOConfig `yaml:"gpio"`
	Data     DataConfig `yaml:"data"`
	MQTT     MQTTConfig `yaml:"mqtt"`
	HTTP     HTTPConfig `yaml:"http"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type GPIOConfig struct {
	Chip      string `yaml:"chip"`
	ActiveLow *bool  `yaml:"active_low"`
	Consumer  string `yaml:"consumer"`
}

// IsActiveLow reports the relay polarity. Most relay HATs are active-low, so
// that is the default.
func (g GPIOConfig) IsActiveLow() bool {
	return g.ActiveLow == nil || *g.ActiveLow
}

type DataConfig struct {
	Devices   string `yaml:"devices"`
	Schedules string `yaml:"schedules"`
	EventsDB  string `yaml:"events_db"`
}

// MQTTConfig is optional; an empty broker disables publishing.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	Topic      string `yaml:"topic"`
	BufferSize int    `yaml:"buffer_size"`
}

// HTTPConfig is optional; an empty addr disables the API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used for omitted fields.
func Default() Config {
	return Config{
		Log:  LogConfig{Level: "info", Format: "console"},
		GPIO: GPIOConfig{Chip: gpio.DefaultChip, Consumer: gpio.DefaultConsumer},
		Data: DataConfig{
			Devices:   "/var/lib/irrigationd/devices.yaml",
			Schedules: "/var/lib/irrigationd/schedules.json",
			EventsDB:  "/var/lib/irrigationd/eventlog.sqlite",
		},
		MQTT: MQTTConfig{ClientID: "irrigationd", BufferSize: 256},
		HTTP: HTTPConfig{Addr: ":9900"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := Parse(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes data into cfg, rejecting unknown keys, and validates it.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "decode")
	}
	return cfg.Validate()
}

// Validate checks field values.
func (c Config) Validate() error {
	if _, err := logx.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return errors.Newf("unknown log format %q", c.Log.Format)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Data.Devices == "" {
		return errors.New("data.devices is required")
	}
	if c.Data.Schedules == "" {
		return errors.New("data.schedules is required")
	}
	if c.Data.EventsDB == "" {
		return errors.New("data.events_db is required")
	}
	if c.MQTT.BufferSize < 0 {
		return errors.New("mqtt.buffer_size must be >= 0")
	}
	return nil
}

// Location resolves the schedule timezone. Empty means the host's local zone.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", tz)
	}
	return loc, nil
}
