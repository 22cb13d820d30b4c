// Package config loads the sen0322 tool configuration from YAML, .env files and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/oxygen/air"
)

// Build metadata, injected at link time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	AdapterGeneric = "generic"
	AdapterGobot   = "gobot"
	AdapterMCP2221 = "mcp2221"
	AdapterSim     = "sim"
)

const (
	minAddress = 0x03
	maxAddress = 0x77
)

var ErrInvalid = errors.New("invalid configuration")

// Address is a 7-bit I2C address written as a number or a hex string.
type Address byte

func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 0, 8)
	if err != nil {
		return fmt.Errorf("invalid i2c address %q: %w", value.Value, err)
	}
	*a = Address(v)
	return nil
}

func (a Address) MarshalYAML() (any, error) {
	return fmt.Sprintf("%#02x", byte(a)), nil
}

type Config struct {
	Adapter      string        `yaml:"adapter"`
	Device       string        `yaml:"device"`
	Bus          int           `yaml:"bus"`
	Address      Address       `yaml:"address"`
	Mode         string        `yaml:"mode"`
	Interval     time.Duration `yaml:"interval"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	PhaseDelay   time.Duration `yaml:"phase_delay"`
	CommandDelay time.Duration `yaml:"command_delay"`
	Log          Log           `yaml:"log"`
	Sinks        Sinks         `yaml:"sinks"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Sinks struct {
	Influx     *Influx     `yaml:"influx,omitempty"`
	MQTT       *MQTT       `yaml:"mqtt,omitempty"`
	Prometheus *Prometheus `yaml:"prometheus,omitempty"`
}

type Influx struct {
	URL         string            `yaml:"url"`
	Token       string            `yaml:"token"`
	Org         string            `yaml:"org"`
	Bucket      string            `yaml:"bucket"`
	Measurement string            `yaml:"measurement"`
	Tags        map[string]string `yaml:"tags,omitempty"`
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
	Retain   bool   `yaml:"retain"`
}

type Prometheus struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration of a sensor at its factory address on /dev/i2c-1.
func Default() *Config {
	return &Config{
		Adapter:      AdapterGeneric,
		Device:       "/dev/i2c-1",
		Bus:          -1,
		Address:      air.SEN0322DefaultAddress,
		Mode:         air.ModeDirectRead.String(),
		Interval:     60 * time.Second,
		SettleDelay:  100 * time.Millisecond,
		PhaseDelay:   100 * time.Millisecond,
		CommandDelay: 50 * time.Millisecond,
		Log:          Log{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("could not open config file: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		// an empty file keeps the defaults
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("could not decode config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files (./.env by default)
// without overriding the ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		err := godotenv.Load(file)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("could not load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides sink settings with INFLUX_* and MQTT_BROKER variables. A
// set variable enables the corresponding sink.
func (c *Config) ApplyEnv() {
	if url := os.Getenv("INFLUX_URL"); url != "" {
		if c.Sinks.Influx == nil {
			c.Sinks.Influx = &Influx{Measurement: "oxygen"}
		}
		c.Sinks.Influx.URL = url
	}
	if c.Sinks.Influx != nil {
		setFromEnv(&c.Sinks.Influx.Token, "INFLUX_TOKEN")
		setFromEnv(&c.Sinks.Influx.Org, "INFLUX_ORG")
		setFromEnv(&c.Sinks.Influx.Bucket, "INFLUX_BUCKET")
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		if c.Sinks.MQTT == nil {
			c.Sinks.MQTT = &MQTT{ClientID: "sen0322", Topic: "sen0322/oxygen", QoS: 1}
		}
		c.Sinks.MQTT.Broker = broker
	}
}

func setFromEnv(field *string, key string) {
	if value := os.Getenv(key); value != "" {
		*field = value
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Adapter {
	case AdapterGeneric, AdapterGobot, AdapterMCP2221, AdapterSim:
	default:
		errs = append(errs, fmt.Errorf("unknown adapter %q", c.Adapter))
	}
	if c.Address < minAddress || c.Address > maxAddress {
		errs = append(errs, fmt.Errorf("address %#02x outside %#02x-%#02x", byte(c.Address), minAddress, maxAddress))
	}
	if _, err := air.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	for name, d := range map[string]time.Duration{"settle_delay": c.SettleDelay, "phase_delay": c.PhaseDelay, "command_delay": c.CommandDelay} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	if c.Sinks.Influx != nil && c.Sinks.Influx.URL == "" {
		errs = append(errs, errors.New("influx sink requires url"))
	}
	if c.Sinks.MQTT != nil && (c.Sinks.MQTT.Broker == "" || c.Sinks.MQTT.Topic == "") {
		errs = append(errs, errors.New("mqtt sink requires broker and topic"))
	}
	if c.Sinks.MQTT != nil && c.Sinks.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("invalid mqtt qos %d", c.Sinks.MQTT.QoS))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// SensorOptions translates the configuration into driver options. It expects a
// validated configuration.
func (c *Config) SensorOptions() []air.SEN0322Opt {
	mode, _ := air.ParseMode(c.Mode)
	return []air.SEN0322Opt{
		air.WithAddress(byte(c.Address)),
		air.WithMode(mode),
		air.WithInterval(c.Interval),
		air.WithSettleDelay(c.SettleDelay),
		air.WithPhaseDelay(c.PhaseDelay),
		air.WithCommandDelay(c.CommandDelay),
	}
}

func BuildInfo() string {
	return fmt.Sprintf("%s-%s-%s", Version, Date, Commit)
}
