// Package settings loads daemon configuration from a YAML file.
package settings

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pinwire/pinwire/hal"
	"github.com/pinwire/pinwire/wire"
)

// Duration reads "50ms" style YAML strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("unable to parse duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Backend kinds selectable in settings.
const (
	BackendSim    = "sim"
	BackendCdev   = "cdev"
	BackendPeriph = "periph"
)

// Settings is the daemon's startup configuration. Everything that changes
// at runtime lives in the store instead.
type Settings struct {
	// Board names this device to clients and in MQTT topics. Defaults to
	// the hostname.
	Board string `yaml:"board,omitempty"`

	Listen  Listen  `yaml:"listen,omitempty"`
	Backend Backend `yaml:"backend,omitempty"`
	Store   Store   `yaml:"store,omitempty"`
	MQTT    MQTT    `yaml:"mqtt,omitempty"`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"logLevel,omitempty"`
}

type Listen struct {
	// Wire is the session protocol address.
	Wire string `yaml:"wire,omitempty"`

	// HTTP is the config API address.
	HTTP string `yaml:"http,omitempty"`
}

type Backend struct {
	// Kind selects the hardware backend: sim, cdev or periph.
	Kind string `yaml:"kind,omitempty"`

	// Chip is the character device name for the cdev backend.
	Chip string `yaml:"chip,omitempty"`

	// PollInterval is the sampling period for the periph backend.
	PollInterval Duration `yaml:"pollInterval,omitempty"`
}

type Store struct {
	// Path is the bbolt database location.
	Path string `yaml:"path,omitempty"`
}

type MQTT struct {
	// Broker enables the MQTT bridge when set, e.g. "tcp://mqtt.local:1883".
	Broker string `yaml:"broker,omitempty"`

	ClientID    string `yaml:"clientId,omitempty"`
	TopicPrefix string `yaml:"topicPrefix,omitempty"`
}

// Default returns the settings the daemon runs with when no file is given.
func Default() Settings {
	board := "pinwire"
	if hostname, err := os.Hostname(); err == nil {
		board = hostname
	}

	return Settings{
		Board: board,
		Listen: Listen{
			Wire: wire.DefaultAddr,
			HTTP: ":7181",
		},
		Backend: Backend{
			Kind:         BackendSim,
			Chip:         "gpiochip0",
			PollInterval: Duration(hal.DefaultPollInterval),
		},
		Store: Store{
			Path: "pinwire.db",
		},
		LogLevel: "info",
	}
}

// Load reads a settings file and fills any omitted fields with defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("unable to read settings file: %w", err)
	}

	return Parse(data)
}

// Parse decodes settings YAML and fills any omitted fields with defaults.
func Parse(data []byte) (Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("unable to parse settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Validate rejects combinations the daemon can't start with.
func (s Settings) Validate() error {
	switch s.Backend.Kind {
	case BackendSim, BackendCdev, BackendPeriph:
	default:
		return fmt.Errorf("unknown backend kind %q", s.Backend.Kind)
	}

	if s.Backend.Kind == BackendPeriph && s.Backend.PollInterval <= 0 {
		return fmt.Errorf("periph backend needs a positive poll interval")
	}

	if s.Listen.Wire == "" || s.Listen.HTTP == "" {
		return fmt.Errorf("listen addresses must not be empty")
	}

	return nil
}
