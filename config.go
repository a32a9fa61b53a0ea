package widowx

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.viam.com/rdk/logging"
)

const (
	defaultBaudrate            = 1000000
	defaultTimeout             = 100 * time.Millisecond
	defaultDurationMs          = 2000
	defaultMinVoltage          = 10.0
	defaultVoltagePollInterval = time.Second

	// AutoPort asks OpenArm to scan the USB serial ports for the arm.
	AutoPort = "auto"
)

type Config struct {
	Port     string        `json:"port,omitempty"`
	Baudrate int           `json:"baudrate,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`

	// Bus id per channel, base first. Default 1..6.
	ServoIDs []int `json:"servo_ids,omitempty"`

	DefaultDurationMs int `json:"default_duration_ms,omitempty"`

	// Startup blocks while the supply is at or below MinVoltage volts.
	// Unset means 10 V; an explicit 0 turns the gate off.
	MinVoltage          *float64      `json:"min_voltage,omitempty"`
	VoltagePollInterval time.Duration `json:"voltage_poll_interval,omitempty"`

	// Overrides for the built-in rest, home and center poses, or extra
	// named poses.
	Poses map[string]Pose `json:"poses,omitempty"`

	Debug bool `json:"debug,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// Validate ensures all parts of the config are valid and fills in defaults.
func (cfg *Config) Validate(path string) error {
	if cfg.Port == "" {
		return fmt.Errorf("%s: must specify port for serial communication (or %q)", path, AutoPort)
	}

	if len(cfg.ServoIDs) == 0 {
		cfg.ServoIDs = []int{1, 2, 3, 4, 5, 6}
	}
	if len(cfg.ServoIDs) != NumJoints {
		return fmt.Errorf("%s: expected %d servo ids, got %d", path, NumJoints, len(cfg.ServoIDs))
	}
	seen := make(map[int]bool, NumJoints)
	for _, id := range cfg.ServoIDs {
		if id < 0 || id >= BROADCAST_ID {
			return fmt.Errorf("%s: servo id %d out of range 0-%d", path, id, BROADCAST_ID-1)
		}
		if seen[id] {
			return fmt.Errorf("%s: servo id %d used twice", path, id)
		}
		seen[id] = true
	}

	if cfg.Baudrate == 0 {
		cfg.Baudrate = defaultBaudrate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.DefaultDurationMs == 0 {
		cfg.DefaultDurationMs = defaultDurationMs
	}
	if cfg.DefaultDurationMs < 0 {
		return fmt.Errorf("%s: default_duration_ms must be positive, got %d", path, cfg.DefaultDurationMs)
	}
	if cfg.MinVoltage == nil {
		minVoltage := defaultMinVoltage
		cfg.MinVoltage = &minVoltage
	}
	if *cfg.MinVoltage < 0 {
		return fmt.Errorf("%s: min_voltage must not be negative, got %.1f", path, *cfg.MinVoltage)
	}
	if cfg.VoltagePollInterval == 0 {
		cfg.VoltagePollInterval = defaultVoltagePollInterval
	}

	for name, pose := range cfg.Poses {
		if err := pose.Validate(); err != nil {
			return fmt.Errorf("%s: pose %q: %w", path, name, err)
		}
	}

	return nil
}

// DefaultDuration is DefaultDurationMs as a duration.
func (cfg *Config) DefaultDuration() time.Duration {
	return time.Duration(cfg.DefaultDurationMs) * time.Millisecond
}

// LoadConfigFromFile reads and validates a JSON config.
func LoadConfigFromFile(filePath string, logger logging.Logger) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(filePath); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.Logger = logger
	if logger != nil {
		logger.Debugf("Loaded config from %s", filePath)
	}
	return &cfg, nil
}

// SaveConfigToFile writes cfg as indented JSON.
func SaveConfigToFile(filePath string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
