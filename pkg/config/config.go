package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-ble/ble"
	"github.com/godbus/dbus/v5"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blealert/internal/gatt"
)

// Config holds the alert peripheral configuration
type Config struct {
	DeviceName          string        `yaml:"device_name" default:"SleepyDrive"`
	ServiceUUID         string        `yaml:"service_uuid" default:"4fafc201-1fb5-459e-8fcc-c5c9c331914b"`
	CharacteristicUUID  string        `yaml:"characteristic_uuid" default:"beb5483e-36e1-4688-b7f5-ea07361b26a8"`
	// CharacteristicFlags lists host flag names, comma-separated.
	CharacteristicFlags string        `yaml:"characteristic_flags" default:"read,notify"`
	BasePath            string        `yaml:"base_path" default:"/org/sleepydrive"`
	MaxPayloadLength    int           `yaml:"max_payload_length" default:"500"`
	MaxValueLength      int           `yaml:"max_value_length" default:"512"`
	StartTimeout        time.Duration `yaml:"start_timeout" default:"10s"`
	StopTimeout         time.Duration `yaml:"stop_timeout" default:"5s"`
	LogLevel            string        `yaml:"log_level" default:"info"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DeviceName == "" {
		errs = append(errs, errors.New("device_name must not be empty"))
	}
	if _, err := ble.Parse(c.ServiceUUID); err != nil {
		errs = append(errs, fmt.Errorf("service_uuid %q: %w", c.ServiceUUID, err))
	}
	if _, err := ble.Parse(c.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("characteristic_uuid %q: %w", c.CharacteristicUUID, err))
	}
	if flags, err := gatt.ParseFlags(c.CharacteristicFlags); err != nil {
		errs = append(errs, fmt.Errorf("characteristic_flags: %w", err))
	} else if flags&(ble.CharNotify|ble.CharIndicate) == 0 {
		errs = append(errs, fmt.Errorf("characteristic_flags %q must include notify or indicate", c.CharacteristicFlags))
	}
	if !dbus.ObjectPath(c.BasePath).IsValid() || c.BasePath == "/" {
		errs = append(errs, fmt.Errorf("base_path %q is not a valid object path", c.BasePath))
	}
	if c.MaxValueLength <= 0 {
		errs = append(errs, fmt.Errorf("max_value_length must be positive, got %d", c.MaxValueLength))
	}
	if c.MaxPayloadLength <= 0 || c.MaxPayloadLength > c.MaxValueLength {
		errs = append(errs, fmt.Errorf("max_payload_length must be in (0, %d], got %d", c.MaxValueLength, c.MaxPayloadLength))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("start_timeout must be positive, got %s", c.StartTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Flags returns the parsed characteristic flags, falling back to read|notify.
func (c *Config) Flags() ble.Property {
	flags, err := gatt.ParseFlags(c.CharacteristicFlags)
	if err != nil || flags == 0 {
		return ble.CharRead | ble.CharNotify
	}
	return flags
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
