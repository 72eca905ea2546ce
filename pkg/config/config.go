// Package config holds application configuration for the RuuviTag listener.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Paippi/ruuviscanner/internal/gateway"
)

// Config holds application configuration
type Config struct {
	LogLevel        string
	Tags            []string
	PollInterval    time.Duration
	ChannelCapacity int
	StrictFormat    bool
	OutputFormat    string
}

// UnmarshalYAML overlays only the keys present in the document, so a partial
// config file keeps the remaining defaults. Durations use Go syntax ("20ms").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		LogLevel        string   `yaml:"log_level"`
		Tags            []string `yaml:"tags"`
		PollInterval    string   `yaml:"poll_interval"`
		ChannelCapacity *int     `yaml:"channel_capacity"`
		StrictFormat    *bool    `yaml:"strict_format"`
		OutputFormat    string   `yaml:"output_format"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.Tags != nil {
		c.Tags = raw.Tags
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval %q: %w", raw.PollInterval, err)
		}
		c.PollInterval = d
	}
	if raw.ChannelCapacity != nil {
		c.ChannelCapacity = *raw.ChannelCapacity
	}
	if raw.StrictFormat != nil {
		c.StrictFormat = *raw.StrictFormat
	}
	if raw.OutputFormat != "" {
		c.OutputFormat = raw.OutputFormat
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		PollInterval:    20 * time.Millisecond,
		ChannelCapacity: 64,
		OutputFormat:    "table", // table, json
	}
}

// Load reads a YAML configuration file and overlays it on the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configured values are usable.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
		}
	}
	for _, tag := range c.Tags {
		if !gateway.ValidAddress(tag) {
			return fmt.Errorf("invalid tag address %q: want colon-separated MAC like CC:6F:70:EE:4C:AD", tag)
		}
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if c.ChannelCapacity < 0 {
		return fmt.Errorf("channel_capacity must not be negative")
	}
	switch c.OutputFormat {
	case "", "table", "json":
	default:
		return fmt.Errorf("invalid output_format %q: must be table or json", c.OutputFormat)
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
