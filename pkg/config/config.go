// Package config holds the tool configuration, loadable from a YAML file
// with sane defaults for everything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from the human form ("12s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds application configuration.
type Config struct {
	LogLevel          string   `yaml:"log_level"`
	ConnectTimeout    Duration `yaml:"connect_timeout"`
	DisconnectTimeout Duration `yaml:"disconnect_timeout"`
	OperationTimeout  Duration `yaml:"operation_timeout"`
	OutputFormat      string   `yaml:"output_format"`
	ServiceFilter     []string `yaml:"service_filter"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "warn",
		ConnectTimeout:    Duration(30 * time.Second),
		DisconnectTimeout: Duration(5 * time.Second),
		OperationTimeout:  Duration(5 * time.Second),
		OutputFormat:      "text", // text, json
	}
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults untouched.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// ParseLevel converts the configured log level name, defaulting to warn on
// unknown values.
func (c *Config) ParseLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return level
}

// NewLogger creates a configured logger instance.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.ParseLevel())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
