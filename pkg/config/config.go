package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const appDir = "mwrpc"

// Config holds daemon configuration. Values come from struct defaults, then
// the YAML file, then MWRPC_* environment variables, then command-line flags.
type Config struct {
	LogLevel   string `yaml:"log_level" default:"info"`
	Listen     string `yaml:"listen" default:"127.0.0.1:8080"`
	RosterPath string `yaml:"roster"`

	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"30s"`
	StatusTimeout   time.Duration `yaml:"status_timeout" default:"5s"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout" default:"5s"`
	ResponseTimeout time.Duration `yaml:"response_timeout" default:"1s"`
	RescanInterval  time.Duration `yaml:"rescan_interval" default:"10s"`
	FloorDelay      time.Duration `yaml:"floor_delay" default:"120ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath is config.yaml in the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, appDir, "config.yaml"), nil
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies MWRPC_LOG_LEVEL, MWRPC_LISTEN and MWRPC_ROSTER.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MWRPC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MWRPC_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("MWRPC_ROSTER"); v != "" {
		cfg.RosterPath = v
	}
}

func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}

	for name, d := range map[string]time.Duration{
		"connect_timeout":  c.ConnectTimeout,
		"status_timeout":   c.StatusTimeout,
		"teardown_timeout": c.TeardownTimeout,
		"response_timeout": c.ResponseTimeout,
		"rescan_interval":  c.RescanInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
