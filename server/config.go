package server

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/signadot/dictd/logging"
	"github.com/signadot/dictd/storage"
)

const (
	DefaultAddr       = "localhost:1234"
	DefaultDictionary = "dictionary.txt"
	DefaultWorkers    = 100
)

// Config represents the dictd configuration file.
type Config struct {
	// Addr is the TCP listen address.
	Addr string `yaml:"addr"`

	// Dictionary is the path of the dictionary file.
	Dictionary string `yaml:"dictionary"`

	// Workers bounds the number of connections served concurrently.
	Workers int `yaml:"workers"`

	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	Log *LogConfig `yaml:"log"`
}

// LogConfig configures the logging hook.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console *bool  `yaml:"console"`
	File    string `yaml:"file"`
}

// Spec holds what a Server is built from.
type Spec struct {
	Config *Config
	Store  *storage.Store
	Log    *slog.Logger
}

// DefaultConfig returns a Config with the standard dictd settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:       DefaultAddr,
		Dictionary: DefaultDictionary,
		Workers:    DefaultWorkers,
		Log:        &LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML configuration file. Keys absent from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Log == nil {
		cfg.Log = &LogConfig{Level: "info"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Dictionary == "" {
		return fmt.Errorf("dictionary is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idleTimeout must not be negative")
	}
	if c.Log != nil {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return err
		}
	}
	return nil
}

// Apply configures hook according to c.Log. The returned function closes
// the log file, if one was opened.
func (c *LogConfig) Apply(hook *logging.Hook) (func() error, error) {
	noop := func() error { return nil }
	if c == nil {
		return noop, nil
	}
	lvl, err := logging.ParseLevel(c.Level)
	if err != nil {
		return noop, err
	}
	hook.SetLevel(lvl)
	if c.Console != nil {
		hook.SetConsoleEcho(*c.Console)
	}
	if c.File == "" {
		return noop, nil
	}
	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return noop, fmt.Errorf("open log file: %w", err)
	}
	hook.SetFile(f)
	return func() error {
		hook.SetFile(nil)
		return f.Close()
	}, nil
}
