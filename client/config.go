package client

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	DefaultAddr              = "localhost:1234"
	DefaultDialTimeout       = 5 * time.Second
	DefaultRequestTimeout    = 5 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultHeartbeatTimeout  = 2 * time.Second
	DefaultReconnectBase     = 2 * time.Second
	DefaultReconnectMax      = 30 * time.Second
	DefaultMaxManualAttempts = 5
	DefaultStillFailingEvery = 5
)

// Config holds configuration for a Supervisor.
type Config struct {
	Addr              string        `yaml:"addr"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout"`

	// ReconnectBase and ReconnectMax bound the delay between reconnect
	// attempts, which grows exponentially from the base up to the max.
	ReconnectBase time.Duration `yaml:"reconnectBase"`
	ReconnectMax  time.Duration `yaml:"reconnectMax"`

	// MaxManualAttempts caps reconnect attempts made on behalf of a
	// request while auto-connect is off. Auto-connect retries forever.
	MaxManualAttempts int `yaml:"maxManualAttempts"`

	// StillFailingEvery sets how many failed attempts separate two
	// still-failing notifications. Zero disables them.
	StillFailingEvery int `yaml:"stillFailingEvery"`

	AutoConnect bool `yaml:"autoConnect"`

	Log *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the standard client settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:              DefaultAddr,
		DialTimeout:       DefaultDialTimeout,
		RequestTimeout:    DefaultRequestTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		ReconnectBase:     DefaultReconnectBase,
		ReconnectMax:      DefaultReconnectMax,
		MaxManualAttempts: DefaultMaxManualAttempts,
		StillFailingEvery: DefaultStillFailingEvery,
	}
}

// LoadConfig reads a YAML client configuration. Absent keys keep their
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
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
	if c.ReconnectMax > 0 && c.ReconnectBase > c.ReconnectMax {
		return fmt.Errorf("reconnectBase %v exceeds reconnectMax %v", c.ReconnectBase, c.ReconnectMax)
	}
	if c.MaxManualAttempts < 0 || c.StillFailingEvery < 0 {
		return fmt.Errorf("attempt counts must not be negative")
	}
	return nil
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c *Config) withDefaults() Config {
	out := *c
	d := DefaultConfig()
	if out.Addr == "" {
		out.Addr = d.Addr
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = d.DialTimeout
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = d.RequestTimeout
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = d.HeartbeatInterval
	}
	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if out.ReconnectBase <= 0 {
		out.ReconnectBase = d.ReconnectBase
	}
	if out.ReconnectMax < out.ReconnectBase {
		out.ReconnectMax = max(d.ReconnectMax, out.ReconnectBase)
	}
	if out.MaxManualAttempts <= 0 {
		out.MaxManualAttempts = d.MaxManualAttempts
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	return out
}
