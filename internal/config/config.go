package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	ServerURL      string `toml:"server_url"`
	DefaultProfile string `toml:"default_profile"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	SendTimeoutMS  int    `toml:"send_timeout_ms"`
}

// Defaults used when a field is unset in the file.
const (
	DefaultPollInterval = 30 * time.Second
	DefaultSendTimeout  = time.Second
)

// PollInterval returns the configured pull interval, or the default.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// SendTimeout returns the ack timeout for outbound sends, or the default.
func (c *Config) SendTimeout() time.Duration {
	if c.SendTimeoutMS <= 0 {
		return DefaultSendTimeout
	}
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:      "http://localhost:3000",
		DefaultProfile: "main",
	}
}

// LoadOrDefault reads the config file, falling back to built-in defaults when
// the file is missing or incomplete.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = Default().ServerURL
	}
	return cfg
}

// Load reads config from the given path. Returns zero config and error if
// the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
