// Package config loads and validates the Chanina application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "45s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the deployment configuration of a Chanina application.
type Config struct {
	// Broker is the Redis address the task queue runs on.
	Broker string `yaml:"broker"`

	// Backend is the Redis address results are stored on. Defaults to Broker.
	Backend string `yaml:"backend"`

	// LockStore is the Redis address the profile checkout lock lives on.
	// Defaults to Broker.
	LockStore string `yaml:"lock_store"`

	// Queue is the queue name workers consume from.
	Queue string `yaml:"queue"`

	// SessionEnabled controls whether workers bring up a browser session.
	SessionEnabled *bool `yaml:"session_enabled"`

	// Browser is the browser kind: "firefox" or "chrome".
	Browser string `yaml:"browser"`

	// Headless controls whether the browser runs without a visible window.
	Headless *bool `yaml:"headless"`

	// ProfilePath is the shared browser profile directory to lease from.
	// Empty means an ephemeral browser context.
	ProfilePath string `yaml:"profile_path"`

	// LockAcquireTimeout bounds how long a worker waits for the checkout lock.
	LockAcquireTimeout Duration `yaml:"lock_acquire_timeout"`

	// LockHoldTimeout bounds how long an acquired checkout lock may be held
	// before it expires on its own.
	LockHoldTimeout Duration `yaml:"lock_hold_timeout"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	enabled := true
	headless := true
	return Config{
		Broker:             "localhost:6379",
		Queue:              "default",
		SessionEnabled:     &enabled,
		Browser:            "firefox",
		Headless:           &headless,
		LockAcquireTimeout: Duration(45 * time.Second),
		LockHoldTimeout:    Duration(30 * time.Second),
	}
}

// Load reads a YAML configuration file over the defaults. Relative profile
// paths are resolved against the config file's directory, so a worker fork's
// notion of the current directory cannot change their meaning.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.ProfilePath != "" && !filepath.IsAbs(cfg.ProfilePath) {
		base, absErr := filepath.Abs(filepath.Dir(path))
		if absErr != nil {
			return cfg, fmt.Errorf("config: resolve %s: %w", path, absErr)
		}
		cfg.ProfilePath = filepath.Join(base, cfg.ProfilePath)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for fatal errors.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("config: broker address is required")
	}
	if c.Browser != "firefox" && c.Browser != "chrome" {
		return fmt.Errorf("config: browser must be \"firefox\" or \"chrome\", got %q", c.Browser)
	}
	if c.LockAcquireTimeout.Std() <= 0 {
		return fmt.Errorf("config: lock_acquire_timeout must be positive")
	}
	if c.LockHoldTimeout.Std() <= 0 {
		return fmt.Errorf("config: lock_hold_timeout must be positive")
	}
	return nil
}

// BackendAddr returns the result backend address, falling back to the broker.
func (c *Config) BackendAddr() string {
	if c.Backend != "" {
		return c.Backend
	}
	return c.Broker
}

// LockStoreAddr returns the lock store address, falling back to the broker.
func (c *Config) LockStoreAddr() string {
	if c.LockStore != "" {
		return c.LockStore
	}
	return c.Broker
}

// SessionOn reports whether session support is enabled.
func (c *Config) SessionOn() bool {
	return c.SessionEnabled == nil || *c.SessionEnabled
}

// HeadlessOn reports whether the browser should run headless.
func (c *Config) HeadlessOn() bool {
	return c.Headless == nil || *c.Headless
}
