// Package config manages global cskeep configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/campuslink/cskeep/internal/activity"
	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/session"
)

// Duration wraps time.Duration for human-readable YAML ("30s", "5m").
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses either a duration string or a bare number of
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// SessionConfig holds the session manager tunables.
type SessionConfig struct {
	RefreshThreshold Duration `yaml:"refresh_threshold"`
	CheckInterval    Duration `yaml:"check_interval"`
	MaxRetries       int      `yaml:"max_retries"`
	RetryDelay       Duration `yaml:"retry_delay"`
}

// Config is the on-disk cskeep configuration.
type Config struct {
	// RefreshEndpoint is the credential refresh URL.
	RefreshEndpoint string `yaml:"refresh_endpoint"`
	// StorePath is the shared credential file.
	StorePath string `yaml:"store_path"`
	// ActivityPath is the SQLite event log location.
	ActivityPath string `yaml:"activity_db"`
	// AgentAddr is the local agent endpoint address.
	AgentAddr string `yaml:"agent_addr"`
	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval Duration `yaml:"probe_interval"`

	Session SessionConfig `yaml:"session"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	sc := session.DefaultConfig()
	return &Config{
		RefreshEndpoint: "http://localhost:8000/api/users/auth/refresh/",
		StorePath:       credstore.DefaultPath(),
		ActivityPath:    activity.DefaultPath(),
		AgentAddr:       "127.0.0.1:7317",
		ProbeInterval:   Duration(30 * time.Second),
		Session: SessionConfig{
			RefreshThreshold: Duration(sc.RefreshThreshold),
			CheckInterval:    Duration(sc.CheckInterval),
			MaxRetries:       sc.MaxRetries,
			RetryDelay:       Duration(sc.RetryDelay),
		},
	}
}

// ConfigPath returns the configuration file location, honoring
// XDG_CONFIG_HOME.
func ConfigPath() string {
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "cskeep", "config.yaml")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cskeep", "config.yaml")
	}
	return filepath.Join(homeDir, ".config", "cskeep", "config.yaml")
}

// Load reads the configuration at ConfigPath. A missing file yields the
// defaults.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the configuration at path. Fields absent from the file
// keep their default values.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.RefreshEndpoint == "" {
		return fmt.Errorf("refresh_endpoint is required")
	}
	u, err := url.Parse(c.RefreshEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("refresh_endpoint %q is not a valid URL", c.RefreshEndpoint)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.AgentAddr == "" {
		return fmt.Errorf("agent_addr is required")
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("probe_interval must not be negative")
	}
	return c.SessionConfig().Validate()
}

// SessionConfig converts the on-disk tunables to the manager's form.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		RefreshThreshold: c.Session.RefreshThreshold.Duration(),
		CheckInterval:    c.Session.CheckInterval.Duration(),
		MaxRetries:       c.Session.MaxRetries,
		RetryDelay:       c.Session.RetryDelay.Duration(),
	}
}
