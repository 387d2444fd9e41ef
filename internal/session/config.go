package session

import (
	"fmt"
	"time"
)

// Config holds the session manager's runtime-tunable settings.
type Config struct {
	// RefreshThreshold is how long before expiry a refresh is triggered.
	RefreshThreshold time.Duration

	// CheckInterval is the period between scheduled evaluations.
	CheckInterval time.Duration

	// MaxRetries is the number of backoff retries after a failed
	// refresh before the session is considered expired.
	MaxRetries int

	// RetryDelay is the base backoff delay. Retry n waits
	// RetryDelay * 2^n.
	RetryDelay time.Duration
}

// DefaultConfig returns the standard tuning: refresh 5 minutes before
// expiry, evaluate every 30 seconds, three retries starting at 5 seconds.
func DefaultConfig() Config {
	return Config{
		RefreshThreshold: 5 * time.Minute,
		CheckInterval:    30 * time.Second,
		MaxRetries:       3,
		RetryDelay:       5 * time.Second,
	}
}

// Validate rejects configurations the manager cannot run with.
func (c Config) Validate() error {
	if c.RefreshThreshold <= 0 {
		return fmt.Errorf("refresh threshold must be positive, got %v", c.RefreshThreshold)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %v", c.CheckInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive, got %v", c.RetryDelay)
	}
	return nil
}

// ConfigPatch is a partial configuration update. Nil fields keep their
// current values.
type ConfigPatch struct {
	RefreshThreshold *time.Duration
	CheckInterval    *time.Duration
	MaxRetries       *int
	RetryDelay       *time.Duration
}

// apply merges the patch into a copy of cfg.
func (p ConfigPatch) apply(cfg Config) Config {
	if p.RefreshThreshold != nil {
		cfg.RefreshThreshold = *p.RefreshThreshold
	}
	if p.CheckInterval != nil {
		cfg.CheckInterval = *p.CheckInterval
	}
	if p.MaxRetries != nil {
		cfg.MaxRetries = *p.MaxRetries
	}
	if p.RetryDelay != nil {
		cfg.RetryDelay = *p.RetryDelay
	}
	return cfg
}
