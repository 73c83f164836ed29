// Package config handles configuration loading for advisor-go: TOML file
// parsing, platform paths, and the defaults → file → environment → CLI flag
// override chain.
package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration so TOML values can be written as "2s" or
// "500ms". Implements encoding.TextUnmarshaler for BurntSushi/toml.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the on-disk configuration schema.
type Config struct {
	// ServerURL is the backend base URL, without a trailing slash.
	ServerURL string `toml:"server_url"`

	// PollInterval is the cadence for job status polling.
	PollInterval Duration `toml:"poll_interval"`

	// RequestTimeout bounds every submit/status/refresh call. Timeouts are
	// treated identically to transport errors.
	RequestTimeout Duration `toml:"request_timeout"`

	// LogLevel is the baseline log level: debug, info, warn, or error.
	// --verbose and --quiet override it.
	LogLevel string `toml:"log_level"`

	// TokenPath overrides where the credential pair is stored.
	TokenPath string `toml:"token_path"`

	// LedgerPath overrides where the local job ledger database lives.
	LedgerPath string `toml:"ledger_path"`
}

// Defaults for a zero-config first run.
const (
	defaultServerURL      = "http://localhost:8000"
	defaultPollInterval   = 2 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultLogLevel       = "info"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		ServerURL:      defaultServerURL,
		PollInterval:   Duration(defaultPollInterval),
		RequestTimeout: Duration(defaultRequestTimeout),
		LogLevel:       defaultLogLevel,
	}
}

// Validate rejects configurations that would misbehave at runtime.
func Validate(cfg *Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url must not be empty")
	}

	if cfg.PollInterval.Std() <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}

	if cfg.RequestTimeout.Std() <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	return nil
}
