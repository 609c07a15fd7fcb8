package config

import (
	"time"

	"github.com/keywheel/keywheel/internal/core"
)

// Config represents the complete application configuration.
// Sources, lowest to highest precedence:
// Layer 1: built-in defaults registered on viper
// Layer 2: config file (--config, XDG config dir, or ./config/config.yaml)
// Layer 3: environment variables and flags
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	API     APIConfig     `mapstructure:"api"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Journal StoreConfig   `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken enables the /admin/signal endpoint when set.
	AdminToken string `mapstructure:"admin_token"`
}

// APIConfig controls where the credential endpoint is mounted.
type APIConfig struct {
	Path string `mapstructure:"path"`
}

// PoolConfig is the static credential pool. Credentials listed inline and in
// File are concatenated in that order; order breaks selection ties.
type PoolConfig struct {
	Credentials []CredentialConfig `mapstructure:"credentials"`
	Defaults    LimitsConfig       `mapstructure:"defaults"`
	File        string             `mapstructure:"file"`
}

// CredentialConfig describes one upstream credential and its quotas. Zero
// limits are filled from PoolConfig.Defaults.
type CredentialConfig struct {
	Key               string `mapstructure:"key" yaml:"key"`
	Name              string `mapstructure:"name" yaml:"name"`
	Active            *bool  `mapstructure:"active" yaml:"active"`
	DailyTokenLimit   int64  `mapstructure:"daily_token_limit" yaml:"daily_token_limit"`
	RequestsPerMinute int64  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	TokensPerMinute   int64  `mapstructure:"tokens_per_minute" yaml:"tokens_per_minute"`
}

// IsActive reports the configured initial state; unset means active.
func (c CredentialConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// EngineCredentials converts the pool into engine credentials. Call after Load so
// default limits have been applied.
func (p PoolConfig) EngineCredentials() []core.Credential {
	out := make([]core.Credential, 0, len(p.Credentials))
	for _, c := range p.Credentials {
		out = append(out, core.Credential{
			Key:               c.Key,
			Name:              c.Name,
			Active:            c.IsActive(),
			DailyTokenLimit:   c.DailyTokenLimit,
			RequestsPerMinute: c.RequestsPerMinute,
			TokensPerMinute:   c.TokensPerMinute,
		})
	}
	return out
}

// LimitsConfig holds default quotas applied to credentials that omit them.
type LimitsConfig struct {
	DailyTokenLimit   int64 `mapstructure:"daily_token_limit"`
	RequestsPerMinute int64 `mapstructure:"requests_per_minute"`
	TokensPerMinute   int64 `mapstructure:"tokens_per_minute"`
}

// StoreConfig contains database configuration for the usage journal.
// Drivers: libsql (local file or Turso URL) and sqlite (pure Go).
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated Prometheus exporter port. The main server proxies
	// it at /metrics.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
