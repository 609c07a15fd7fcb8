// Package config provides configuration loading for keywheel. Values come from
// viper (defaults, config file, bound env vars and flags) and are decoded into
// a typed Config with mapstructure. Pool credentials can additionally be
// supplied through indexed environment variables or a separate YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// AppName is used for XDG paths and the telemetry namespace.
	AppName = "keywheel"

	// EnvPrefix is prepended to every environment variable the app reads.
	EnvPrefix = "KEYWHEEL_"

	// DefaultAPIPath is where the credential endpoint is mounted.
	DefaultAPIPath = "/api/key"
)

// Fallback quotas used when neither a credential nor pool.defaults sets one.
const (
	FallbackDailyTokenLimit   int64 = 1_000_000
	FallbackRequestsPerMinute int64 = 30
	FallbackTokensPerMinute   int64 = 60_000
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvBinding maps a config key to an explicit environment variable name.
type EnvBinding struct {
	Key string
	Env string
}

// EnvBindings returns the environment variables bound onto viper keys.
func EnvBindings() []EnvBinding {
	return []EnvBinding{
		// Server config
		{Key: "server.host", Env: EnvPrefix + "HOST"},
		{Key: "server.port", Env: EnvPrefix + "PORT"},
		{Key: "server.read_timeout", Env: EnvPrefix + "READ_TIMEOUT"},
		{Key: "server.write_timeout", Env: EnvPrefix + "WRITE_TIMEOUT"},
		{Key: "server.idle_timeout", Env: EnvPrefix + "IDLE_TIMEOUT"},
		{Key: "server.shutdown_timeout", Env: EnvPrefix + "SHUTDOWN_TIMEOUT"},
		{Key: "server.admin_token", Env: EnvPrefix + "ADMIN_TOKEN"},

		{Key: "api.path", Env: EnvPrefix + "API_PATH"},

		// Logging config
		{Key: "logging.level", Env: EnvPrefix + "LOG_LEVEL"},
		{Key: "logging.profile", Env: EnvPrefix + "LOG_PROFILE"},

		// Pool config
		{Key: "pool.file", Env: EnvPrefix + "POOL_FILE"},
		{Key: "pool.defaults.daily_token_limit", Env: EnvPrefix + "POOL_DEFAULTS_DAILY_TOKEN_LIMIT"},
		{Key: "pool.defaults.requests_per_minute", Env: EnvPrefix + "POOL_DEFAULTS_REQUESTS_PER_MINUTE"},
		{Key: "pool.defaults.tokens_per_minute", Env: EnvPrefix + "POOL_DEFAULTS_TOKENS_PER_MINUTE"},

		// Journal config
		{Key: "journal.enabled", Env: EnvPrefix + "JOURNAL_ENABLED"},
		{Key: "journal.driver", Env: EnvPrefix + "DB_DRIVER"},
		{Key: "journal.path", Env: EnvPrefix + "DB_PATH"},
		{Key: "journal.url", Env: EnvPrefix + "DB_URL"},
		{Key: "journal.auth_token", Env: EnvPrefix + "DB_AUTH_TOKEN"},

		// Metrics config
		{Key: "metrics.enabled", Env: EnvPrefix + "METRICS_ENABLED"},
		{Key: "metrics.port", Env: EnvPrefix + "METRICS_PORT"},

		{Key: "health.enabled", Env: EnvPrefix + "HEALTH_ENABLED"},
		{Key: "debug.enabled", Env: EnvPrefix + "DEBUG_ENABLED"},
	}
}

// SetDefaults registers built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("api.path", DefaultAPIPath)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Pool defaults
	v.SetDefault("pool.defaults.daily_token_limit", FallbackDailyTokenLimit)
	v.SetDefault("pool.defaults.requests_per_minute", FallbackRequestsPerMinute)
	v.SetDefault("pool.defaults.tokens_per_minute", FallbackTokensPerMinute)

	// Journal defaults
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.driver", "libsql")
	v.SetDefault("journal.path", DefaultStorePath())

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
}

// BindEnv binds every EnvBindings entry onto v.
func BindEnv(v *viper.Viper) error {
	for _, binding := range EnvBindings() {
		if err := v.BindEnv(binding.Key, binding.Env); err != nil {
			return fmt.Errorf("bind %s: %w", binding.Env, err)
		}
	}
	return nil
}

// Load decodes the settings held by v into a Config, merges pool credentials
// from indexed env vars and pool.file, fills default limits and validates the
// result. Safe to call again for reloads.
func Load(ctx context.Context, v *viper.Viper) (*Config, error) {
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if file := strings.TrimSpace(cfg.Pool.File); file != "" {
		extra, err := LoadPoolFile(file)
		if err != nil {
			return nil, err
		}
		cfg.Pool.Credentials = append(cfg.Pool.Credentials, extra...)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// LoadJournal decodes only what the journal commands need. The pool is not
// read or validated.
func LoadJournal(v *viper.Viper) (StoreConfig, error) {
	cfg, err := decode(v)
	if err != nil {
		return StoreConfig{}, err
	}
	cfg.applyDefaults()
	return cfg.Journal, nil
}

func decode(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("viper instance is required")
	}

	settings := v.AllSettings()
	applyPoolEnvOverrides(EnvPrefix, os.Environ(), settings)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// poolFile is the on-disk layout of pool.file.
type poolFile struct {
	Credentials []CredentialConfig `yaml:"credentials"`
}

// LoadPoolFile reads credentials from a YAML file.
func LoadPoolFile(path string) ([]CredentialConfig, error) {
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool file: %w", err)
	}

	var parsed poolFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse pool file %s: %w", path, err)
	}
	return parsed.Credentials, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.API.Path) == "" {
		c.API.Path = DefaultAPIPath
	}
	if !strings.HasPrefix(c.API.Path, "/") {
		c.API.Path = "/" + c.API.Path
	}

	defaults := c.Pool.Defaults
	if defaults.DailyTokenLimit <= 0 {
		defaults.DailyTokenLimit = FallbackDailyTokenLimit
	}
	if defaults.RequestsPerMinute <= 0 {
		defaults.RequestsPerMinute = FallbackRequestsPerMinute
	}
	if defaults.TokensPerMinute <= 0 {
		defaults.TokensPerMinute = FallbackTokensPerMinute
	}
	c.Pool.Defaults = defaults

	for i := range c.Pool.Credentials {
		cred := &c.Pool.Credentials[i]
		cred.Key = strings.TrimSpace(cred.Key)
		cred.Name = strings.TrimSpace(cred.Name)
		if cred.Name == "" {
			cred.Name = fmt.Sprintf("Key %d", i+1)
		}
		if cred.DailyTokenLimit == 0 {
			cred.DailyTokenLimit = defaults.DailyTokenLimit
		}
		if cred.RequestsPerMinute == 0 {
			cred.RequestsPerMinute = defaults.RequestsPerMinute
		}
		if cred.TokensPerMinute == 0 {
			cred.TokensPerMinute = defaults.TokensPerMinute
		}
	}

	if strings.TrimSpace(c.Journal.Driver) == "" {
		c.Journal.Driver = "libsql"
	}
	if strings.TrimSpace(c.Journal.URL) == "" && strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = DefaultStorePath()
	}
}

// Validate checks the pool for missing keys, duplicates and bad limits.
func (c *Config) Validate() error {
	if len(c.Pool.Credentials) == 0 {
		return errors.New("pool has no credentials configured")
	}

	seen := make(map[string]int, len(c.Pool.Credentials))
	for i, cred := range c.Pool.Credentials {
		if cred.Key == "" {
			return fmt.Errorf("pool credential %d (%s): key is required", i, cred.Name)
		}
		if prev, ok := seen[cred.Key]; ok {
			return fmt.Errorf("pool credential %d (%s): duplicate key, already used by credential %d", i, cred.Name, prev)
		}
		seen[cred.Key] = i

		if cred.DailyTokenLimit <= 0 || cred.RequestsPerMinute <= 0 || cred.TokensPerMinute <= 0 {
			return fmt.Errorf("pool credential %d (%s): limits must be positive", i, cred.Name)
		}
	}
	return nil
}

// GetConfig returns the last successfully loaded configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the journal database.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// applyPoolEnvOverrides folds KEYWHEEL_POOL_CREDENTIALS_<i>_<FIELD> variables
// into settings. Indexed entries merge onto credentials already present at the
// same position, so a config file can carry names and limits while secrets
// come from the environment.
func applyPoolEnvOverrides(prefix string, environ []string, settings map[string]any) {
	credPrefix := prefix + "POOL_CREDENTIALS_"

	for _, item := range environ {
		key, value, ok := strings.Cut(item, "=")
		if !ok || !strings.HasPrefix(key, credPrefix) {
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}

		idxRaw, fieldRaw, ok := strings.Cut(key[len(credPrefix):], "_")
		if !ok {
			continue
		}
		idx, err := strconv.Atoi(idxRaw)
		if err != nil || idx < 0 {
			continue
		}
		field := strings.ToLower(fieldRaw)

		pool := ensureMap(settings, "pool")
		creds := ensureSlice(pool, "credentials", idx+1)
		cred := ensureSliceMap(creds, idx)

		value = strings.TrimSpace(value)
		switch field {
		case "key", "name":
			cred[field] = value
		case "active":
			cred[field] = strings.EqualFold(value, "true")
		case "daily_token_limit", "requests_per_minute", "tokens_per_minute":
			if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
				cred[field] = parsed
			}
		}
	}
}

func ensureMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if existing, ok := parent[key]; ok {
		if typed, ok := existing.(map[string]any); ok {
			return typed
		}
	}
	next := map[string]any{}
	parent[key] = next
	return next
}

func ensureSlice(parent map[string]any, key string, length int) []any {
	var existing []any
	if raw, ok := parent[key]; ok {
		existing, _ = raw.([]any)
	}
	for len(existing) < length {
		existing = append(existing, map[string]any{})
	}
	parent[key] = existing
	return existing
}

func ensureSliceMap(slice []any, idx int) map[string]any {
	if idx < 0 || idx >= len(slice) {
		return map[string]any{}
	}
	if typed, ok := slice[idx].(map[string]any); ok {
		return typed
	}
	m := map[string]any{}
	slice[idx] = m
	return m
}
