package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func withCredentials(v *viper.Viper, creds ...map[string]any) {
	list := make([]any, 0, len(creds))
	for _, c := range creds {
		list = append(list, c)
	}
	v.Set("pool.credentials", list)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		v := newTestViper(t)
		withCredentials(v, map[string]any{"key": "sk-one"})

		cfg, err := Load(ctx, v)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, DefaultAPIPath, cfg.API.Path)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.False(t, cfg.Journal.Enabled)
		assert.Equal(t, "libsql", cfg.Journal.Driver)
		assert.NotEmpty(t, cfg.Journal.Path)

		require.Len(t, cfg.Pool.Credentials, 1)
		cred := cfg.Pool.Credentials[0]
		assert.Equal(t, "Key 1", cred.Name)
		assert.True(t, cred.IsActive())
		assert.Equal(t, FallbackDailyTokenLimit, cred.DailyTokenLimit)
		assert.Equal(t, FallbackRequestsPerMinute, cred.RequestsPerMinute)
		assert.Equal(t, FallbackTokensPerMinute, cred.TokensPerMinute)

		assert.Same(t, cfg, GetConfig())
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		v := newTestViper(t)
		withCredentials(v, map[string]any{"key": "sk-one"})
		t.Setenv("KEYWHEEL_PORT", "9999")
		t.Setenv("KEYWHEEL_LOG_LEVEL", "debug")
		t.Setenv("KEYWHEEL_API_PATH", "v1/key")
		t.Setenv("KEYWHEEL_POOL_DEFAULTS_REQUESTS_PER_MINUTE", "5")

		cfg, err := Load(ctx, v)
		require.NoError(t, err)

		assert.Equal(t, 9999, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "/v1/key", cfg.API.Path)
		assert.Equal(t, int64(5), cfg.Pool.Credentials[0].RequestsPerMinute)
	})

	t.Run("ExplicitLimitsKept", func(t *testing.T) {
		v := newTestViper(t)
		withCredentials(v, map[string]any{
			"key":                 "sk-one",
			"name":                "primary",
			"active":              false,
			"daily_token_limit":   500,
			"requests_per_minute": 2,
			"tokens_per_minute":   100,
		})

		cfg, err := Load(ctx, v)
		require.NoError(t, err)

		cred := cfg.Pool.Credentials[0]
		assert.Equal(t, "primary", cred.Name)
		assert.False(t, cred.IsActive())
		assert.Equal(t, int64(500), cred.DailyTokenLimit)
		assert.Equal(t, int64(2), cred.RequestsPerMinute)
		assert.Equal(t, int64(100), cred.TokensPerMinute)
	})

	t.Run("PoolFile", func(t *testing.T) {
		v := newTestViper(t)
		withCredentials(v, map[string]any{"key": "sk-inline", "name": "inline"})

		path := filepath.Join(t.TempDir(), "pool.yaml")
		content := `credentials:
  - key: sk-file-a
    name: file-a
    daily_token_limit: 2000
  - key: sk-file-b
    active: false
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		v.Set("pool.file", path)

		cfg, err := Load(ctx, v)
		require.NoError(t, err)
		require.Len(t, cfg.Pool.Credentials, 3)

		assert.Equal(t, "inline", cfg.Pool.Credentials[0].Name)
		assert.Equal(t, "file-a", cfg.Pool.Credentials[1].Name)
		assert.Equal(t, int64(2000), cfg.Pool.Credentials[1].DailyTokenLimit)
		assert.Equal(t, "Key 3", cfg.Pool.Credentials[2].Name)
		assert.False(t, cfg.Pool.Credentials[2].IsActive())
	})

	t.Run("MissingPoolFile", func(t *testing.T) {
		v := newTestViper(t)
		v.Set("pool.file", filepath.Join(t.TempDir(), "missing.yaml"))

		_, err := Load(ctx, v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read pool file")
	})

	t.Run("NilViper", func(t *testing.T) {
		_, err := Load(ctx, nil)
		require.Error(t, err)
	})
}

func TestLoadPoolEnvCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("EnvOnlyPool", func(t *testing.T) {
		v := newTestViper(t)
		t.Setenv("KEYWHEEL_POOL_CREDENTIALS_0_KEY", "sk-env-a")
		t.Setenv("KEYWHEEL_POOL_CREDENTIALS_0_NAME", "env-a")
		t.Setenv("KEYWHEEL_POOL_CREDENTIALS_1_KEY", "sk-env-b")
		t.Setenv("KEYWHEEL_POOL_CREDENTIALS_1_TOKENS_PER_MINUTE", "750")

		cfg, err := Load(ctx, v)
		require.NoError(t, err)
		require.Len(t, cfg.Pool.Credentials, 2)

		assert.Equal(t, "sk-env-a", cfg.Pool.Credentials[0].Key)
		assert.Equal(t, "env-a", cfg.Pool.Credentials[0].Name)
		assert.Equal(t, "sk-env-b", cfg.Pool.Credentials[1].Key)
		assert.Equal(t, int64(750), cfg.Pool.Credentials[1].TokensPerMinute)
	})

	t.Run("EnvMergesOntoFileEntry", func(t *testing.T) {
		v := newTestViper(t)
		withCredentials(v, map[string]any{"name": "from-file", "requests_per_minute": 7})
		t.Setenv("KEYWHEEL_POOL_CREDENTIALS_0_KEY", "sk-secret")

		cfg, err := Load(ctx, v)
		require.NoError(t, err)
		require.Len(t, cfg.Pool.Credentials, 1)

		cred := cfg.Pool.Credentials[0]
		assert.Equal(t, "sk-secret", cred.Key)
		assert.Equal(t, "from-file", cred.Name)
		assert.Equal(t, int64(7), cred.RequestsPerMinute)
	})

	t.Run("IgnoresMalformedNames", func(t *testing.T) {
		settings := map[string]any{}
		applyPoolEnvOverrides(EnvPrefix, []string{
			"KEYWHEEL_POOL_CREDENTIALS_X_KEY=bad",
			"KEYWHEEL_POOL_CREDENTIALS_0=missing-field",
			"KEYWHEEL_POOL_CREDENTIALS_0_KEY=",
			"OTHER_POOL_CREDENTIALS_0_KEY=other",
		}, settings)
		assert.Empty(t, settings)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Pool: PoolConfig{Credentials: []CredentialConfig{
			{Key: "a", Name: "A", DailyTokenLimit: 1, RequestsPerMinute: 1, TokensPerMinute: 1},
			{Key: "b", Name: "B", DailyTokenLimit: 1, RequestsPerMinute: 1, TokensPerMinute: 1},
		}}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty pool", mutate: func(c *Config) { c.Pool.Credentials = nil }, wantErr: "no credentials"},
		{name: "missing key", mutate: func(c *Config) { c.Pool.Credentials[1].Key = "" }, wantErr: "key is required"},
		{name: "duplicate key", mutate: func(c *Config) { c.Pool.Credentials[1].Key = "a" }, wantErr: "duplicate key"},
		{name: "negative limit", mutate: func(c *Config) { c.Pool.Credentials[0].TokensPerMinute = -1 }, wantErr: "limits must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	assert.Equal(t, "config.yaml", filepath.Base(DefaultConfigPath()))
	assert.Equal(t, AppName+".db", filepath.Base(DefaultStorePath()))
}

func TestEngineCredentials(t *testing.T) {
	inactive := false
	pool := PoolConfig{Credentials: []CredentialConfig{
		{Key: "k1", Name: "one", DailyTokenLimit: 100, RequestsPerMinute: 2, TokensPerMinute: 50},
		{Key: "k2", Name: "two", Active: &inactive, DailyTokenLimit: 200, RequestsPerMinute: 3, TokensPerMinute: 60},
	}}

	creds := pool.EngineCredentials()
	require.Len(t, creds, 2)
	assert.Equal(t, "k1", creds[0].Key)
	assert.True(t, creds[0].Active)
	assert.Equal(t, int64(100), creds[0].DailyTokenLimit)
	assert.False(t, creds[1].Active)
	assert.Equal(t, int64(60), creds[1].TokensPerMinute)
}

func TestLoadJournalWithoutPool(t *testing.T) {
	v := newTestViper(t)
	t.Setenv("KEYWHEEL_DB_DRIVER", "sqlite")
	t.Setenv("KEYWHEEL_DB_PATH", "/tmp/journal.db")
	t.Setenv("KEYWHEEL_POOL_FILE", "/does/not/exist.yaml")

	journal, err := LoadJournal(v)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", journal.Driver)
	assert.Equal(t, "/tmp/journal.db", journal.Path)

	_, err = LoadJournal(nil)
	require.Error(t, err)
}
