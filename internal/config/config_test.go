package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/pkg/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func load(t *testing.T, path string) (Config, error) {
	t.Helper()
	return Load(NewViper(), path)
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = load(t, filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "diffuse.yaml", `
addr: ":9090"
log_format: json
stream_max_side: 1024
write_timeout: 3s
redis:
  addr: localhost:6379
  ttl: 1h
`)
	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 1024, cfg.StreamMaxSide)
	assert.Equal(t, 3*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)

	// Untouched keys keep their defaults.
	assert.Equal(t, 256, cfg.OneShotMaxSide)
	assert.Equal(t, 30*time.Second, cfg.StreamStartTimeout)
	assert.Equal(t, "diffuse:", cfg.Redis.Prefix)
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "diffuse.json", `{"addr": ":7070", "oneshot_quality": 70, "write_timeout": "250ms"}`)
	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, 70, cfg.OneShotQuality)
	assert.Equal(t, 250*time.Millisecond, cfg.WriteTimeout)
	assert.Equal(t, 512, cfg.StreamMaxSide)
}

func TestLoad_Malformed(t *testing.T) {
	_, err := load(t, writeFile(t, "bad.yaml", "addr: [unclosed"))
	assert.Error(t, err)

	_, err = load(t, writeFile(t, "bad.json", "{"))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "diffuse.yaml", "addr: \":9090\"\nstream_max_side: 1024\n")
	t.Setenv("DIFFUSE_ADDR", ":1234")
	t.Setenv("DIFFUSE_LOG_LEVEL", "debug")
	t.Setenv("DIFFUSE_STREAM_MAX_SIDE", "128")
	t.Setenv("DIFFUSE_READ_LIMIT_BYTES", "1024")
	t.Setenv("DIFFUSE_REDIS_ADDR", "redis:6379")
	t.Setenv("DIFFUSE_REDIS_DB", "2")
	t.Setenv("DIFFUSE_REDIS_TTL", "30m")
	t.Setenv("DIFFUSE_WRITE_TIMEOUT", "5s")
	t.Setenv("DIFFUSE_STREAM_START_TIMEOUT", "2s")

	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, ":1234", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 128, cfg.StreamMaxSide)
	assert.Equal(t, int64(1024), cfg.ReadLimitBytes)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 30*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 2*time.Second, cfg.StreamStartTimeout)
	assert.Equal(t, 92, cfg.OneShotQuality)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("DIFFUSE_LOG_LEVEL", "debug")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("addr", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "error"}))

	v := NewViper()
	require.NoError(t, v.BindPFlag("log_level", flags.Lookup("log-level")))
	require.NoError(t, v.BindPFlag("addr", flags.Lookup("addr")))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
	// An unset flag does not shadow the default.
	assert.Equal(t, ":8080", cfg.Addr)
}

func TestLoad_InvalidEnv(t *testing.T) {
	for key, value := range map[string]string{
		"DIFFUSE_STREAM_MAX_SIDE":  "big",
		"DIFFUSE_WRITE_TIMEOUT":    "soon",
		"DIFFUSE_READ_LIMIT_BYTES": "1.5",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := load(t, "")
			assert.ErrorContains(t, err, "failed to decode config")
		})
	}
}

func TestYAML_MasksPassword(t *testing.T) {
	cfg := Default()
	cfg.Redis.Password = "hunter2"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "stream_max_side: 512")
	assert.Contains(t, string(out), "write_timeout: 10s")
	assert.Equal(t, "hunter2", cfg.Redis.Password)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"addr", func(c *Config) { c.Addr = "" }},
		{"log_level", func(c *Config) { c.LogLevel = "loud" }},
		{"log_format", func(c *Config) { c.LogFormat = "xml" }},
		{"stream_max_side", func(c *Config) { c.StreamMaxSide = 0 }},
		{"oneshot_quality", func(c *Config) { c.OneShotQuality = 101 }},
		{"default_quality", func(c *Config) { c.DefaultQuality = 0 }},
		{"read_limit_bytes", func(c *Config) { c.ReadLimitBytes = 0 }},
		{"write_timeout", func(c *Config) { c.WriteTimeout = 0 }},
		{"stream_start_timeout", func(c *Config) { c.StreamStartTimeout = -time.Second }},
		{"stream_idle_timeout", func(c *Config) { c.StreamIdleTimeout = 0 }},
		{"redis.db", func(c *Config) { c.Redis.DB = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
			var cfgErr *domain.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
