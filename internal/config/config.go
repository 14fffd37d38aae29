// Package config resolves the server configuration. Defaults, an optional YAML or JSON
// file, DIFFUSE_* environment variables and bound command-line flags are layered
// through viper, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/diffuse/internal/logging"
	"github.com/aretw0/diffuse/pkg/domain"
)

// EnvPrefix prefixes every environment override. Nested keys join with "_", so
// redis.addr is read from DIFFUSE_REDIS_ADDR.
const EnvPrefix = "DIFFUSE"

// Config is the server configuration.
type Config struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	StreamMaxSide  int   `mapstructure:"stream_max_side" yaml:"stream_max_side"`
	OneShotMaxSide int   `mapstructure:"oneshot_max_side" yaml:"oneshot_max_side"`
	OneShotQuality int   `mapstructure:"oneshot_quality" yaml:"oneshot_quality"`
	DefaultQuality int   `mapstructure:"default_quality" yaml:"default_quality"`
	ReadLimitBytes int64 `mapstructure:"read_limit_bytes" yaml:"read_limit_bytes"`

	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// StreamStartTimeout bounds the wait for a stream's start message.
	StreamStartTimeout time.Duration `mapstructure:"stream_start_timeout" yaml:"stream_start_timeout"`
	// StreamIdleTimeout closes stream connections whose peer stops answering pings.
	StreamIdleTimeout time.Duration `mapstructure:"stream_idle_timeout" yaml:"stream_idle_timeout"`

	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig enables the Redis schedule slot when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:               ":8080",
		LogLevel:           "info",
		LogFormat:          logging.FormatText,
		StreamMaxSide:      512,
		OneShotMaxSide:     256,
		OneShotQuality:     92,
		DefaultQuality:     85,
		ReadLimitBytes:     16 << 20,
		WriteTimeout:       10 * time.Second,
		StreamStartTimeout: 30 * time.Second,
		StreamIdleTimeout:  60 * time.Second,
		Redis: RedisConfig{
			Prefix: "diffuse:",
		},
	}
}

// NewViper returns a viper instance seeded with Default and reading DIFFUSE_* variables.
// Callers may bind flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	for key, value := range map[string]any{
		"addr":                 d.Addr,
		"log_level":            d.LogLevel,
		"log_format":           d.LogFormat,
		"stream_max_side":      d.StreamMaxSide,
		"oneshot_max_side":     d.OneShotMaxSide,
		"oneshot_quality":      d.OneShotQuality,
		"default_quality":      d.DefaultQuality,
		"read_limit_bytes":     d.ReadLimitBytes,
		"write_timeout":        d.WriteTimeout,
		"stream_start_timeout": d.StreamStartTimeout,
		"stream_idle_timeout":  d.StreamIdleTimeout,
		"redis.addr":           d.Redis.Addr,
		"redis.password":       d.Redis.Password,
		"redis.db":             d.Redis.DB,
		"redis.ttl":            d.Redis.TTL,
		"redis.prefix":         d.Redis.Prefix,
	} {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads path into v and decodes the merged settings. An empty path or a missing
// file leaves the defaults in place. Files ending in .json are parsed as JSON, anything
// else as YAML.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if strings.EqualFold(filepath.Ext(path), ".json") {
			v.SetConfigType("json")
		} else {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// YAML renders c with the Redis password masked.
func (c Config) YAML() ([]byte, error) {
	if c.Redis.Password != "" {
		c.Redis.Password = "********"
	}
	return yaml.Marshal(c)
}

// Validate checks ranges. Errors are domain.ConfigError values.
func (c Config) Validate() error {
	if c.Addr == "" {
		return domain.NewConfigError("addr", "must not be empty")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return domain.NewConfigError("log_level", "%v", err)
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		return domain.NewConfigError("log_format", "must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.LogFormat)
	}
	for field, v := range map[string]int{
		"stream_max_side":  c.StreamMaxSide,
		"oneshot_max_side": c.OneShotMaxSide,
	} {
		if v < 1 {
			return domain.NewConfigError(field, "must be positive, got %d", v)
		}
	}
	for field, v := range map[string]int{
		"oneshot_quality": c.OneShotQuality,
		"default_quality": c.DefaultQuality,
	} {
		if v < 1 || v > 100 {
			return domain.NewConfigError(field, "must be in [1, 100], got %d", v)
		}
	}
	if c.ReadLimitBytes < 1 {
		return domain.NewConfigError("read_limit_bytes", "must be positive, got %d", c.ReadLimitBytes)
	}
	for field, v := range map[string]time.Duration{
		"write_timeout":        c.WriteTimeout,
		"stream_start_timeout": c.StreamStartTimeout,
		"stream_idle_timeout":  c.StreamIdleTimeout,
	} {
		if v <= 0 {
			return domain.NewConfigError(field, "must be positive, got %s", v)
		}
	}
	if c.Redis.DB < 0 {
		return domain.NewConfigError("redis.db", "must not be negative, got %d", c.Redis.DB)
	}
	if c.Redis.TTL < 0 {
		return domain.NewConfigError("redis.ttl", "must not be negative, got %s", c.Redis.TTL)
	}
	return nil
}
