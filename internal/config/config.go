// Package config loads flowgate settings from an optional config file,
// FLOWGATE_* environment variables and defaults, in increasing order of
// precedence: defaults, file, environment. Command-line flags are applied
// on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FLOWGATE_STORE_DRIVER.
const EnvPrefix = "FLOWGATE"

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Mail drivers.
const (
	MailLog    = "log"
	MailOutbox = "outbox"
)

// Config is the resolved configuration.
type Config struct {
	Definition string
	LogLevel   string
	Store      StoreConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Mail       MailConfig
	Auth       AuthConfig
}

// StoreConfig selects the data store.
type StoreConfig struct {
	Driver string
	Path   string // SQLite database file
}

// RedisConfig connects the redis driver.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// CacheConfig sizes the read cache placed in front of the store.
type CacheConfig struct {
	Enabled bool
	MaxCost int64
	TTL     time.Duration
}

// MailConfig selects how sendEmail effects are delivered.
type MailConfig struct {
	Driver string
	Rate   float64 // messages per second; 0 disables limiting
	Burst  int
}

// AuthConfig verifies identity tokens.
type AuthConfig struct {
	Secret string
	Issuer string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("definition", "")
	v.SetDefault("log_level", "warn")

	v.SetDefault("store.driver", StoreSQLite)
	v.SetDefault("store.path", "flowgate.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "flowgate")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.max_cost", 10_000)
	v.SetDefault("cache.ttl", time.Minute)

	v.SetDefault("mail.driver", MailLog)
	v.SetDefault("mail.rate", 0)
	v.SetDefault("mail.burst", 1)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "")
}

// Load reads path (when non-empty) and the environment. A missing path is
// an error; an empty path means defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Definition: v.GetString("definition"),
		LogLevel:   v.GetString("log_level"),
		Store: StoreConfig{
			Driver: v.GetString("store.driver"),
			Path:   v.GetString("store.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		Cache: CacheConfig{
			Enabled: v.GetBool("cache.enabled"),
			MaxCost: v.GetInt64("cache.max_cost"),
			TTL:     v.GetDuration("cache.ttl"),
		},
		Mail: MailConfig{
			Driver: v.GetString("mail.driver"),
			Rate:   v.GetFloat64("mail.rate"),
			Burst:  v.GetInt("mail.burst"),
		},
		Auth: AuthConfig{
			Secret: v.GetString("auth.secret"),
			Issuer: v.GetString("auth.issuer"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated settings. Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains([]string{StoreSQLite, StoreMemory, StoreRedis}, c.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Driver == StoreSQLite && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path: required for the sqlite driver"))
	}
	if !slices.Contains([]string{MailLog, MailOutbox}, c.Mail.Driver) {
		errs = append(errs, fmt.Errorf("mail.driver: unknown driver %q", c.Mail.Driver))
	}
	if c.Mail.Driver == MailOutbox && c.Store.Driver == StoreRedis {
		errs = append(errs, errors.New("mail.driver: the outbox needs the sqlite or memory store"))
	}
	if c.Mail.Rate < 0 {
		errs = append(errs, fmt.Errorf("mail.rate: must not be negative, got %v", c.Mail.Rate))
	}
	if c.Mail.Rate > 0 && c.Mail.Burst < 1 {
		errs = append(errs, fmt.Errorf("mail.burst: must be at least 1, got %d", c.Mail.Burst))
	}
	if c.Cache.Enabled && c.Cache.MaxCost <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_cost: must be positive, got %d", c.Cache.MaxCost))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
