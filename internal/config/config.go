// Package config defines the node configuration and its validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by WAGERPOOL_* environment variables.
type Config struct {
	Oracle   OracleConfig   `toml:"oracle"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Pools    []PoolConfig   `toml:"pools"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OracleConfig selects how result requests leave the pool and configures
// the off-chain node that answers them.
type OracleConfig struct {
	// Driver is "stream" (Redis stream consumed by an oracle node) or
	// "mock" (in-process, answered through the API).
	Driver           string   `toml:"driver"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	PollInterval     duration `toml:"poll_interval"`
	HTTPTimeout      duration `toml:"http_timeout"`
	BatchSize        int      `toml:"batch_size"`
	MaxAttempts      int      `toml:"max_attempts"`
	// APIBase is where the node delivers fulfillments.
	APIBase    string `toml:"api_base"`
	HMACKey    string `toml:"hmac_key"`
	HMACSecret string `toml:"hmac_secret"`
}

// KeeperConfig controls the upkeep poller. In keeper mode the poller
// drives the pool host at APIBase instead of hosting pools itself.
type KeeperConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
	APIBase  string   `toml:"api_base"`
	APIKey   string   `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	CacheTTL   duration `toml:"cache_ttl"`
}

// S3Config holds settlement archive storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// BackfillCron schedules the re-archiving of settlements missing from
	// the bucket. Empty disables it.
	BackfillCron string `toml:"backfill_cron"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	APIKey            string   `toml:"api_key"`
	RequireSignatures bool     `toml:"require_signatures"`
	// RateLimit is the number of mutating requests allowed per client per
	// minute. Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with development defaults.
func Defaults() Config {
	return Config{
		Oracle: OracleConfig{
			Driver:       "stream",
			PollInterval: duration{5 * time.Second},
			HTTPTimeout:  duration{10 * time.Second},
			BatchSize:    50,
			MaxAttempts:  5,
			APIBase:      "http://localhost:8080",
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
			LockTTL:  duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerpool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			CacheTTL:   duration{10 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "wagerpool-settlements",
			ForcePathStyle: true,
			BackfillCron:   "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":  true,
	"keeper": true,
	"oracle": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsPools reports whether the mode hosts the pool registry. Only one
// process per store may host pools.
func (c *Config) RunsPools() bool {
	m := strings.ToLower(c.Mode)
	return m == "serve" || m == "full"
}

// RunsOracleNode reports whether the mode runs the off-chain oracle node.
func (c *Config) RunsOracleNode() bool {
	m := strings.ToLower(c.Mode)
	return m == "oracle" || (m == "full" && c.Oracle.Driver == "stream")
}

// Validate checks c and returns every problem found joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: serve, keeper, oracle, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Oracle.Driver {
	case "stream", "mock":
	default:
		add("oracle: driver must be stream or mock, got %q", c.Oracle.Driver)
	}
	if c.RunsOracleNode() {
		if c.Oracle.PrivateKey == "" && c.Oracle.EncryptedKeyPath == "" {
			add("oracle: either private_key or encrypted_key_path must be set for mode %s", c.Mode)
		}
		if c.Oracle.APIBase == "" {
			add("oracle: api_base must not be empty")
		}
	}
	if c.Oracle.EncryptedKeyPath != "" && c.Oracle.KeyPassword == "" {
		add("oracle: key_password is required when encrypted_key_path is set")
	}
	if (c.Oracle.HMACKey == "") != (c.Oracle.HMACSecret == "") {
		add("oracle: hmac_key and hmac_secret must be set together")
	}
	if c.Oracle.PollInterval.Duration <= 0 {
		add("oracle: poll_interval must be positive")
	}

	if strings.EqualFold(c.Mode, "keeper") && c.Keeper.APIBase == "" {
		add("keeper: api_base must not be empty in keeper mode")
	}
	if c.Keeper.Enabled || strings.EqualFold(c.Mode, "keeper") {
		if c.Keeper.Interval.Duration <= 0 {
			add("keeper: interval must be positive")
		}
		if c.Keeper.LockTTL.Duration < c.Keeper.Interval.Duration {
			add("keeper: lock_ttl must be at least interval")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	seen := make(map[string]bool, len(c.Pools))
	for i, p := range c.Pools {
		if err := p.validate(); err != nil {
			add("pools[%d]: %w", i, err)
			continue
		}
		addr := p.PoolAddress().Hex()
		if seen[addr] {
			add("pools[%d]: duplicate pool address %s", i, addr)
		}
		seen[addr] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %w", errors.Join(errs...))
	}
	return nil
}
