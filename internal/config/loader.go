package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults and applies WAGERPOOL_*
// environment overrides. An empty path skips the file. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose WAGERPOOL_* variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStr(&cfg.Oracle.Driver, "WAGERPOOL_ORACLE_DRIVER")
	setStr(&cfg.Oracle.PrivateKey, "WAGERPOOL_ORACLE_PRIVATE_KEY")
	setStr(&cfg.Oracle.EncryptedKeyPath, "WAGERPOOL_ORACLE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Oracle.KeyPassword, "WAGERPOOL_ORACLE_KEY_PASSWORD")
	setDuration(&cfg.Oracle.PollInterval, "WAGERPOOL_ORACLE_POLL_INTERVAL")
	setDuration(&cfg.Oracle.HTTPTimeout, "WAGERPOOL_ORACLE_HTTP_TIMEOUT")
	setInt(&cfg.Oracle.BatchSize, "WAGERPOOL_ORACLE_BATCH_SIZE")
	setInt(&cfg.Oracle.MaxAttempts, "WAGERPOOL_ORACLE_MAX_ATTEMPTS")
	setStr(&cfg.Oracle.APIBase, "WAGERPOOL_ORACLE_API_BASE")
	setStr(&cfg.Oracle.HMACKey, "WAGERPOOL_ORACLE_HMAC_KEY")
	setStr(&cfg.Oracle.HMACSecret, "WAGERPOOL_ORACLE_HMAC_SECRET")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "WAGERPOOL_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.Interval, "WAGERPOOL_KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.LockTTL, "WAGERPOOL_KEEPER_LOCK_TTL")
	setStr(&cfg.Keeper.APIBase, "WAGERPOOL_KEEPER_API_BASE")
	setStr(&cfg.Keeper.APIKey, "WAGERPOOL_KEEPER_API_KEY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "WAGERPOOL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "WAGERPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WAGERPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAGERPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAGERPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAGERPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAGERPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAGERPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAGERPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAGERPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAGERPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WAGERPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAGERPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAGERPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAGERPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAGERPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAGERPOOL_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "WAGERPOOL_REDIS_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "WAGERPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "WAGERPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAGERPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAGERPOOL_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "WAGERPOOL_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "WAGERPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAGERPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAGERPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAGERPOOL_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.BackfillCron, "WAGERPOOL_S3_BACKFILL_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAGERPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAGERPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAGERPOOL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAGERPOOL_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "WAGERPOOL_SERVER_REQUIRE_SIGNATURES")
	setInt(&cfg.Server.RateLimit, "WAGERPOOL_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAGERPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAGERPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAGERPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAGERPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAGERPOOL_MODE")
	setStr(&cfg.LogLevel, "WAGERPOOL_LOG_LEVEL")
}

// Typed setters. Each only mutates the target when the variable is present,
// non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
