package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRIARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRIARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestURL, "TRIARB_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WsURL, "TRIARB_EXCHANGE_WS_URL")
	setStringSlice(&cfg.Exchange.HubAssets, "TRIARB_EXCHANGE_HUB_ASSETS")
	setInt(&cfg.Exchange.MaxStreamsPerConn, "TRIARB_EXCHANGE_MAX_STREAMS_PER_CONN")
	setInt(&cfg.Exchange.MaxReconnectAttempts, "TRIARB_EXCHANGE_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Exchange.BaseBackoff, "TRIARB_EXCHANGE_BASE_BACKOFF")
	setDuration(&cfg.Exchange.MaxBackoff, "TRIARB_EXCHANGE_MAX_BACKOFF")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "TRIARB_EXCHANGE_REQUESTS_PER_SECOND")

	// ── Detection ──
	setFloat64(&cfg.Detection.FeePct, "TRIARB_DETECTION_FEE_PCT")
	setFloat64(&cfg.Detection.MinProfitPct, "TRIARB_DETECTION_MIN_PROFIT_PCT")
	setFloat64(&cfg.Detection.NearMissFloorPct, "TRIARB_DETECTION_NEAR_MISS_FLOOR_PCT")
	setFloat64(&cfg.Detection.Notional, "TRIARB_DETECTION_NOTIONAL")
	setInt(&cfg.Detection.CommandBuffer, "TRIARB_DETECTION_COMMAND_BUFFER")
	setInt(&cfg.Detection.EventBuffer, "TRIARB_DETECTION_EVENT_BUFFER")
	setDuration(&cfg.Detection.StatsInterval, "TRIARB_DETECTION_STATS_INTERVAL")
	setInt(&cfg.Detection.MaxRestarts, "TRIARB_DETECTION_MAX_RESTARTS")

	// ── Aggregation ──
	setDuration(&cfg.Aggregation.StaleWindow, "TRIARB_AGGREGATION_STALE_WINDOW")
	setInt(&cfg.Aggregation.Capacity, "TRIARB_AGGREGATION_CAPACITY")
	setInt(&cfg.Aggregation.RawCapacity, "TRIARB_AGGREGATION_RAW_CAPACITY")
	setDuration(&cfg.Aggregation.FlushInterval, "TRIARB_AGGREGATION_FLUSH_INTERVAL")
	setBool(&cfg.Aggregation.PersistRaw, "TRIARB_AGGREGATION_PERSIST_RAW")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRIARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRIARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TRIARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRIARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRIARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRIARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRIARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRIARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRIARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRIARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRIARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRIARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRIARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRIARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRIARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRIARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRIARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRIARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TRIARB_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRIARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRIARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRIARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRIARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRIARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRIARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRIARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRIARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRIARB_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "TRIARB_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "TRIARB_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.SnapshotCron, "TRIARB_ARCHIVE_SNAPSHOT_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRIARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRIARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRIARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRIARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRIARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "TRIARB_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRIARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRIARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRIARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRIARB_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinProfitPct, "TRIARB_NOTIFY_MIN_PROFIT_PCT")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRIARB_MODE")
	setStr(&cfg.LogLevel, "TRIARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
