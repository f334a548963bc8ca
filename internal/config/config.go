// Package config defines the top-level configuration for the triangular
// arbitrage scanner and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRIARB_* environment variables.
type Config struct {
	Exchange    ExchangeConfig    `toml:"exchange"`
	Detection   DetectionConfig   `toml:"detection"`
	Aggregation AggregationConfig `toml:"aggregation"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ExchangeConfig holds market-data endpoints and feed reconnect policy.
type ExchangeConfig struct {
	RestURL              string   `toml:"rest_url"`
	WsURL                string   `toml:"ws_url"`
	HubAssets            []string `toml:"hub_assets"`
	MaxStreamsPerConn    int      `toml:"max_streams_per_conn"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	BaseBackoff          duration `toml:"base_backoff"`
	MaxBackoff           duration `toml:"max_backoff"`
	RequestsPerSecond    float64  `toml:"requests_per_second"`
}

// DetectionConfig holds profit evaluation parameters and worker sizing.
type DetectionConfig struct {
	FeePct           float64  `toml:"fee_pct"`
	MinProfitPct     float64  `toml:"min_profit_pct"`
	NearMissFloorPct float64  `toml:"near_miss_floor_pct"`
	Notional         float64  `toml:"notional"`
	CommandBuffer    int      `toml:"command_buffer"`
	EventBuffer      int      `toml:"event_buffer"`
	StatsInterval    duration `toml:"stats_interval"`
	MaxRestarts      int      `toml:"max_restarts"`
}

// AggregationConfig holds dedup/aggregation parameters.
type AggregationConfig struct {
	StaleWindow   duration `toml:"stale_window"`
	Capacity      int      `toml:"capacity"`
	RawCapacity   int      `toml:"raw_capacity"`
	FlushInterval duration `toml:"flush_interval"`
	PersistRaw    bool     `toml:"persist_raw"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// KeyPrefix namespaces keys and channels so several deployments can
	// share one Redis.
	KeyPrefix string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
	SnapshotCron  string `toml:"snapshot_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinProfitPct      float64  `toml:"min_profit_pct"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestURL:              "https://api.binance.com",
			WsURL:                "wss://stream.binance.com:9443",
			HubAssets:            []string{"USDT", "USD", "USDC", "BTC", "ETH"},
			MaxStreamsPerConn:    200,
			MaxReconnectAttempts: 5,
			BaseBackoff:          duration{time.Second},
			MaxBackoff:           duration{30 * time.Second},
			RequestsPerSecond:    5,
		},
		Detection: DetectionConfig{
			FeePct:           0.1,
			MinProfitPct:     0.1,
			NearMissFloorPct: -0.5,
			Notional:         100,
			CommandBuffer:    4096,
			EventBuffer:      4096,
			StatsInterval:    duration{time.Second},
			MaxRestarts:      3,
		},
		Aggregation: AggregationConfig{
			StaleWindow:   duration{5 * time.Minute},
			Capacity:      1000,
			RawCapacity:   1000,
			FlushInterval: duration{5 * time.Second},
			PersistRaw:    true,
		},
		Postgres: PostgresConfig{
			Enabled:       true,
			Host:          "localhost",
			Port:          5432,
			Database:      "triarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "triarb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 30,
			SnapshotCron:  "*/15 * * * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:       []string{"profitable_group", "feed_disconnected", "engine_fault"},
			MinProfitPct: 0.3,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"detect":  true,
	"server":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, detect, server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.RestURL == "" {
		errs = append(errs, "exchange: rest_url must not be empty")
	}
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if len(c.Exchange.HubAssets) == 0 {
		errs = append(errs, "exchange: hub_assets must list at least one asset")
	}
	if c.Exchange.MaxStreamsPerConn < 1 || c.Exchange.MaxStreamsPerConn > 1024 {
		errs = append(errs, fmt.Sprintf("exchange: max_streams_per_conn must be 1-1024, got %d", c.Exchange.MaxStreamsPerConn))
	}
	if c.Exchange.MaxReconnectAttempts < 0 {
		errs = append(errs, "exchange: max_reconnect_attempts must be >= 0")
	}
	if c.Exchange.BaseBackoff.Duration <= 0 || c.Exchange.MaxBackoff.Duration < c.Exchange.BaseBackoff.Duration {
		errs = append(errs, "exchange: base_backoff must be > 0 and <= max_backoff")
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		errs = append(errs, "exchange: requests_per_second must be > 0")
	}

	// Detection
	if c.Detection.Notional <= 0 {
		errs = append(errs, "detection: notional must be > 0")
	}
	if c.Detection.FeePct < 0 || c.Detection.FeePct >= 100 {
		errs = append(errs, fmt.Sprintf("detection: fee_pct must be in [0, 100), got %g", c.Detection.FeePct))
	}
	if c.Detection.NearMissFloorPct > 0 {
		errs = append(errs, "detection: near_miss_floor_pct must be <= 0")
	}
	if c.Detection.MinProfitPct < 0 {
		errs = append(errs, "detection: min_profit_pct must be >= 0")
	}
	if c.Detection.StatsInterval.Duration <= 0 {
		errs = append(errs, "detection: stats_interval must be > 0")
	}

	// Aggregation
	if c.Aggregation.StaleWindow.Duration <= 0 {
		errs = append(errs, "aggregation: stale_window must be > 0")
	}
	if c.Aggregation.Capacity < 1 {
		errs = append(errs, "aggregation: capacity must be >= 1")
	}
	if c.Aggregation.FlushInterval.Duration <= 0 {
		errs = append(errs, "aggregation: flush_interval must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 / archive
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if c.Archive.Enabled || c.Mode == "archive" {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Mode == "server" && !c.Postgres.Enabled && !c.Redis.Enabled {
		errs = append(errs, "server mode has no engine and requires postgres.enabled or redis.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Params converts the detection section into engine parameters.
func (d DetectionConfig) Params() domain.DetectionConfig {
	return domain.DetectionConfig{
		FeePct:           d.FeePct,
		MinProfitPct:     d.MinProfitPct,
		NearMissFloorPct: d.NearMissFloorPct,
		Notional:         d.Notional,
	}
}
