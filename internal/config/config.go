// Package config defines the TOML configuration schema, its defaults, and
// validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration object.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Risk      RiskConfig      `toml:"risk"`
	Execution ExecutionConfig `toml:"execution"`
	Balances  BalancesConfig  `toml:"balances"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Pairs     []PairConfig    `toml:"pairs"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// PairConfig declares one matched pair of equivalent instruments.
type PairConfig struct {
	Name              string     `toml:"name"`
	PolymarketToken   string     `toml:"polymarket_token"`
	KalshiTicker      string     `toml:"kalshi_ticker"`
	ExpiresAt         *time.Time `toml:"expires_at"`
	PolyFifteenMinute bool       `toml:"poly_fifteen_minute"`
	KalshiIndexMarket bool       `toml:"kalshi_index_market"`
}

// EngineConfig tunes spread evaluation.
type EngineConfig struct {
	MinNetProfitCents int64    `toml:"min_net_profit_cents"`
	PriceFloorCents   int64    `toml:"price_floor_cents"`
	MaxQuoteAge       duration `toml:"max_quote_age"`
	NearMissCooldown  duration `toml:"near_miss_cooldown"`
	FeedInterval      duration `toml:"feed_interval"`
	SweepInterval     duration `toml:"sweep_interval"`
}

// RiskConfig tunes the circuit breaker.
type RiskConfig struct {
	MaxDailyLossCents    int64    `toml:"max_daily_loss_cents"`
	MaxConsecutiveErrors int      `toml:"max_consecutive_errors"`
	MaxContractsPerPair  int64    `toml:"max_contracts_per_pair"`
	MaxTotalContracts    int64    `toml:"max_total_contracts"`
	MaxDailyTrades       int      `toml:"max_daily_trades"`
	AlertCooldown        duration `toml:"alert_cooldown"`
}

// ExecutionConfig tunes order placement.
type ExecutionConfig struct {
	ContractsPerTrade int64    `toml:"contracts_per_trade"`
	OrderTimeout      duration `toml:"order_timeout"`
	SimLatency        duration `toml:"sim_latency"`
	SimFailEvery      int      `toml:"sim_fail_every"`
	SimPartialEvery   int      `toml:"sim_partial_every"`
}

// BalancesConfig seeds the paper-trading balances and exit parameters.
type BalancesConfig struct {
	InitialPolymarketCents int64    `toml:"initial_polymarket_cents"`
	InitialKalshiCents     int64    `toml:"initial_kalshi_cents"`
	ResolutionGrace        duration `toml:"resolution_grace"`
	StopLossToleranceCents int64    `toml:"stop_loss_tolerance_cents"`
}

// PostgresConfig configures the optional database. An empty DSN and Host
// selects the in-memory store.
type PostgresConfig struct {
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

// Enabled reports whether a database connection is configured.
func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != "" || strings.TrimSpace(c.Host) != ""
}

// RedisConfig configures the optional quote cache.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// Enabled reports whether a Redis connection is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

// S3Config configures the optional near-miss archive target.
type S3Config struct {
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveRetention duration `toml:"archive_retention"`
	ArchiveInterval  duration `toml:"archive_interval"`
}

// Enabled reports whether archiving to object storage is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// ServerConfig configures the admin API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig configures operator alerting.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML values like "30s" decode directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration. Values here keep a bare
// config file runnable in monitor mode.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinNetProfitCents: 5,
			PriceFloorCents:   2,
			MaxQuoteAge:       duration{60 * time.Second},
			NearMissCooldown:  duration{30 * time.Second},
			FeedInterval:      duration{time.Second},
			SweepInterval:     duration{15 * time.Second},
		},
		Risk: RiskConfig{
			MaxDailyLossCents:    50_00,
			MaxConsecutiveErrors: 3,
			MaxContractsPerPair:  100,
			MaxTotalContracts:    500,
			MaxDailyTrades:       50,
			AlertCooldown:        duration{5 * time.Minute},
		},
		Execution: ExecutionConfig{
			ContractsPerTrade: 10,
			OrderTimeout:      duration{10 * time.Second},
			SimLatency:        duration{150 * time.Millisecond},
		},
		Balances: BalancesConfig{
			InitialPolymarketCents: 500_00,
			InitialKalshiCents:     500_00,
			ResolutionGrace:        duration{5 * time.Minute},
			StopLossToleranceCents: 10,
		},
		Postgres: PostgresConfig{
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:           "us-east-1",
			UseSSL:           true,
			ArchiveRetention: duration{7 * 24 * time.Hour},
			ArchiveInterval:  duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. All problems
// are reported at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one matched pair is required")
	}
	seen := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: name must not be empty", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("pairs: duplicate name %q", p.Name))
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.PolymarketToken) == "" {
			errs = append(errs, fmt.Sprintf("pairs[%s]: polymarket_token must not be empty", p.Name))
		}
		if strings.TrimSpace(p.KalshiTicker) == "" {
			errs = append(errs, fmt.Sprintf("pairs[%s]: kalshi_ticker must not be empty", p.Name))
		}
	}

	if c.Engine.MinNetProfitCents < 0 {
		errs = append(errs, "engine: min_net_profit_cents must not be negative")
	}
	if c.Engine.PriceFloorCents < 1 || c.Engine.PriceFloorCents >= 50 {
		errs = append(errs, fmt.Sprintf("engine: price_floor_cents must be in [1, 49], got %d", c.Engine.PriceFloorCents))
	}

	if c.Risk.MaxDailyLossCents <= 0 {
		errs = append(errs, "risk: max_daily_loss_cents must be positive")
	}
	if c.Risk.MaxConsecutiveErrors <= 0 {
		errs = append(errs, "risk: max_consecutive_errors must be positive")
	}

	if c.Execution.ContractsPerTrade <= 0 {
		errs = append(errs, "execution: contracts_per_trade must be positive")
	}
	if c.Execution.OrderTimeout.Duration <= 0 {
		errs = append(errs, "execution: order_timeout must be positive")
	}

	if c.Balances.InitialPolymarketCents <= 0 || c.Balances.InitialKalshiCents <= 0 {
		errs = append(errs, "balances: initial balances must be positive")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be in [1, 65535], got %d", c.Server.Port))
	}

	if (c.Notify.TelegramToken != "") != (c.Notify.TelegramChatID != "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.S3.Enabled() {
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, "s3: access_key and secret_key are required when a bucket is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
